package clmtl

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/device/soft"
	"github.com/gogpu/clmtl/internal/spvtest"
	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

// stubTranslator emits an empty MSL kernel per reflected kernel.
func stubTranslator() *translate.Translator {
	return translate.New(translate.WithCrossCompiler(translate.CrossCompilerFunc(func(req translate.Request) (string, error) {
		var b strings.Builder
		b.WriteString("#include <metal_stdlib>\n")
		for _, k := range req.Record.Kernels {
			fmt.Fprintf(&b, "kernel void %s() {}\n", k)
		}
		return b.String(), nil
	})))
}

func programFrom(t *testing.T, ctx *Context, b *spvtest.Builder) *Program {
	t.Helper()
	p, err := NewProgramWithBinary(ctx, b.Bytes())
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func floats(vs ...float32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestNewKernelErrors(t *testing.T) {
	ctx := testContext(t, nil)

	_, err := NewKernel(NewProgram(ctx, "kernel void f() {}"), "f")
	assert.ErrorIs(t, err, ErrProgramNotBuilt)

	p := vectorAddProgram(t, ctx)
	_, err = NewKernel(p, "missing")
	assert.ErrorIs(t, err, ErrKernelNotFound)
}

func TestNewKernelPipelineFailure(t *testing.T) {
	ctx := testContext(t, nil, WithTranslator(stubTranslator()))
	b := spvtest.New()
	b.Kernel("unregistered")
	p := programFrom(t, ctx, b)

	_, err := NewKernel(p, "unregistered")
	require.ErrorIs(t, err, ErrPipelineBuildFailure)
	assert.ErrorIs(t, err, soft.ErrCompile)
}

func TestKernelQueries(t *testing.T) {
	ctx := testContext(t, nil)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")

	assert.Equal(t, "vector_add", k.Name())
	assert.Equal(t, 4, k.NumArgs())
	assert.Equal(t, 256, k.WorkGroupSize())
	assert.Equal(t, 32, k.PreferredWorkGroupSizeMultiple())
	_, ok := k.RequiredWorkGroupSize()
	assert.False(t, ok)

	stats := k.PipelineCacheStats()
	assert.Equal(t, 1, stats.Len, "the {1,1,1} variant is built eagerly")
	assert.Equal(t, uint64(1), stats.Misses)

	table := k.ArgumentTable()
	require.Len(t, table, 4)
	for i, a := range table {
		assert.Equal(t, uint32(i), a.Binding.Ordinal)
		assert.False(t, a.Set)
	}
	assert.Equal(t, reflection.ArgPodStorageBuffer, table[3].Kind)
	assert.Equal(t, "c", table[2].Binding.Name)
}

func TestSetArgValidation(t *testing.T) {
	ctx := testContext(t, nil)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")
	buf := newBuffer(t, ctx, MemReadWrite, 16)

	assert.ErrorIs(t, k.SetArg(-1, buf), ErrInvalidArgument)
	assert.ErrorIs(t, k.SetArg(4, buf), ErrInvalidArgument)
	assert.ErrorIs(t, k.SetArg(0, uint32(1)), ErrInvalidArgument)
	assert.ErrorIs(t, k.SetArg(3, buf), ErrInvalidArgument)
	assert.ErrorIs(t, k.SetArg(3, uint64(1)), ErrInvalidArgument, "size mismatch")
	assert.ErrorIs(t, k.SetArg(3, make([]byte, 65)), ErrInvalidArgument, "over the inline limit")

	require.NoError(t, k.SetArg(0, buf))
	require.NoError(t, k.SetArg(3, uint32(42)))
	table := k.ArgumentTable()
	assert.Same(t, buf, table[0].Buffer)
	assert.Equal(t, []byte{42, 0, 0, 0}, table[3].Bytes())
	assert.True(t, table[3].Set)
}

func localArgModule() *spvtest.Builder {
	b := spvtest.New()
	b.Kernel("reduce")
	b.Arg("reduce", spvtest.ArgStorageBuffer, 0, 0, 0)
	b.LocalArg("reduce", 1, 7, 4)
	b.SpecConstants(spvtest.SpecWorkgroupSize, 0, 1, 2)
	b.SpecConstants(spvtest.SpecWorkDim, 3)
	return b
}

// reduceSum stages the group's values in local memory. The last thread of
// each group stores their sum at the group's first element.
func reduceSum(th *soft.Thread) {
	local := th.Threadgroup(0)
	i := th.LocalID.Width
	binary.LittleEndian.PutUint32(local[i*4:], th.Uint32(0, th.GlobalID.Width))
	if i != th.GroupSize.Width-1 {
		return
	}
	var sum uint32
	for j := 0; j < th.GroupSize.Width; j++ {
		sum += binary.LittleEndian.Uint32(local[j*4:])
	}
	th.SetUint32(0, th.GroupID.Width*th.GroupSize.Width, sum)
}

func TestLocalArgSelectsVariant(t *testing.T) {
	ctx := testContext(t, map[string]soft.KernelFunc{"reduce": reduceSum}, WithTranslator(stubTranslator()))
	k := newKernel(t, programFrom(t, ctx, localArgModule()), "reduce")

	assert.ErrorIs(t, k.SetArg(1, LocalSize(6)), ErrInvalidArgument)
	assert.ErrorIs(t, k.SetArg(1, 64), ErrInvalidArgument, "plain int is not a local size")
	require.NoError(t, k.SetArg(1, LocalSize(64)))
	assert.Equal(t, "SPEC_CONSTANT_7=16", k.Defines())
	assert.Equal(t, 64, k.ArgumentTable()[1].LocalSize)

	before := k.PipelineCacheStats()
	libsBefore := ctx.Libraries().Stats()

	v, err := k.Pipeline(Size{Width: 16, Height: 1, Depth: 1})
	require.NoError(t, err)
	assert.Equal(t, "SPEC_CONSTANT_7=16", v.Defines)
	assert.Contains(t, v.Source, "#define SPEC_CONSTANT_7 16")
	after := k.PipelineCacheStats()
	assert.Equal(t, before.Misses+1, after.Misses)
	assert.Equal(t, libsBefore.Misses+1, ctx.Libraries().Stats().Misses, "new defines compile a new library")

	again, err := k.Pipeline(Size{Width: 16, Height: 1, Depth: 1})
	require.NoError(t, err)
	assert.Same(t, v, again)
	assert.Equal(t, after.Hits+1, k.PipelineCacheStats().Hits)
	assert.Equal(t, after.Misses, k.PipelineCacheStats().Misses)

	constant, ok := v.Pipeline.Function().Constants()[7]
	require.True(t, ok)
	assert.Equal(t, uint32(16), constant)
}

func TestLocalArgDispatch(t *testing.T) {
	ctx := testContext(t, map[string]soft.KernelFunc{"reduce": reduceSum}, WithTranslator(stubTranslator()))
	q := testQueue(t, ctx)
	k := newKernel(t, programFrom(t, ctx, localArgModule()), "reduce")

	data := make([]byte, 0, 32*4)
	for i := range 32 {
		data = binary.LittleEndian.AppendUint32(data, uint32(i))
	}
	buf := newBuffer(t, ctx, MemReadWrite, uint64(len(data)))
	_, err := q.EnqueueWriteBuffer(buf, false, 0, data)
	require.NoError(t, err)

	require.NoError(t, k.SetArg(0, buf))
	require.NoError(t, k.SetArg(1, LocalSize(16*4)))
	_, err = q.EnqueueNDRange(k, Size{}, Size{Width: 32}, Size{Width: 16})
	require.NoError(t, err)

	out := make([]byte, len(data))
	_, err = q.EnqueueReadBuffer(buf, true, 0, out)
	require.NoError(t, err)
	assert.Equal(t, uint32(0+15)*16/2, binary.LittleEndian.Uint32(out[0:]))
	assert.Equal(t, uint32(16+31)*16/2, binary.LittleEndian.Uint32(out[16*4:]))
}

func TestPipelineSpecialization(t *testing.T) {
	ctx := testContext(t, nil)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")

	tests := []struct {
		shape   Size
		workDim uint32
	}{
		{Size{Width: 64, Height: 1, Depth: 1}, 1},
		{Size{Width: 8, Height: 4, Depth: 1}, 2},
		{Size{Width: 4, Height: 4, Depth: 4}, 3},
	}
	for _, tt := range tests {
		v, err := k.Pipeline(tt.shape)
		require.NoError(t, err)
		assert.Equal(t, tt.shape, v.Shape)
		assert.Equal(t, uint32(tt.shape.Width), v.Constants[0])
		assert.Equal(t, uint32(tt.shape.Height), v.Constants[1])
		assert.Equal(t, uint32(tt.shape.Depth), v.Constants[2])
		assert.Equal(t, tt.workDim, v.Constants[3])
	}

	_, err := k.Pipeline(Size{Width: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLibraryCacheSharedAcrossShapes(t *testing.T) {
	ctx := testContext(t, nil)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")
	hits := ctx.Libraries().Stats().Hits

	_, err := k.Pipeline(Size{Width: 32, Height: 1, Depth: 1})
	require.NoError(t, err)
	_, err = k.Pipeline(Size{Width: 16, Height: 2, Depth: 1})
	require.NoError(t, err)

	assert.Equal(t, hits+2, ctx.Libraries().Stats().Hits)
	assert.Equal(t, 1, ctx.Libraries().Stats().Len)
}

func TestShapeHashDistinct(t *testing.T) {
	seen := make(map[uint64]Size)
	for w := 1; w <= 16; w++ {
		for h := 1; h <= 16; h++ {
			for d := 1; d <= 4; d++ {
				s := Size{Width: w, Height: h, Depth: d}
				hash := shapeHash(s)
				prev, dup := seen[hash]
				require.False(t, dup, "%v collides with %v", s, prev)
				seen[hash] = s
			}
		}
	}
}

func TestDeriveLocalSize(t *testing.T) {
	limits := Size{Width: 256, Height: 256, Depth: 64}
	tests := []struct {
		global   Size
		maxTotal int
		want     Size
	}{
		{Size{Width: 64}, 256, Size{Width: 64, Height: 1, Depth: 1}},
		{Size{Width: 64, Height: 1, Depth: 1}, 256, Size{Width: 64, Height: 1, Depth: 1}},
		{Size{Width: 1000}, 256, Size{Width: 250, Height: 1, Depth: 1}},
		{Size{Width: 17}, 256, Size{Width: 17, Height: 1, Depth: 1}},
		{Size{Width: 512, Height: 512}, 256, Size{Width: 256, Height: 1, Depth: 1}},
		{Size{Width: 7, Height: 9}, 4, Size{Width: 1, Height: 3, Depth: 1}},
		{Size{Width: 16, Height: 16, Depth: 16}, 256, Size{Width: 16, Height: 16, Depth: 1}},
		{Size{Width: 3}, 0, Size{Width: 1, Height: 1, Depth: 1}},
	}
	for _, tt := range tests {
		got := DeriveLocalSize(tt.global, tt.maxTotal, limits)
		assert.Equal(t, tt.want, got, "global %v", tt.global)
		assert.Positive(t, got.Width)
		assert.Positive(t, got.Height)
		assert.Positive(t, got.Depth)
	}
}

func TestVectorAddDispatch(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")

	const n = 100
	a := make([]float32, n)
	b := make([]float32, n)
	for i := range a {
		a[i] = float32(i)
		b[i] = float32(2 * i)
	}
	bufA := newBuffer(t, ctx, MemReadOnly, n*4)
	bufB := newBuffer(t, ctx, MemReadOnly|MemHostNoAccess, n*4)
	bufC := newBuffer(t, ctx, MemWriteOnly|MemHostReadOnly, n*4)
	_, err := q.EnqueueWriteBuffer(bufA, false, 0, floats(a...))
	require.NoError(t, err)
	_, err = q.EnqueueWriteBuffer(bufB, false, 0, floats(b...))
	require.NoError(t, err)

	require.NoError(t, k.SetArg(0, bufA))
	require.NoError(t, k.SetArg(1, bufB))
	require.NoError(t, k.SetArg(2, bufC))
	require.NoError(t, k.SetArg(3, uint32(n)))

	ev, err := q.EnqueueNDRange(k, Size{}, Size{Width: 128}, Size{})
	require.NoError(t, err)
	require.NoError(t, q.Finish())
	assert.Equal(t, EventComplete, ev.Status())

	got := bufC.Map()
	defer bufC.Unmap()
	for i := range n {
		v := math.Float32frombits(binary.LittleEndian.Uint32(got[i*4:]))
		require.Equal(t, float32(3*i), v, "element %d", i)
	}
}

func TestDispatchUnsetArgumentPanics(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")
	buf := newBuffer(t, ctx, MemReadWrite, 16)
	require.NoError(t, k.SetArg(0, buf))

	assert.Panics(t, func() {
		_, _ = q.EnqueueNDRange(k, Size{}, Size{Width: 4}, Size{})
	})
}

func TestDispatchValidatesSizes(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")

	_, err := q.EnqueueNDRange(k, Size{}, Size{}, Size{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueNDRange(k, Size{}, Size{Width: 1024}, Size{Width: 512})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// groupWidth records the work-group width each thread ran with.
func groupWidth(th *soft.Thread) {
	th.SetUint32(0, th.GlobalID.Width, uint32(th.GroupSize.Width))
}

func TestDispatchRequiredWorkGroupSize(t *testing.T) {
	ctx := testContext(t, map[string]soft.KernelFunc{"fixed": groupWidth}, WithTranslator(stubTranslator()))
	q := testQueue(t, ctx)
	b := spvtest.New()
	b.Kernel("fixed")
	b.Arg("fixed", spvtest.ArgStorageBuffer, 0, 0, 0)
	b.RequiredWorkGroupSize("fixed", 8, 1, 1)
	k := newKernel(t, programFrom(t, ctx, b), "fixed")

	req, ok := k.RequiredWorkGroupSize()
	require.True(t, ok)
	assert.Equal(t, Size{Width: 8, Height: 1, Depth: 1}, req)

	buf := newBuffer(t, ctx, MemReadWrite, 32*4)
	require.NoError(t, k.SetArg(0, buf))

	_, err := q.EnqueueNDRange(k, Size{}, Size{Width: 32}, Size{Width: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = q.EnqueueNDRange(k, Size{}, Size{Width: 32}, Size{})
	require.NoError(t, err)
	require.NoError(t, q.Finish())
	got := buf.Map()
	defer buf.Unmap()
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(got[31*4:]))
}

// offsetStore writes value + global size x at global id + global offset,
// reading everything from the push-constant block at index 1.
func offsetStore(th *soft.Thread) {
	push := th.Bytes(1)
	value := binary.LittleEndian.Uint32(push[0:])
	offset := int(binary.LittleEndian.Uint32(push[16:]))
	size := binary.LittleEndian.Uint32(push[32:])
	spec, _ := th.Constant(10)
	th.SetUint32(0, th.GlobalID.Width+offset, value+size+spec*1000)
}

func TestDispatchGlobalOffset(t *testing.T) {
	ctx := testContext(t, map[string]soft.KernelFunc{"store": offsetStore}, WithTranslator(stubTranslator()))
	q := testQueue(t, ctx)
	b := spvtest.New()
	b.Kernel("store")
	b.Arg("store", spvtest.ArgStorageBuffer, 0, 0, 0)
	b.PushArg("store", 1, 0, 4)
	b.PushConstant(spvtest.PushGlobalOffset, 16, 12)
	b.PushConstant(spvtest.PushGlobalSize, 32, 12)
	b.SpecConstants(spvtest.SpecGlobalOffset, 10, 11, 12)
	k := newKernel(t, programFrom(t, ctx, b), "store")

	buf := newBuffer(t, ctx, MemReadWrite, 16*4)
	require.NoError(t, k.SetArg(0, buf))
	require.NoError(t, k.SetArg(1, uint32(5)))

	_, err := q.EnqueueNDRange(k, Size{Width: 4}, Size{Width: 8}, Size{Width: 8})
	require.NoError(t, err)
	require.NoError(t, q.Finish())

	got := buf.Map()
	defer buf.Unmap()
	for i := range 16 {
		want := uint32(0)
		if i >= 4 && i < 12 {
			want = 5 + 8 + 4*1000
		}
		assert.Equal(t, want, binary.LittleEndian.Uint32(got[i*4:]), "element %d", i)
	}
}

func TestConstantDataBound(t *testing.T) {
	copyConst := func(th *soft.Thread) {
		th.SetUint32(0, th.GlobalID.Width, th.Uint32(1, th.GlobalID.Width))
	}
	ctx := testContext(t, map[string]soft.KernelFunc{"copy_const": copyConst}, WithTranslator(stubTranslator()))
	q := testQueue(t, ctx)
	b := spvtest.New()
	b.Kernel("copy_const")
	b.Arg("copy_const", spvtest.ArgStorageBuffer, 0, 0, 0)
	b.ConstantData(spvtest.ConstantDataStorage, 0, 1, "0a0000000b000000")
	k := newKernel(t, programFrom(t, ctx, b), "copy_const")

	buf := newBuffer(t, ctx, MemReadWrite, 8)
	require.NoError(t, k.SetArg(0, buf))
	_, err := q.EnqueueNDRange(k, Size{}, Size{Width: 2}, Size{})
	require.NoError(t, err)

	out := make([]byte, 8)
	_, err = q.EnqueueReadBuffer(buf, true, 0, out)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 0, 0, 11, 0, 0, 0}, out)
}

func TestDispatchReleasedBuffer(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	k := newKernel(t, vectorAddProgram(t, ctx), "vector_add")

	buf, err := NewBuffer(ctx, MemReadWrite, 16)
	require.NoError(t, err)
	for i := range 3 {
		require.NoError(t, k.SetArg(i, buf))
	}
	require.NoError(t, k.SetArg(3, uint32(4)))
	buf.Release()

	_, err = q.EnqueueNDRange(k, Size{}, Size{Width: 4}, Size{})
	assert.ErrorIs(t, err, ErrReleased)
}
