package reflection_test

import (
	"encoding/binary"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/internal/spvtest"
	"github.com/gogpu/clmtl/reflection"
)

func TestParseVectorAdd(t *testing.T) {
	rec, err := reflection.Parse(spvtest.VectorAdd().Words())
	require.NoError(t, err)

	assert.Equal(t, []string{"vector_add"}, rec.Kernels)
	args := rec.Arguments["vector_add"]
	require.Len(t, args, 4)

	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, uint32(i), args[i].Ordinal)
		assert.Equal(t, reflection.ArgStorageBuffer, args[i].Kind)
		assert.Equal(t, uint32(i), args[i].Binding)
		assert.Equal(t, name, args[i].Name)
	}
	assert.Equal(t, reflection.ArgPodStorageBuffer, args[3].Kind)
	assert.Equal(t, uint32(3), args[3].Binding)
	assert.Equal(t, uint32(4), args[3].Size)

	ids, ok := rec.SpecConstant(reflection.SpecWorkgroupSize)
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 1, 2}, ids)
	ids, ok = rec.SpecConstant(reflection.SpecWorkDim)
	require.True(t, ok)
	assert.Equal(t, []uint32{3}, ids)
}

func TestParseKernelsHaveDenseOrdinals(t *testing.T) {
	b := spvtest.New()
	kernels := map[string]int{"empty": 0, "one": 1, "many": 5}
	for name := range kernels {
		b.Kernel(name)
	}
	// Declare arguments out of order; the record sorts by ordinal.
	for name, n := range kernels {
		for i := n - 1; i >= 0; i-- {
			b.Arg(name, spvtest.ArgStorageBuffer, uint32(i), 0, uint32(i))
		}
	}

	rec, err := reflection.Parse(b.Words())
	require.NoError(t, err)
	require.Len(t, rec.Arguments, len(kernels))

	for name, n := range kernels {
		args, ok := rec.Arguments[name]
		require.True(t, ok, "kernel %q missing", name)
		require.Len(t, args, n)
		for i, arg := range args {
			assert.Equal(t, uint32(i), arg.Ordinal, "kernel %q", name)
		}
	}
	assert.Equal(t, []string{"empty", "many", "one"}, rec.KernelNames())
}

func TestParseArgumentKinds(t *testing.T) {
	b := spvtest.New()
	b.Kernel("k")
	b.Arg("k", spvtest.ArgUniform, 0, 0, 0)
	b.PodArg("k", spvtest.ArgPodUniform, 1, 0, 1, 8, 16)
	b.PushArg("k", 2, 4, 8)
	b.Arg("k", spvtest.ArgSampledImage, 3, 0, 2)
	b.Arg("k", spvtest.ArgStorageImage, 4, 0, 3)
	b.Arg("k", spvtest.ArgSampler, 5, 0, 4)
	b.LocalArg("k", 6, 7, 4)

	rec, err := reflection.Parse(b.Words())
	require.NoError(t, err)
	args := rec.Arguments["k"]
	require.Len(t, args, 7)

	want := []reflection.ArgKind{
		reflection.ArgUniformBuffer,
		reflection.ArgPodUniform,
		reflection.ArgPodPushConstant,
		reflection.ArgSampledImage,
		reflection.ArgStorageImage,
		reflection.ArgSampler,
		reflection.ArgWorkgroup,
	}
	for i, kind := range want {
		assert.Equal(t, kind, args[i].Kind, "ordinal %d", i)
	}

	assert.Equal(t, uint32(8), args[1].Offset)
	assert.Equal(t, uint32(16), args[1].Size)
	assert.Equal(t, uint32(4), args[2].Offset)
	assert.Equal(t, uint32(8), args[2].Size)
	assert.Equal(t, uint32(7), args[6].SpecID)
	assert.Equal(t, uint32(4), args[6].Size)
	assert.Equal(t, uint32(12), rec.PushConstantSize("k"))
}

func TestParseModuleScopeData(t *testing.T) {
	b := spvtest.New()
	b.Kernel("k")
	mask := reflection.SamplerMask(true, reflection.AddressRepeat, reflection.FilterNearest)
	b.Sampler(0, 5, mask)
	b.PushConstant(spvtest.PushGlobalOffset, 0, 12)
	b.PushConstant(spvtest.PushGlobalSize, 16, 12)
	b.ConstantData(spvtest.ConstantDataUniform, 0, 6, "deadbeef")
	b.RequiredWorkGroupSize("k", 8, 4, 1)
	b.SpecConstants(spvtest.SpecSubgroupMaxSize, 9)

	rec, err := reflection.Parse(b.Words())
	require.NoError(t, err)

	require.Len(t, rec.LiteralSamplers, 1)
	s := rec.LiteralSamplers[0]
	assert.Equal(t, uint32(5), s.Binding)
	assert.True(t, s.NormalizedCoords())
	assert.Equal(t, reflection.AddressRepeat, s.Addressing())
	assert.Equal(t, reflection.FilterNearest, s.Filter())

	pc, ok := rec.PushConstant(reflection.PushGlobalSize)
	require.True(t, ok)
	assert.Equal(t, uint32(16), pc.Offset)
	assert.Equal(t, uint32(28), rec.PushConstantSize("k"))

	require.Len(t, rec.ConstantData, 1)
	assert.Equal(t, reflection.ArgUniformBuffer, rec.ConstantData[0].Kind)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, rec.ConstantData[0].Data)

	assert.Equal(t, [3]uint32{8, 4, 1}, rec.RequiredWorkGroupSize["k"])
	ids, ok := rec.SpecConstant(reflection.SpecSubgroupMaxSize)
	require.True(t, ok)
	assert.Equal(t, []uint32{9}, ids)
}

func TestParseIgnoresOtherInstructionSets(t *testing.T) {
	b := spvtest.New()
	b.Kernel("k")
	// Same instruction number as ArgumentStorageBuffer in another set.
	b.Unrelated(spvtest.ArgStorageBuffer, 1, 2, 3, 4)

	rec, err := reflection.Parse(b.Words())
	require.NoError(t, err)
	assert.Empty(t, rec.Arguments["k"])
}

func TestParseUnknownIDIsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *spvtest.Builder)
	}{
		{"unknown kernel string", func(b *spvtest.Builder) {
			b.Ext(spvtest.ArgStorageBuffer, 999, b.Const(0), b.Const(0), b.Const(0))
		}},
		{"unknown constant", func(b *spvtest.Builder) {
			k := b.Kernel("k")
			b.Ext(spvtest.ArgStorageBuffer, k, 998, b.Const(0), b.Const(0))
		}},
		{"missing operand", func(b *spvtest.Builder) {
			b.Kernel("k")
			b.Ext(spvtest.LiteralSampler, b.Const(0))
		}},
		{"bad hex", func(b *spvtest.Builder) {
			b.ConstantData(spvtest.ConstantDataStorage, 0, 0, "xyz")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := spvtest.New()
			tt.build(b)
			_, err := reflection.Parse(b.Words())
			require.ErrorIs(t, err, reflection.ErrMalformedBinary)
		})
	}
}

func TestParseRejectsBrokenStreams(t *testing.T) {
	words := spvtest.VectorAdd().Words()

	_, err := reflection.Parse(words[:3])
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)

	bad := append([]uint32(nil), words...)
	bad[0] = 0x12345678
	_, err = reflection.Parse(bad)
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)

	truncated := append([]uint32(nil), words[:len(words)-1]...)
	_, err = reflection.Parse(truncated)
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)

	zero := append([]uint32(nil), words...)
	zero = append(zero, 0)
	_, err = reflection.Parse(zero)
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)
}

func TestParseBytesBothByteOrders(t *testing.T) {
	b := spvtest.VectorAdd()
	little := b.Bytes()

	rec, err := reflection.ParseBytes(little)
	require.NoError(t, err)
	assert.Len(t, rec.Arguments["vector_add"], 4)

	big := make([]byte, len(little))
	for i := 0; i < len(little); i += 4 {
		w := binary.LittleEndian.Uint32(little[i:])
		binary.LittleEndian.PutUint32(big[i:], bits.ReverseBytes32(w))
	}
	rec, err = reflection.ParseBytes(big)
	require.NoError(t, err)
	assert.Len(t, rec.Arguments["vector_add"], 4)

	_, err = reflection.ParseBytes(little[:len(little)-1])
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)
}

func TestSamplerMaskDefaultsToLinear(t *testing.T) {
	s := reflection.LiteralSampler{Mask: uint32(reflection.AddressClamp)}
	assert.False(t, s.NormalizedCoords())
	assert.Equal(t, reflection.AddressClamp, s.Addressing())
	assert.Equal(t, reflection.FilterLinear, s.Filter())
}

func TestEntryPoints(t *testing.T) {
	b := spvtest.New()
	b.Kernel("first")
	b.Kernel("second")

	names, err := reflection.EntryPoints(b.Words())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names)

	_, err = reflection.EntryPoints([]uint32{1, 2})
	require.ErrorIs(t, err, reflection.ErrMalformedBinary)
}
