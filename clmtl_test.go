package clmtl

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/device/soft"
	"github.com/gogpu/clmtl/internal/spvtest"
)

// testContext returns a context on a fresh software device whose registry
// holds vector_add and the given kernels.
func testContext(t *testing.T, kernels map[string]soft.KernelFunc, opts ...Option) *Context {
	t.Helper()
	reg := soft.NewRegistry()
	reg.Register("vector_add", vectorAdd)
	for name, fn := range kernels {
		reg.Register(name, fn)
	}
	dev := soft.New(soft.WithRegistry(reg), soft.WithWorkers(2))
	ctx, err := NewContext(append([]Option{WithDevice(dev)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ctx.Release())
		require.NoError(t, dev.Close())
	})
	return ctx
}

func testQueue(t *testing.T, ctx *Context) *CommandQueue {
	t.Helper()
	q, err := NewCommandQueue(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Release()) })
	return q
}

// vectorAdd computes c[i] = a[i] + b[i] for i < n.
func vectorAdd(th *soft.Thread) {
	i := th.GlobalID.Width
	if i >= int(binary.LittleEndian.Uint32(th.Bytes(3))) {
		return
	}
	th.SetFloat32(2, i, th.Float32(0, i)+th.Float32(1, i))
}

func vectorAddProgram(t *testing.T, ctx *Context) *Program {
	t.Helper()
	p, err := NewProgramWithBinary(ctx, spvtest.VectorAdd().Bytes())
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func newKernel(t *testing.T, p *Program, name string) *Kernel {
	t.Helper()
	k, err := NewKernel(p, name)
	require.NoError(t, err)
	t.Cleanup(k.Release)
	return k
}

func newBuffer(t *testing.T, ctx *Context, flags MemFlags, size uint64) *Buffer {
	t.Helper()
	b, err := NewBuffer(ctx, flags, size)
	require.NoError(t, err)
	t.Cleanup(b.Release)
	return b
}
