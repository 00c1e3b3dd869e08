package clmtl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/internal/spvtest"
)

func TestProgramBuild(t *testing.T) {
	var gotSource, gotOptions string
	compiler := CompilerFunc(func(_ context.Context, source, options string) ([]byte, string, error) {
		gotSource, gotOptions = source, options
		return spvtest.VectorAdd().Bytes(), "compiled 1 kernel", nil
	})
	ctx := testContext(t, nil, WithCompiler(compiler))

	p := NewProgram(ctx, "kernel void vector_add(")
	p.AddSource("/* tail */")
	p.SetOptions("-cl-fast-relaxed-math")
	assert.Equal(t, BuildNone, p.BuildStatus())

	require.NoError(t, p.Build(context.Background()))
	defer p.Release()

	assert.Equal(t, "kernel void vector_add(\n/* tail */", gotSource)
	assert.Equal(t, "-cl-fast-relaxed-math", gotOptions)
	assert.Equal(t, BuildSuccess, p.BuildStatus())
	assert.Equal(t, "compiled 1 kernel", p.BuildLog())
	assert.Equal(t, []string{"vector_add"}, p.KernelNames())
	assert.NotEmpty(t, p.Binary())
	assert.Contains(t, p.MSL(), "kernel void vector_add(")
	require.NotNil(t, p.Reflection())
	assert.True(t, p.Reflection().HasKernel("vector_add"))
}

func TestProgramCompileFailure(t *testing.T) {
	boom := errors.New("syntax error")
	compiler := CompilerFunc(func(context.Context, string, string) ([]byte, string, error) {
		return nil, "1 error generated", boom
	})
	ctx := testContext(t, nil, WithCompiler(compiler))

	p := NewProgram(ctx, "kernel void broken(")
	err := p.Build(context.Background())
	require.ErrorIs(t, err, ErrCompileFailure)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, BuildError, p.BuildStatus())
	assert.Empty(t, p.Binary())
	assert.Nil(t, p.Reflection())
	assert.Contains(t, p.BuildLog(), "1 error generated")
	assert.Contains(t, p.BuildLog(), "syntax error")

	_, err = NewKernel(p, "broken")
	assert.ErrorIs(t, err, ErrProgramNotBuilt)
}

func TestProgramWithoutCompiler(t *testing.T) {
	ctx := testContext(t, nil)
	err := NewProgram(ctx, "kernel void f() {}").Build(context.Background())
	assert.ErrorIs(t, err, ErrNoCompiler)
}

func TestProgramMalformedBinary(t *testing.T) {
	ctx := testContext(t, nil)

	p, err := NewProgramWithBinary(ctx, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedBinary)
	assert.Equal(t, BuildError, p.BuildStatus())

	p, err = NewProgramWithBinary(ctx, make([]byte, 8))
	require.ErrorIs(t, err, ErrMalformedBinary)
	assert.Equal(t, BuildError, p.BuildStatus())
	assert.NotEmpty(t, p.BuildLog())
}

func TestBuildStatusString(t *testing.T) {
	assert.Equal(t, "none", BuildNone.String())
	assert.Equal(t, "success", BuildSuccess.String())
	assert.Equal(t, "error", BuildError.String())
}

func TestProgramsDoNotShareLibraries(t *testing.T) {
	ctx := testContext(t, nil)
	p1 := vectorAddProgram(t, ctx)
	p2 := vectorAddProgram(t, ctx)
	assert.NotEqual(t, p1.ID(), p2.ID())

	newKernel(t, p1, "vector_add")
	newKernel(t, p2, "vector_add")
	assert.Equal(t, 2, ctx.Libraries().Stats().Len)
}
