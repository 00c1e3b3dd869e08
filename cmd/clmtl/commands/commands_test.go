package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl"
	"github.com/gogpu/clmtl/internal/spvtest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	orig := clmtl.Logger()
	t.Cleanup(func() { clmtl.SetLogger(orig) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vector_add.spv")
	require.NoError(t, os.WriteFile(path, spvtest.VectorAdd().Bytes(), 0o600))
	return path
}

func TestRunBuiltin(t *testing.T) {
	out, err := execute(t, "run", "--elements", "1000", "--device-workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "1000 elements")
	assert.Contains(t, out, "clmtl software device")
}

func TestRunRejectsBuiltinOnHAL(t *testing.T) {
	_, err := execute(t, "run", "--device-kind", "hal")
	assert.ErrorContains(t, err, "soft device")
}

func TestReflect(t *testing.T) {
	out, err := execute(t, "reflect", writeModule(t))
	require.NoError(t, err)
	assert.Contains(t, out, "kernel vector_add")
	assert.Contains(t, out, "1 kernel(s)")
}

func TestTranslate(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.metal")
	_, err := execute(t, "translate", writeModule(t), "-o", dst)
	require.NoError(t, err)
	msl, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(msl), "kernel void vector_add(")
}

func TestInfo(t *testing.T) {
	out, err := execute(t, "info", "--device-kind", "soft")
	require.NoError(t, err)
	assert.Contains(t, out, "max work-group size")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "info", "--logging-level", "loud")
	assert.ErrorContains(t, err, "logging.level")
}
