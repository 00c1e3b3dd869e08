package clmtl

import (
	"errors"

	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

// Errors returned by clmtl. All failures wrap one of these sentinels, so
// callers can test with errors.Is.
var (
	// ErrMalformedBinary is returned when a binary cannot be reflected.
	ErrMalformedBinary = reflection.ErrMalformedBinary

	// ErrTranslationFailure is returned when a binary cannot be
	// translated to the device shading language.
	ErrTranslationFailure = translate.ErrTranslationFailure

	// ErrPipelineBuildFailure is returned when the device rejects a
	// specialized kernel variant.
	ErrPipelineBuildFailure = errors.New("clmtl: pipeline build failed")

	// ErrAllocationFailure is returned when device memory cannot be
	// allocated or a region lies outside its parent.
	ErrAllocationFailure = errors.New("clmtl: allocation failed")

	// ErrInvalidArgument is returned for arguments the API cannot accept.
	ErrInvalidArgument = errors.New("clmtl: invalid argument")

	// ErrCompileFailure is returned when the source compiler fails.
	ErrCompileFailure = errors.New("clmtl: compilation failed")

	// ErrNoCompiler is returned by Program.Compile on a context created
	// without a Compiler.
	ErrNoCompiler = errors.New("clmtl: no compiler configured")

	// ErrProgramNotBuilt is returned when a kernel is requested from a
	// program without a successful build.
	ErrProgramNotBuilt = errors.New("clmtl: program not built")

	// ErrKernelNotFound is returned when a program has no kernel of the
	// requested name.
	ErrKernelNotFound = errors.New("clmtl: kernel not found")

	// ErrReleased is returned when a released object is used.
	ErrReleased = errors.New("clmtl: object released")
)
