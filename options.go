package clmtl

import (
	"log/slog"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/translate"
)

// Option configures a Context during creation.
//
// Example:
//
//	// Software device, no source compiler
//	ctx, err := clmtl.NewContext()
//
//	// GPU device and an external clspv wrapper
//	ctx, err := clmtl.NewContext(clmtl.WithDevice(dev), clmtl.WithCompiler(clspv))
type Option func(*contextOptions)

type contextOptions struct {
	dev               device.Device
	compiler          Compiler
	translator        *translate.Translator
	logger            *slog.Logger
	libraryCacheSize  int
	pipelineCacheSize int
}

// DefaultPipelineCacheSize is the number of pipeline variants a kernel
// keeps before retiring the least recently used one.
const DefaultPipelineCacheSize = 32

func defaultOptions() contextOptions {
	return contextOptions{
		libraryCacheSize:  translate.DefaultLibraryCacheSize,
		pipelineCacheSize: DefaultPipelineCacheSize,
	}
}

// WithDevice runs the context on dev. The context does not close a device
// it did not create. Without this option a software device is used.
func WithDevice(dev device.Device) Option {
	return func(o *contextOptions) {
		o.dev = dev
	}
}

// WithCompiler sets the source compiler used by Program.Compile.
func WithCompiler(c Compiler) Option {
	return func(o *contextOptions) {
		o.compiler = c
	}
}

// WithTranslator replaces the default translator, for example to plug a
// full SPIR-V cross-compiler in with translate.WithCrossCompiler.
func WithTranslator(t *translate.Translator) Option {
	return func(o *contextOptions) {
		o.translator = t
	}
}

// WithLogger gives the context its own logger instead of the package one.
func WithLogger(l *slog.Logger) Option {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// WithLibraryCacheSize bounds the number of compiled libraries.
func WithLibraryCacheSize(n int) Option {
	return func(o *contextOptions) {
		if n > 0 {
			o.libraryCacheSize = n
		}
	}
}

// WithPipelineCacheSize bounds the pipeline variants kept per kernel.
func WithPipelineCacheSize(n int) Option {
	return func(o *contextOptions) {
		if n > 0 {
			o.pipelineCacheSize = n
		}
	}
}
