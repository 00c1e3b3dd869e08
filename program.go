package clmtl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

// Compiler turns OpenCL C source into a clspv SPIR-V binary. It is an
// external collaborator, typically a wrapper around the clspv tool.
type Compiler interface {
	// Compile returns the binary and the build log. The log is kept even
	// when err is non-nil.
	Compile(ctx context.Context, source, options string) (binary []byte, log string, err error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, source, options string) ([]byte, string, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, source, options string) ([]byte, string, error) {
	return f(ctx, source, options)
}

// BuildStatus is the result of the last build attempt.
type BuildStatus int

// Build states.
const (
	BuildNone BuildStatus = iota
	BuildSuccess
	BuildError
)

// String returns the status name.
func (s BuildStatus) String() string {
	switch s {
	case BuildNone:
		return "none"
	case BuildSuccess:
		return "success"
	case BuildError:
		return "error"
	default:
		return fmt.Sprintf("BuildStatus(%d)", s)
	}
}

// Program holds kernel source, its binary and the reflection of a
// successful build.
type Program struct {
	id  uuid.UUID
	ctx *Context

	mu      sync.Mutex
	sources []string
	options string
	binary  []uint32
	status  BuildStatus
	log     strings.Builder
	record  *reflection.Record
	msl     string

	constOnce sync.Once
	constBufs []constantBuffer
	constErr  error
}

// constantBuffer is a module-scope constant blob uploaded for dispatch.
type constantBuffer struct {
	index int
	buf   *Buffer
}

// NewProgram creates a program from source strings.
func NewProgram(ctx *Context, sources ...string) *Program {
	return &Program{id: uuid.New(), ctx: ctx, sources: sources}
}

// NewProgramWithBinary creates a program from a SPIR-V binary and links
// it. On failure the program is returned with status BuildError.
func NewProgramWithBinary(ctx *Context, binary []byte) (*Program, error) {
	p := &Program{id: uuid.New(), ctx: ctx}
	words, err := reflection.Words(binary)
	if err != nil {
		p.fail(err)
		return p, fmt.Errorf("program %s: %w", p.id, err)
	}
	p.binary = words
	return p, p.Link()
}

// ID returns the program identity used in library cache keys.
func (p *Program) ID() uuid.UUID { return p.id }

// Context returns the owning context.
func (p *Program) Context() *Context { return p.ctx }

// AddSource appends source text. It has no effect on a built program
// until the next build.
func (p *Program) AddSource(src string) {
	p.mu.Lock()
	p.sources = append(p.sources, src)
	p.mu.Unlock()
}

// Source returns the concatenated source text.
func (p *Program) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.sources, "\n")
}

// SetOptions sets the compiler options.
func (p *Program) SetOptions(options string) {
	p.mu.Lock()
	p.options = options
	p.mu.Unlock()
}

// Options returns the compiler options.
func (p *Program) Options() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.options
}

// Compile runs the context compiler on the source.
func (p *Program) Compile(ctx context.Context) error {
	if p.ctx.compiler == nil {
		return ErrNoCompiler
	}
	src, opts := p.Source(), p.Options()

	bin, log, err := p.ctx.compiler.Compile(ctx, src, opts)
	p.mu.Lock()
	p.log.Reset()
	p.log.WriteString(log)
	p.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCompileFailure, err)
		p.fail(err)
		return err
	}

	words, err := reflection.Words(bin)
	if err != nil {
		p.fail(err)
		return fmt.Errorf("program %s: %w", p.id, err)
	}
	p.mu.Lock()
	p.binary = words
	p.status = BuildNone
	p.mu.Unlock()
	return nil
}

// Link reflects and translates the binary. The first failure leaves the
// binary empty and the status BuildError.
func (p *Program) Link() error {
	p.mu.Lock()
	binary := p.binary
	p.mu.Unlock()
	if len(binary) == 0 {
		err := fmt.Errorf("%w: program has no binary", ErrInvalidArgument)
		p.fail(err)
		return err
	}

	rec, err := reflection.Parse(binary)
	if err != nil {
		p.fail(err)
		return fmt.Errorf("program %s: %w", p.id, err)
	}
	src, err := p.ctx.translator.Translate(binary, rec.LiteralSamplers, rec)
	if err != nil {
		p.fail(err)
		return fmt.Errorf("program %s: %w", p.id, err)
	}

	p.mu.Lock()
	p.record = rec
	p.msl = src
	p.status = BuildSuccess
	p.mu.Unlock()
	p.ctx.log().Debug("clmtl: program linked", "program", p.id, "kernels", len(rec.Kernels))
	return nil
}

// Build compiles and links the program.
func (p *Program) Build(ctx context.Context) error {
	if err := p.Compile(ctx); err != nil {
		return err
	}
	return p.Link()
}

func (p *Program) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.binary = nil
	p.record = nil
	p.msl = ""
	p.status = BuildError
	if p.log.Len() > 0 {
		p.log.WriteByte('\n')
	}
	p.log.WriteString(err.Error())
}

// BuildStatus returns the status of the last build.
func (p *Program) BuildStatus() BuildStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// BuildLog returns the compiler log and any build error text.
func (p *Program) BuildLog() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.String()
}

// Binary returns the SPIR-V words of the program.
func (p *Program) Binary() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.binary
}

// Reflection returns the reflection record of a built program.
func (p *Program) Reflection() *reflection.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record
}

// MSL returns the translated source without defines.
func (p *Program) MSL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msl
}

// KernelNames returns the kernel names of a built program.
func (p *Program) KernelNames() []string {
	rec := p.Reflection()
	if rec == nil {
		return nil
	}
	return rec.KernelNames()
}

// built returns the state kernels need, or ErrProgramNotBuilt.
func (p *Program) built() (*reflection.Record, []uint32, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != BuildSuccess {
		return nil, nil, "", fmt.Errorf("%w: status %s", ErrProgramNotBuilt, p.status)
	}
	return p.record, p.binary, p.msl, nil
}

// constantData uploads the module-scope constant blobs once.
func (p *Program) constantData() ([]constantBuffer, error) {
	p.constOnce.Do(func() {
		rec := p.Reflection()
		for _, cd := range rec.ConstantData {
			if len(cd.Data) == 0 {
				continue
			}
			buf, err := NewBuffer(p.ctx, MemReadOnly|MemHostWriteOnly, uint64(len(cd.Data)))
			if err != nil {
				p.constErr = fmt.Errorf("constant data binding %d: %w", cd.Binding, err)
				return
			}
			copy(buf.buf.Contents(), cd.Data)
			p.constBufs = append(p.constBufs, constantBuffer{index: int(cd.Binding), buf: buf})
		}
	})
	return p.constBufs, p.constErr
}

// librarySource returns the library input for a define set.
func (p *Program) librarySource(msl string, binary []uint32, defines string) device.LibrarySource {
	return device.LibrarySource{
		Label: p.id.String(),
		MSL:   translate.InjectDefines(msl, defines),
		SPIRV: binary,
	}
}

// Release frees the constant data buffers.
func (p *Program) Release() {
	for _, cb := range p.constBufs {
		cb.buf.Release()
	}
	p.constBufs = nil
}
