// Package translate turns clspv SPIR-V into Metal Shading Language and
// caches the device libraries compiled from it.
//
// The SPIR-V to MSL lowering itself is done by a CrossCompiler. The
// translator owns everything around it: it derives the native binding
// table from the reflection record and hands it to the cross-compiler as
// naga msl.Options, turns literal samplers into naga inline samplers, and
// checks that every reflected kernel survived translation.
package translate

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
)

// ErrTranslationFailure is returned when a binary cannot be translated.
var ErrTranslationFailure = errors.New("translate: translation failed")

// Request is the input of a cross-compilation.
type Request struct {
	SPIRV    []uint32
	Record   *reflection.Record
	Samplers []reflection.LiteralSampler

	// Options carries the language version and, per entry point, the
	// native index of every descriptor binding. Literal samplers are
	// bound inline; Options.InlineSamplers[i] describes Samplers[i].
	Options msl.Options
}

// CrossCompiler lowers a SPIR-V module to MSL.
type CrossCompiler interface {
	CrossCompile(req Request) (string, error)
}

// CrossCompilerFunc adapts a function to CrossCompiler.
type CrossCompilerFunc func(req Request) (string, error)

// CrossCompile calls f.
func (f CrossCompilerFunc) CrossCompile(req Request) (string, error) { return f(req) }

// Translator converts binaries to MSL source.
//
// Translator is safe for concurrent use if its CrossCompiler is.
type Translator struct {
	compiler CrossCompiler
	version  msl.Version
	logger   *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithCrossCompiler replaces the default SignatureCompiler.
func WithCrossCompiler(c CrossCompiler) Option {
	return func(t *Translator) { t.compiler = c }
}

// WithLanguageVersion sets the target MSL version. Default is 2.1.
func WithLanguageVersion(v msl.Version) Option {
	return func(t *Translator) { t.version = v }
}

// WithLogger sets the logger for translation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a translator.
func New(opts ...Option) *Translator {
	t := &Translator{
		compiler: SignatureCompiler{},
		version:  msl.Version2_1,
		logger:   device.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var kernelSignature = regexp.MustCompile(`(?m)^[ \t]*kernel[ \t]+void[ \t]+([A-Za-z_]\w*)[ \t]*\(`)

// Translate converts binary to MSL. Literal samplers become constexpr
// samplers declared in the body of every kernel.
func (t *Translator) Translate(binary []uint32, samplers []reflection.LiteralSampler, rec *reflection.Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: no reflection record", ErrTranslationFailure)
	}
	entries, err := reflection.EntryPoints(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranslationFailure, err)
	}
	for _, k := range rec.Kernels {
		if !slices.Contains(entries, k) {
			return "", fmt.Errorf("%w: kernel %q has no entry point", ErrTranslationFailure, k)
		}
	}

	bindings, err := BindingMap(rec, samplers)
	if err != nil {
		return "", err
	}
	opts := msl.DefaultOptions()
	opts.LangVersion = t.version
	opts.PerEntryPointMap = bindings
	opts.InlineSamplers = InlineSamplers(samplers)

	src, err := t.compiler.CrossCompile(Request{SPIRV: binary, Record: rec, Samplers: samplers, Options: opts})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranslationFailure, err)
	}

	found := make(map[string]bool)
	for _, m := range kernelSignature.FindAllStringSubmatch(src, -1) {
		found[m[1]] = true
	}
	for _, k := range rec.Kernels {
		if !found[k] {
			return "", fmt.Errorf("%w: kernel %q missing from generated source", ErrTranslationFailure, k)
		}
	}

	t.logger.Debug("translate: binary translated",
		"kernels", len(rec.Kernels), "samplers", len(samplers), "bytes", len(src))
	return src, nil
}

// BindingMap builds the per-entry-point binding table of rec. The literal
// sampler samplers[i] is bound inline to slot i of every kernel.
func BindingMap(rec *reflection.Record, samplers []reflection.LiteralSampler) (map[string]msl.EntryPointResources, error) {
	if len(samplers) > 256 {
		return nil, fmt.Errorf("%w: %d literal samplers", ErrTranslationFailure, len(samplers))
	}
	out := make(map[string]msl.EntryPointResources, len(rec.Kernels))
	for _, kernel := range rec.Kernels {
		res := msl.EntryPointResources{Resources: make(map[ir.ResourceBinding]msl.BindTarget)}
		for _, arg := range rec.Arguments[kernel] {
			if arg.Kind == reflection.ArgPodPushConstant || arg.Kind == reflection.ArgWorkgroup {
				continue
			}
			idx, err := slot(BufferIndex(arg))
			if err != nil {
				return nil, fmt.Errorf("%w: kernel %q argument %d: %w", ErrTranslationFailure, kernel, arg.Ordinal, err)
			}
			key := ir.ResourceBinding{Group: arg.DescriptorSet, Binding: arg.Binding}
			switch {
			case arg.Kind.IsImage():
				res.Resources[key] = msl.BindTarget{Texture: idx, Mutable: arg.Kind == reflection.ArgStorageImage}
			case arg.Kind == reflection.ArgSampler:
				res.Resources[key] = msl.BindTarget{Sampler: &msl.BindSamplerTarget{Slot: *idx}}
			default:
				res.Resources[key] = msl.BindTarget{Buffer: idx, Mutable: arg.Kind == reflection.ArgStorageBuffer}
			}
		}
		for _, cd := range rec.ConstantData {
			idx, err := slot(int(cd.Binding))
			if err != nil {
				return nil, fmt.Errorf("%w: constant data: %w", ErrTranslationFailure, err)
			}
			res.Resources[ir.ResourceBinding{Group: cd.DescriptorSet, Binding: cd.Binding}] = msl.BindTarget{Buffer: idx}
		}
		if pc := PushConstantIndex(rec, kernel); pc >= 0 {
			idx, err := slot(pc)
			if err != nil {
				return nil, fmt.Errorf("%w: push constants: %w", ErrTranslationFailure, err)
			}
			res.PushConstantBuffer = idx
			res.ImmediatesBuffer = idx
		}
		for i, s := range samplers {
			key := ir.ResourceBinding{Group: s.DescriptorSet, Binding: s.Binding}
			res.Resources[key] = msl.BindTarget{Sampler: &msl.BindSamplerTarget{IsInline: true, Slot: uint8(i)}}
		}
		out[kernel] = res
	}
	return out, nil
}

func slot(i int) (*uint8, error) {
	if i < 0 || i > 255 {
		return nil, fmt.Errorf("binding index %d out of range", i)
	}
	v := uint8(i)
	return &v, nil
}

// SamplerName returns the identifier of the literal sampler at
// (set, binding).
func SamplerName(set, binding uint32) string {
	return fmt.Sprintf("clmtl_sampler_%d_%d", set, binding)
}

// InlineSamplers converts literal samplers to naga inline samplers, in
// order.
func InlineSamplers(samplers []reflection.LiteralSampler) []msl.InlineSampler {
	if len(samplers) == 0 {
		return nil
	}
	out := make([]msl.InlineSampler, len(samplers))
	for i, s := range samplers {
		is := msl.InlineSampler{
			Coord:       msl.SamplerCoordPixel,
			BorderColor: msl.SamplerBorderColorTransparentBlack,
			MagFilter:   msl.SamplerFilterLinear,
			MinFilter:   msl.SamplerFilterLinear,
		}
		if s.NormalizedCoords() {
			is.Coord = msl.SamplerCoordNormalized
		}
		if s.Filter() == reflection.FilterNearest {
			is.MagFilter = msl.SamplerFilterNearest
			is.MinFilter = msl.SamplerFilterNearest
		}
		address := msl.SamplerAddressClampToEdge
		switch s.Addressing() {
		case reflection.AddressClamp:
			address = msl.SamplerAddressClampToBorder
		case reflection.AddressRepeat:
			address = msl.SamplerAddressRepeat
		case reflection.AddressMirroredRepeat:
			address = msl.SamplerAddressMirroredRepeat
		}
		is.Address = [3]msl.SamplerAddress{address, address, address}
		out[i] = is
	}
	return out
}
