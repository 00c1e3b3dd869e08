package clmtl

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/clmtl/internal/cache"
	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
)

// Size is a three-dimensional extent: a work-group shape, a global range
// or an image region.
type Size = device.Size

// PipelineVariant is one compiled specialization of a kernel. Variants
// are immutable and live until the kernel is released.
type PipelineVariant struct {
	Pipeline  device.Pipeline
	Shape     Size
	Defines   string
	Constants device.FunctionConstants

	// Source is the library source the variant was built from.
	Source string
}

// variantKey is the composite pipeline cache key.
type variantKey struct {
	shape   uint64
	defines string
}

// shapeHash packs the three dimensions into 21-bit fields and mixes them.
func shapeHash(s Size) uint64 {
	const mask = 1<<21 - 1
	h := uint64(s.Width)&mask | (uint64(s.Height)&mask)<<21 | (uint64(s.Depth)&mask)<<42
	// splitmix64 finalizer
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}

// workDim is the dispatch dimension count of a shape.
func workDim(s Size) uint32 {
	switch {
	case s.Height <= 1 && s.Depth <= 1:
		return 1
	case s.Depth <= 1:
		return 2
	default:
		return 3
	}
}

// Kernel is one entry point of a built program with its argument table
// and pipeline variants.
//
// SetArg and Pipeline must not be called concurrently on one Kernel.
type Kernel struct {
	name    string
	program *Program
	record  *reflection.Record
	binary  []uint32
	msl     string

	args     []ArgValue
	variants *cache.Cache[variantKey, *PipelineVariant]

	baseline *PipelineVariant

	mu       sync.Mutex
	retired  []*PipelineVariant
	released bool
}

// NewKernel creates the kernel name of a built program and eagerly builds
// its {1,1,1} pipeline. A failure releases everything built so far.
func NewKernel(p *Program, name string) (*Kernel, error) {
	rec, binary, msl, err := p.built()
	if err != nil {
		return nil, err
	}
	if !rec.HasKernel(name) {
		return nil, fmt.Errorf("%w: %q in program %s", ErrKernelNotFound, name, p.id)
	}

	k := &Kernel{
		name:     name,
		program:  p,
		record:   rec,
		binary:   binary,
		msl:      msl,
		args:     newArgTable(rec.Arguments[name]),
		variants: cache.New[variantKey, *PipelineVariant](p.ctx.pipelineCacheSize),
	}
	k.variants.OnEvict(func(_ variantKey, v *PipelineVariant) {
		k.mu.Lock()
		k.retired = append(k.retired, v)
		k.mu.Unlock()
	})

	base, err := k.variant(Size{Width: 1, Height: 1, Depth: 1}, "")
	if err != nil {
		k.Release()
		return nil, err
	}
	k.baseline = base
	return k, nil
}

// Name returns the entry point name.
func (k *Kernel) Name() string { return k.name }

// Program returns the program the kernel was created from.
func (k *Kernel) Program() *Program { return k.program }

// NumArgs returns the number of kernel arguments.
func (k *Kernel) NumArgs() int { return len(k.args) }

// WorkGroupSize returns the largest work-group volume the kernel can be
// dispatched with.
func (k *Kernel) WorkGroupSize() int {
	return k.baseline.Pipeline.MaxTotalThreadsPerThreadgroup()
}

// PreferredWorkGroupSizeMultiple returns the SIMD width of the kernel.
func (k *Kernel) PreferredWorkGroupSizeMultiple() int {
	return k.baseline.Pipeline.ThreadExecutionWidth()
}

// RequiredWorkGroupSize returns the reqd_work_group_size attribute.
func (k *Kernel) RequiredWorkGroupSize() (Size, bool) {
	r, ok := k.record.RequiredWorkGroupSize[k.name]
	if !ok {
		return Size{}, false
	}
	return Size{Width: int(r[0]), Height: int(r[1]), Depth: int(r[2])}, true
}

// SetArg binds value to the argument at ordinal. See ArgValue for the
// value types each argument kind accepts. A LocalSize for a workgroup
// argument changes the kernel defines instead of storing data, so the
// next dispatch selects a different pipeline variant.
func (k *Kernel) SetArg(ordinal int, value any) error {
	if ordinal < 0 || ordinal >= len(k.args) {
		return fmt.Errorf("%w: kernel %q has no argument %d", ErrInvalidArgument, k.name, ordinal)
	}
	next := k.args[ordinal]
	if err := next.set(value); err != nil {
		return fmt.Errorf("kernel %q: %w", k.name, err)
	}
	k.args[ordinal] = next
	return nil
}

// ArgumentTable returns a snapshot of the bound arguments in ordinal
// order.
func (k *Kernel) ArgumentTable() []ArgValue {
	out := make([]ArgValue, len(k.args))
	copy(out, k.args)
	return out
}

// Defines returns the active defines string: the workgroup argument
// defines in ordinal order.
func (k *Kernel) Defines() string {
	var parts []string
	for i := range k.args {
		if d := k.args[i].Define; d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, " ")
}

// Pipeline returns the variant for a work-group shape under the active
// defines, building it on a miss.
func (k *Kernel) Pipeline(shape Size) (*PipelineVariant, error) {
	return k.variant(shape, k.Defines())
}

// PipelineCacheStats returns the variant cache counters.
func (k *Kernel) PipelineCacheStats() cache.Stats {
	return k.variants.Stats()
}

func (k *Kernel) variant(shape Size, defines string) (*PipelineVariant, error) {
	if shape.Width <= 0 || shape.Height <= 0 || shape.Depth <= 0 {
		return nil, fmt.Errorf("%w: work-group shape %dx%dx%d", ErrInvalidArgument, shape.Width, shape.Height, shape.Depth)
	}
	key := variantKey{shape: shapeHash(shape), defines: defines}
	hit := true
	v, err := k.variants.GetOrCreate(key, func() (*PipelineVariant, error) {
		hit = false
		return k.build(shape, defines)
	})
	if err != nil {
		return nil, err
	}
	k.program.ctx.log().Debug("clmtl: pipeline lookup",
		"kernel", k.name, "shape", shape, "defines", defines, "hit", hit)
	return v, nil
}

func (k *Kernel) build(shape Size, defines string) (*PipelineVariant, error) {
	constants := make(device.FunctionConstants)
	if ids, ok := k.record.SpecConstant(reflection.SpecWorkgroupSize); ok && len(ids) == 3 {
		constants[ids[0]] = uint32(shape.Width)
		constants[ids[1]] = uint32(shape.Height)
		constants[ids[2]] = uint32(shape.Depth)
	}
	if ids, ok := k.record.SpecConstant(reflection.SpecWorkDim); ok && len(ids) > 0 {
		constants[ids[0]] = workDim(shape)
	}

	ctx := k.program.ctx
	src := k.program.librarySource(k.msl, k.binary, defines)
	lib, err := ctx.libraries.Library(k.program.id, src)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel %q: %w", ErrPipelineBuildFailure, k.name, err)
	}
	fn, err := lib.NewFunction(k.name, constants)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel %q: %w", ErrPipelineBuildFailure, k.name, err)
	}
	p, err := ctx.dev.NewComputePipeline(fn)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel %q shape %v: %w", ErrPipelineBuildFailure, k.name, shape, err)
	}
	return &PipelineVariant{
		Pipeline:  p,
		Shape:     shape,
		Defines:   defines,
		Constants: constants,
		Source:    src.MSL,
	}, nil
}

// Release frees every pipeline variant of the kernel.
func (k *Kernel) Release() {
	k.mu.Lock()
	if k.released {
		k.mu.Unlock()
		return
	}
	k.released = true
	k.mu.Unlock()

	k.variants.Clear()
	k.mu.Lock()
	retired := k.retired
	k.retired = nil
	k.mu.Unlock()
	for _, v := range retired {
		v.Pipeline.Release()
	}
}
