package haldev

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
)

type library struct {
	dev       *Device
	label     string
	module    hal.ShaderModule
	functions []string

	once sync.Once
}

// NewLibrary creates a shader module from the SPIR-V binary. The MSL text
// is not used; HAL consumes SPIR-V directly.
func (d *Device) NewLibrary(src device.LibrarySource) (device.Library, error) {
	if len(src.SPIRV) == 0 {
		return nil, fmt.Errorf("haldev: %w: library %q has no SPIR-V", device.ErrUnsupported, src.Label)
	}
	names, err := reflection.EntryPoints(src.SPIRV)
	if err != nil {
		return nil, fmt.Errorf("haldev: library %q: %w", src.Label, err)
	}
	label := src.Label
	if label == "" {
		label = d.label("library")
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: src.SPIRV},
	})
	if err != nil {
		return nil, fmt.Errorf("haldev: create shader module %q: %w", label, err)
	}
	d.log().Debug("haldev: library created", "label", label, "functions", names)
	return &library{dev: d, label: label, module: module, functions: names}, nil
}

func (l *library) FunctionNames() []string { return slices.Clone(l.functions) }

func (l *library) Release() {
	l.once.Do(func() { l.dev.dev.DestroyShaderModule(l.module) })
}

func (l *library) NewFunction(name string, constants device.FunctionConstants) (device.Function, error) {
	if !slices.Contains(l.functions, name) {
		return nil, fmt.Errorf("%w: %q in library %q", device.ErrUnknownFunction, name, l.label)
	}
	return &function{name: name, constants: maps.Clone(constants), lib: l}, nil
}

type function struct {
	name      string
	constants device.FunctionConstants
	lib       *library
}

func (f *function) Name() string                        { return f.name }
func (f *function) Constants() device.FunctionConstants { return maps.Clone(f.constants) }
func (f *function) Library() device.Library             { return f.lib }

// pipeline creates one HAL pipeline per set of bound indices on first use.
// The function constants are passed to HAL as pipeline-overridable
// constants keyed by specialization id.
type pipeline struct {
	dev       *Device
	fn        *function
	constants map[string]float64
	constKey  string

	mu       sync.Mutex
	variants map[string]*variantResources
}

// NewComputePipeline returns a pipeline whose HAL objects are created at
// the first dispatch, when the bound indices are known.
func (d *Device) NewComputePipeline(fn device.Function) (device.Pipeline, error) {
	f, ok := fn.(*function)
	if !ok {
		return nil, fmt.Errorf("haldev: %w: foreign function %T", device.ErrUnsupported, fn)
	}
	constants, key := pipelineConstants(f.constants)
	return &pipeline{
		dev:       d,
		fn:        f,
		constants: constants,
		constKey:  key,
		variants:  make(map[string]*variantResources),
	}, nil
}

func (p *pipeline) MaxTotalThreadsPerThreadgroup() int { return p.dev.limits.MaxTotalThreadsPerThreadgroup }
func (p *pipeline) ThreadExecutionWidth() int          { return p.dev.limits.ThreadExecutionWidth }
func (p *pipeline) Function() device.Function          { return p.fn }

func (p *pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.variants {
		v.Destroy()
	}
	clear(p.variants)
}

// variant returns the HAL pipeline for the sorted binding indices.
func (p *pipeline) variant(indices []int) (*variantResources, error) {
	key := signature(indices)
	if p.constKey != "" {
		key += "@" + p.constKey
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.variants[key]; ok {
		return v, nil
	}

	d := p.dev
	res := &variantResources{Device: d.dev}
	label := fmt.Sprintf("%s_%s", p.fn.name, signature(indices))

	entries := make([]gputypes.BindGroupLayoutEntry, len(indices))
	for i, idx := range indices {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(idx),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}
	var err error
	res.BindLayout, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		res.Destroy()
		return nil, fmt.Errorf("haldev: create bind group layout: %w", err)
	}
	res.PipelineLayout, err = d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{res.BindLayout},
	})
	if err != nil {
		res.Destroy()
		return nil, fmt.Errorf("haldev: create pipeline layout: %w", err)
	}
	res.Pipeline, err = d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: res.PipelineLayout,
		Compute: hal.ComputeState{
			Module:     p.fn.lib.module,
			EntryPoint: p.fn.name,
			Constants:  maps.Clone(p.constants),
		},
	})
	if err != nil {
		res.Destroy()
		return nil, fmt.Errorf("haldev: create compute pipeline %q: %w", p.fn.name, err)
	}

	p.variants[key] = res
	d.log().Debug("haldev: pipeline variant created", "function", p.fn.name, "variant", key, "constants", len(p.constants))
	return res, nil
}

func signature(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "_")
}

// pipelineConstants converts specialization constants to HAL pipeline
// constants and a stable key for them.
func pipelineConstants(c device.FunctionConstants) (map[string]float64, string) {
	if len(c) == 0 {
		return nil, ""
	}
	out := make(map[string]float64, len(c))
	parts := make([]string, 0, len(c))
	for _, id := range slices.Sorted(maps.Keys(c)) {
		k := strconv.FormatUint(uint64(id), 10)
		out[k] = float64(c[id])
		parts = append(parts, k+"="+strconv.FormatUint(uint64(c[id]), 10))
	}
	return out, strings.Join(parts, ",")
}
