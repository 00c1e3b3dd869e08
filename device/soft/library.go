package soft

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/gogpu/clmtl/device"
)

// ErrCompile is returned when a library source is rejected.
var ErrCompile = errors.New("soft: library compilation failed")

// KernelFunc is the body of a kernel, invoked once per thread.
type KernelFunc func(t *Thread)

// Registry maps entry-point names to kernel functions.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]KernelFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]KernelFunc)}
}

// Register binds name to fn, replacing an earlier binding.
func (r *Registry) Register(name string, fn KernelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels[name] = fn
}

// Lookup returns the function bound to name.
func (r *Registry) Lookup(name string) (KernelFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.kernels[name]
	return fn, ok
}

var defaultRegistry = NewRegistry()

// Register binds a kernel in the package registry used by devices created
// without WithRegistry.
func Register(name string, fn KernelFunc) {
	defaultRegistry.Register(name, fn)
}

var (
	kernelDecl = regexp.MustCompile(`(?m)^\s*kernel\s+void\s+([A-Za-z_]\w*)\s*\(`)
	specDefine = regexp.MustCompile(`(?m)^\s*#define\s+SPEC_CONSTANT_(\d+)\s+(\d+)\s*$`)
	errorLine  = regexp.MustCompile(`(?m)^\s*#error\s+(.*)$`)
)

type library struct {
	label     string
	functions []string
	defines   device.FunctionConstants
}

// NewLibrary scans the MSL source for kernel declarations and constant
// defines. An #error directive fails the compilation.
func (d *Device) NewLibrary(src device.LibrarySource) (device.Library, error) {
	if m := errorLine.FindStringSubmatch(src.MSL); m != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCompile, src.Label, m[1])
	}

	lib := &library{label: src.Label, defines: make(device.FunctionConstants)}
	for _, m := range kernelDecl.FindAllStringSubmatch(src.MSL, -1) {
		if !slices.Contains(lib.functions, m[1]) {
			lib.functions = append(lib.functions, m[1])
		}
	}
	for _, m := range specDefine.FindAllStringSubmatch(src.MSL, -1) {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCompile, src.Label, err)
		}
		v, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCompile, src.Label, err)
		}
		lib.defines[uint32(id)] = uint32(v)
	}

	d.log().Debug("soft: library compiled", "label", src.Label, "functions", len(lib.functions))
	return lib, nil
}

func (l *library) FunctionNames() []string { return slices.Clone(l.functions) }
func (l *library) Release()                {}

func (l *library) NewFunction(name string, constants device.FunctionConstants) (device.Function, error) {
	if !slices.Contains(l.functions, name) {
		return nil, fmt.Errorf("%w: %q in library %q", device.ErrUnknownFunction, name, l.label)
	}
	merged := maps.Clone(l.defines)
	maps.Copy(merged, constants)
	return &function{name: name, constants: merged, lib: l}, nil
}

type function struct {
	name      string
	constants device.FunctionConstants
	lib       *library
}

func (f *function) Name() string                        { return f.name }
func (f *function) Constants() device.FunctionConstants { return maps.Clone(f.constants) }
func (f *function) Library() device.Library             { return f.lib }

type pipeline struct {
	fn       *function
	body     KernelFunc
	maxTotal int
	width    int
}

// NewComputePipeline binds a function to its registered Go body.
func (d *Device) NewComputePipeline(fn device.Function) (device.Pipeline, error) {
	f, ok := fn.(*function)
	if !ok {
		return nil, fmt.Errorf("soft: %w: foreign function %T", device.ErrUnsupported, fn)
	}
	body, ok := d.kernels.Lookup(f.name)
	if !ok {
		return nil, fmt.Errorf("%w: no kernel registered for %q", ErrCompile, f.name)
	}
	return &pipeline{
		fn:       f,
		body:     body,
		maxTotal: d.limits.MaxTotalThreadsPerThreadgroup,
		width:    d.limits.ThreadExecutionWidth,
	}, nil
}

func (p *pipeline) MaxTotalThreadsPerThreadgroup() int { return p.maxTotal }
func (p *pipeline) ThreadExecutionWidth() int          { return p.width }
func (p *pipeline) Function() device.Function          { return p.fn }
func (p *pipeline) Release()                           {}
