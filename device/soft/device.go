// Package soft implements a CPU reference device.
//
// Heaps are byte slices and textures are linear texel arrays. Kernels are Go
// functions registered by entry-point name; a library declares which of them
// it exposes through its "kernel void name(" signatures and fixes compile
// time constants through "#define SPEC_CONSTANT_<id> <value>" lines.
//
// Each command queue owns one executor goroutine, so command buffers run in
// commit order and handlers never run on the committing goroutine. The
// work-groups of a dispatch run concurrently on a worker pool; threads of one
// work-group run sequentially, so kernels must not rely on barriers.
package soft

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/internal/parallel"
)

// Device is the CPU reference device.
type Device struct {
	name    string
	limits  device.Limits
	pool    *parallel.WorkerPool
	kernels *Registry
	logger  atomic.Pointer[slog.Logger]

	mu     sync.Mutex
	queues []*commandQueue
	closed bool
}

type config struct {
	name     string
	workers  int
	maxTotal int
	width    int
	registry *Registry
}

// Option configures a Device.
type Option func(*config)

// WithWorkers sets the worker count used for work-groups.
// 0 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithMaxTotalThreads sets the largest work-group volume.
func WithMaxTotalThreads(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTotal = n
		}
	}
}

// WithExecutionWidth sets the reported thread execution width.
func WithExecutionWidth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.width = n
		}
	}
}

// WithRegistry replaces the kernel registry. The default is the package
// registry filled by Register.
func WithRegistry(r *Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithName sets the device name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// New creates a software device.
func New(opts ...Option) *Device {
	cfg := config{
		name:     "clmtl software device",
		maxTotal: device.DefaultMaxTotalThreads,
		width:    device.DefaultThreadExecutionWidth,
		registry: defaultRegistry,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	limits := device.DefaultLimits()
	limits.MaxTotalThreadsPerThreadgroup = cfg.maxTotal
	limits.ThreadExecutionWidth = cfg.width
	limits.MaxThreadsPerThreadgroup = device.Size{Width: cfg.maxTotal, Height: cfg.maxTotal, Depth: 64}

	d := &Device{
		name:    cfg.name,
		limits:  limits,
		pool:    parallel.NewWorkerPool(cfg.workers),
		kernels: cfg.registry,
	}
	d.logger.Store(device.NopLogger())
	return d
}

// SetLogger sets the device logger. Nil disables logging.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = device.NopLogger()
	}
	d.logger.Store(l)
}

func (d *Device) log() *slog.Logger { return d.logger.Load() }

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Limits returns the device limits.
func (d *Device) Limits() device.Limits { return d.limits }

// NewHeap allocates a zeroed heap.
func (d *Device) NewHeap(size uint64, opts device.ResourceOptions) (device.Heap, error) {
	if size == 0 {
		return nil, fmt.Errorf("soft: heap size must be positive")
	}
	if size > d.limits.MaxBufferLength {
		return nil, fmt.Errorf("soft: heap size %s exceeds limit %s",
			humanize.IBytes(size), humanize.IBytes(d.limits.MaxBufferLength))
	}
	d.log().Debug("soft: heap created", "size", humanize.IBytes(size), "storage", opts.Storage)
	return &heap{mem: make([]byte, size), opts: opts}, nil
}

// NewTexture allocates a linear texture.
func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("soft: %w: pixel format %v", device.ErrUnsupported, desc.Format)
	}
	if desc.Type == device.Texture2D {
		desc.Depth = 1
	}
	desc.Depth = max(desc.Depth, 1)
	size := desc.Size()
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("soft: invalid texture size %dx%dx%d", size.Width, size.Height, size.Depth)
	}
	return &texture{
		desc:  desc,
		pitch: uint64(desc.Width * bpp),
		texel: make([]byte, size.Volume()*bpp),
	}, nil
}

// NewSampler creates a sampler.
func (d *Device) NewSampler(desc device.SamplerDescriptor) (device.Sampler, error) {
	return &sampler{desc: desc}, nil
}

// NewSharedEvent creates a host event.
func (d *Device) NewSharedEvent() device.SharedEvent {
	return device.NewHostEvent()
}

// NewCommandQueue starts a queue executor.
func (d *Device) NewCommandQueue() (device.CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("soft: %w: device closed", device.ErrReleased)
	}
	q := newCommandQueue(d)
	d.queues = append(d.queues, q)
	return q, nil
}

// Close stops all queues after their committed work and the worker pool.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	for _, q := range queues {
		q.Release()
	}
	d.pool.Close()
	return nil
}
