// Package haldev implements the device abstraction on gogpu/wgpu HAL.
//
// A heap is one HAL storage buffer; buffers are views into it. Heaps with
// shared storage keep a host shadow copy that is uploaded before and read
// back after every submission that touches the heap, which gives the
// host-coherent behavior shared storage promises.
//
// Pipelines are created from the SPIR-V binary, one HAL pipeline per set of
// bound indices. Textures and samplers can be created and copied but not
// bound to compute kernels.
package haldev

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/clmtl/device"
)

// fenceTimeout bounds the wait for one submission.
const fenceTimeout = 5 * time.Second

// rowAlignment is the WebGPU alignment of BytesPerRow in texture copies.
const rowAlignment = 256

// Device wraps a HAL device and queue.
//
// Thread Safety: Device is safe for concurrent use. Submissions to the HAL
// queue are serialized.
type Device struct {
	dev    hal.Device
	queue  hal.Queue
	name   string
	limits device.Limits
	logger atomic.Pointer[slog.Logger]

	// owned is destroyed on Close when the device was opened by this package.
	owned interface{ Destroy() }

	// submitMu serializes queue submissions and shadow transfers.
	submitMu sync.Mutex

	// nextID numbers resources for labels. Starts at 1.
	nextID atomic.Uint64

	mu     sync.Mutex
	queues []*commandQueue
	closed bool
}

// Option configures a Device.
type Option func(*Device)

// WithName sets the device name.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithLimits replaces the WebGPU default limits.
func WithLimits(l gputypes.Limits) Option {
	return func(d *Device) { d.limits = device.LimitsFrom(l) }
}

// New wraps an open HAL device. The caller keeps ownership of dev.
func New(dev hal.Device, queue hal.Queue, opts ...Option) *Device {
	d := &Device{
		dev:    dev,
		queue:  queue,
		name:   "wgpu-hal device",
		limits: device.DefaultLimits(),
	}
	d.logger.Store(device.NopLogger())
	d.nextID.Store(1)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open creates an instance of the given backend, selects a discrete or
// integrated GPU when one exists and opens it. The backend package must be
// linked in so that it registers itself.
func Open(backend gputypes.Backend, opts ...Option) (*Device, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("haldev: backend %v not available", backend)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("haldev: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("haldev: no adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("haldev: open device: %w", err)
	}

	opts = append([]Option{WithName(selected.Info.Name), WithLimits(limits)}, opts...)
	d := New(openDev.Device, openDev.Queue, opts...)
	d.owned = closer(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return d, nil
}

type closer func()

func (c closer) Destroy() { c() }

// SetLogger sets the device logger. Nil disables logging.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = device.NopLogger()
	}
	d.logger.Store(l)
}

func (d *Device) log() *slog.Logger { return d.logger.Load() }

func (d *Device) label(kind string) string {
	return fmt.Sprintf("clmtl_%s_%d", kind, d.nextID.Add(1)-1)
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Limits returns the device limits.
func (d *Device) Limits() device.Limits { return d.limits }

// heapUsage is the usage of every heap buffer.
const heapUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// NewHeap creates a HAL buffer of size bytes rounded up to 4.
func (d *Device) NewHeap(size uint64, opts device.ResourceOptions) (device.Heap, error) {
	if size == 0 {
		return nil, fmt.Errorf("haldev: heap size must be positive")
	}
	if size > d.limits.MaxBufferLength {
		return nil, fmt.Errorf("haldev: heap size %s exceeds limit %s",
			humanize.IBytes(size), humanize.IBytes(d.limits.MaxBufferLength))
	}
	label := d.label("heap")
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  align(size, 4),
		Usage: heapUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("haldev: create heap buffer: %w", err)
	}

	h := &heap{dev: d, buf: buf, size: size, opts: opts, label: label}
	if opts.HostVisible() {
		h.shadow = make([]byte, align(size, 4))
	}
	d.log().Debug("haldev: heap created", "label", label, "size", humanize.IBytes(size), "storage", opts.Storage)
	return h, nil
}

// NewSharedEvent creates a host event signaled between submissions.
func (d *Device) NewSharedEvent() device.SharedEvent {
	return device.NewHostEvent()
}

// NewCommandQueue starts a queue executor.
func (d *Device) NewCommandQueue() (device.CommandQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("haldev: %w: device closed", device.ErrReleased)
	}
	q := newCommandQueue(d)
	d.queues = append(d.queues, q)
	return q, nil
}

// Close drains all queues and destroys the HAL device if Open created it.
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
	if d.owned != nil {
		d.owned.Destroy()
	}
	return nil
}

func align(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
