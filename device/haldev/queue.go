package haldev

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/clmtl/device"
)

// commandQueue executes committed command buffers in order on one goroutine.
type commandQueue struct {
	dev *Device

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*commandBuffer
	released bool
	stopped  chan struct{}
}

func newCommandQueue(d *Device) *commandQueue {
	q := &commandQueue{dev: d, stopped: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *commandQueue) CommandBuffer() (device.CommandBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, fmt.Errorf("haldev: %w: command queue", device.ErrReleased)
	}
	return &commandBuffer{queue: q, done: make(chan struct{})}, nil
}

// Release stops the executor after the committed buffers finished.
func (q *commandQueue) Release() {
	q.mu.Lock()
	if !q.released {
		q.released = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.stopped
}

func (q *commandQueue) enqueue(cb *commandBuffer) {
	q.mu.Lock()
	q.pending = append(q.pending, cb)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *commandQueue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.released {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		cb := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		cb.execute()
	}
}

// op is one recorded operation. Exactly one of encode and host is set:
// encode ops are batched into a HAL submission, host ops run between
// submissions.
type op struct {
	encode func(s *segment) error
	host   func() error
}

type commandBuffer struct {
	queue *commandQueue

	ops       []op
	scheduled []func(device.CommandBuffer)
	completed []func(device.CommandBuffer)
	committed bool

	status atomic.Uint32
	err    error
	done   chan struct{}
}

func (cb *commandBuffer) record(o op) {
	if cb.committed {
		panic("haldev: recording into a committed command buffer")
	}
	cb.ops = append(cb.ops, o)
}

func (cb *commandBuffer) ComputeEncoder() device.ComputeEncoder {
	return &computeEncoder{cb: cb, args: newBindings()}
}

func (cb *commandBuffer) BlitEncoder() device.BlitEncoder {
	return &blitEncoder{cb: cb}
}

func (cb *commandBuffer) EncodeSignal(ev device.SharedEvent, value uint64) {
	cb.record(op{host: func() error {
		ev.Signal(value)
		return nil
	}})
}

func (cb *commandBuffer) EncodeWait(ev device.SharedEvent, value uint64) {
	cb.record(op{host: func() error {
		ev.Wait(value)
		return nil
	}})
}

func (cb *commandBuffer) AddScheduledHandler(fn func(device.CommandBuffer)) {
	cb.scheduled = append(cb.scheduled, fn)
}

func (cb *commandBuffer) AddCompletedHandler(fn func(device.CommandBuffer)) {
	cb.completed = append(cb.completed, fn)
}

func (cb *commandBuffer) Commit() {
	if cb.committed {
		return
	}
	cb.committed = true
	cb.status.Store(uint32(device.StatusCommitted))
	cb.queue.enqueue(cb)
}

func (cb *commandBuffer) WaitUntilCompleted() { <-cb.done }

func (cb *commandBuffer) Status() device.CommandBufferStatus {
	return device.CommandBufferStatus(cb.status.Load())
}

func (cb *commandBuffer) Err() error {
	select {
	case <-cb.done:
		return cb.err
	default:
		return nil
	}
}

// execute splits the operations into segments at host operations and
// submits each segment. Failures are collected; later operations still run
// so that encoded signals fire.
func (cb *commandBuffer) execute() {
	cb.status.Store(uint32(device.StatusScheduled))
	for _, fn := range cb.scheduled {
		fn(cb)
	}

	d := cb.queue.dev
	var errs []error
	var batch []func(*segment) error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		errs = append(errs, d.submit(batch)...)
		batch = batch[:0]
	}
	for _, o := range cb.ops {
		if o.host == nil {
			batch = append(batch, o.encode)
			continue
		}
		flush()
		if err := o.host(); err != nil {
			errs = append(errs, err)
		}
	}
	flush()

	cb.err = errors.Join(errs...)
	if cb.err != nil {
		d.log().Warn("haldev: command buffer failed", "err", cb.err)
		cb.status.Store(uint32(device.StatusError))
	} else {
		cb.status.Store(uint32(device.StatusCompleted))
	}
	for _, fn := range cb.completed {
		fn(cb)
	}
	close(cb.done)
}

// segment is the encoding state of one HAL submission.
type segment struct {
	dev     *Device
	encoder hal.CommandEncoder
	shared  map[*heap]struct{}
	temp    *transient
	encoded int
}

// touch marks a heap as used by the submission.
func (s *segment) touch(h *heap) {
	if h.shared() {
		s.shared[h] = struct{}{}
	}
}

// submit encodes ops into one command buffer, uploads the shadows of the
// shared heaps they touch, submits, waits for the fence and reads the
// shadows back. Ops that fail to encode are skipped.
func (d *Device) submit(ops []func(*segment) error) []error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	label := d.label("submission")
	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return []error{fmt.Errorf("haldev: create command encoder: %w", err)}
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return []error{fmt.Errorf("haldev: begin encoding: %w", err)}
	}

	s := &segment{
		dev:     d,
		encoder: encoder,
		shared:  make(map[*heap]struct{}),
		temp:    &transient{dev: d.dev},
	}
	defer s.temp.destroy()

	var errs []error
	for _, encode := range ops {
		if err := encode(s); err != nil {
			errs = append(errs, err)
			continue
		}
		s.encoded++
	}
	if s.encoded == 0 {
		encoder.DiscardEncoding()
		return errs
	}

	// Shadows go up before the submission that reads them.
	type readback struct {
		h       *heap
		staging hal.Buffer
	}
	var reads []readback
	for h := range s.shared {
		d.queue.WriteBuffer(h.buf, 0, h.shadow)
		staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: h.label + "_staging",
			Size:  uint64(len(h.shadow)),
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			encoder.DiscardEncoding()
			return append(errs, fmt.Errorf("haldev: create staging buffer: %w", err))
		}
		s.temp.buffers = append(s.temp.buffers, staging)
		encoder.CopyBufferToBuffer(h.buf, staging, []hal.BufferCopy{{
			SrcOffset: 0, DstOffset: 0, Size: uint64(len(h.shadow)),
		}})
		reads = append(reads, readback{h: h, staging: staging})
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return append(errs, fmt.Errorf("haldev: end encoding: %w", err))
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)

	fence, err := d.dev.CreateFence()
	if err != nil {
		return append(errs, fmt.Errorf("haldev: create fence: %w", err))
	}
	defer d.dev.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return append(errs, fmt.Errorf("haldev: submit: %w", err))
	}
	ok, err := d.dev.Wait(fence, 1, fenceTimeout)
	if err != nil || !ok {
		return append(errs, fmt.Errorf("haldev: wait for GPU: ok=%v err=%w", ok, err))
	}

	for _, r := range reads {
		if err := d.queue.ReadBuffer(r.staging, 0, r.h.shadow); err != nil {
			errs = append(errs, fmt.Errorf("haldev: read back %s: %w", r.h.label, err))
		}
	}
	d.log().Debug("haldev: submission completed", "label", label, "ops", s.encoded, "shared_heaps", len(reads))
	return errs
}
