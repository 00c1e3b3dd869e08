package soft

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/clmtl/device"
)

// commandQueue executes committed command buffers on one goroutine.
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
		return nil, fmt.Errorf("soft: %w: command queue", device.ErrReleased)
	}
	return &commandBuffer{queue: q, done: make(chan struct{})}, nil
}

// Release stops the executor once the committed buffers finished.
func (q *commandQueue) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.released = true
	q.mu.Unlock()
	q.cond.Broadcast()
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

// op is one recorded operation.
type op func() error

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
		panic("soft: recording into a committed command buffer")
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
	cb.record(func() error {
		ev.Signal(value)
		return nil
	})
}

func (cb *commandBuffer) EncodeWait(ev device.SharedEvent, value uint64) {
	cb.record(func() error {
		ev.Wait(value)
		return nil
	})
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

func (cb *commandBuffer) WaitUntilCompleted() {
	<-cb.done
}

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

// execute runs on the queue goroutine. A failing operation does not stop
// the remaining ones so that encoded signals still fire.
func (cb *commandBuffer) execute() {
	cb.status.Store(uint32(device.StatusScheduled))
	for _, fn := range cb.scheduled {
		fn(cb)
	}

	var errs []error
	for _, o := range cb.ops {
		if err := o(); err != nil {
			errs = append(errs, err)
		}
	}
	cb.err = errors.Join(errs...)

	if cb.err != nil {
		cb.queue.dev.log().Warn("soft: command buffer failed", "err", cb.err)
		cb.status.Store(uint32(device.StatusError))
	} else {
		cb.status.Store(uint32(device.StatusCompleted))
	}
	for _, fn := range cb.completed {
		fn(cb)
	}
	close(cb.done)
}
