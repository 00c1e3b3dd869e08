package clmtl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/clmtl/device"
)

// CommandQueue records commands into one command buffer at a time.
// Enqueue calls encode without blocking; Flush submits the recording
// buffer and WaitIdle waits for everything submitted. Commands execute in
// enqueue order.
type CommandQueue struct {
	ctx *Context
	q   device.CommandQueue

	mu        sync.Mutex
	recording device.CommandBuffer
	encoded   int
	submitted []device.CommandBuffer
	released  bool
}

// NewCommandQueue creates a queue on the context device.
func NewCommandQueue(ctx *Context) (*CommandQueue, error) {
	if err := ctx.checkLive(); err != nil {
		return nil, err
	}
	dq, err := ctx.dev.NewCommandQueue()
	if err != nil {
		return nil, fmt.Errorf("create command queue: %w", err)
	}
	cb, err := dq.CommandBuffer()
	if err != nil {
		dq.Release()
		return nil, fmt.Errorf("create command buffer: %w", err)
	}
	return &CommandQueue{ctx: ctx, q: dq, recording: cb}, nil
}

// Context returns the owning context.
func (q *CommandQueue) Context() *Context { return q.ctx }

// record encodes waits on waitList, then encode, into the recording
// buffer. With track set, the returned event follows the command through
// the buffer: queued and running once the buffer is scheduled, complete
// once it completed.
func (q *CommandQueue) record(waitList []*Event, track bool, encode func(cb device.CommandBuffer)) (*Event, error) {
	// Commands of other queues must be submitted or the wait never ends.
	for _, w := range waitList {
		if w == nil {
			return nil, fmt.Errorf("%w: nil event in wait list", ErrInvalidArgument)
		}
		if w.queue != nil && w.queue != q {
			if err := w.queue.Flush(); err != nil {
				return nil, err
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, fmt.Errorf("%w: command queue", ErrReleased)
	}
	if q.recording == nil {
		cb, err := q.q.CommandBuffer()
		if err != nil {
			return nil, fmt.Errorf("create command buffer: %w", err)
		}
		q.recording = cb
	}
	cb := q.recording

	for _, w := range waitList {
		cb.EncodeWait(w.shared, eventSignaled)
	}
	if encode != nil {
		encode(cb)
	}
	q.encoded++
	if !track {
		return nil, nil
	}

	ev := newEvent(q.ctx, q, false)
	cb.EncodeSignal(ev.shared, eventSignaled)
	cb.AddScheduledHandler(func(device.CommandBuffer) {
		ev.setStatus(EventQueued)
		ev.setStatus(EventRunning)
	})
	cb.AddCompletedHandler(func(device.CommandBuffer) {
		ev.setStatus(EventComplete)
	})
	return ev, nil
}

// Flush submits the recording buffer and starts a new one. It does
// nothing when no command was recorded.
func (q *CommandQueue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released || q.encoded == 0 {
		return nil
	}

	cb := q.recording
	cb.Commit()
	q.submitted = append(q.submitted, cb)
	q.ctx.log().Debug("clmtl: command buffer committed", "commands", q.encoded, "inFlight", len(q.submitted))
	q.encoded = 0

	next, err := q.q.CommandBuffer()
	if err != nil {
		q.recording = nil
		return fmt.Errorf("create command buffer: %w", err)
	}
	q.recording = next
	return nil
}

// WaitIdle blocks until every submitted buffer completed and forgets
// them. Execution errors of those buffers are joined into the result.
func (q *CommandQueue) WaitIdle() error {
	q.mu.Lock()
	submitted := q.submitted
	q.submitted = nil
	q.mu.Unlock()

	var errs []error
	for _, cb := range submitted {
		cb.WaitUntilCompleted()
		if err := cb.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(submitted) > 0 {
		q.ctx.log().Debug("clmtl: command buffers retired", "count", len(submitted))
	}
	return errors.Join(errs...)
}

// Finish flushes and waits until the queue is idle.
func (q *CommandQueue) Finish() error {
	if err := q.Flush(); err != nil {
		return err
	}
	return q.WaitIdle()
}

// EnqueueMarker returns an event that completes after every command
// enqueued before it and the events in waitList.
func (q *CommandQueue) EnqueueMarker(waitList ...*Event) (*Event, error) {
	return q.record(waitList, true, nil)
}

// EnqueueBarrier holds later commands until waitList completed. Commands
// of one queue already run in order, so without a wait list it only
// orders against other queues through their events.
func (q *CommandQueue) EnqueueBarrier(waitList ...*Event) error {
	_, err := q.record(waitList, false, nil)
	return err
}

// EnqueueWaitForEvents holds later commands until events completed.
func (q *CommandQueue) EnqueueWaitForEvents(events ...*Event) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: empty event list", ErrInvalidArgument)
	}
	_, err := q.record(events, false, nil)
	return err
}

// Release finishes outstanding work and releases the device queue.
func (q *CommandQueue) Release() error {
	err := q.Finish()

	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return err
	}
	q.released = true
	q.recording = nil
	q.mu.Unlock()

	q.q.Release()
	return err
}

// hold keeps allocs alive until cb completed.
func hold(cb device.CommandBuffer, allocs ...*allocation) {
	for _, a := range allocs {
		a.retain()
	}
	cb.AddCompletedHandler(func(device.CommandBuffer) {
		for _, a := range allocs {
			a.release()
		}
	})
}

// staging is a short-lived host-visible buffer for a transfer.
type staging struct {
	heap device.Heap
	buf  device.Buffer
}

func (q *CommandQueue) newStaging(size uint64) (*staging, error) {
	heap, err := q.ctx.dev.NewHeap(size, device.ResourceOptions{Storage: device.StorageShared})
	if err != nil {
		return nil, fmt.Errorf("%w: staging heap: %w", ErrAllocationFailure, err)
	}
	buf, err := heap.NewBuffer(size, 0)
	if err != nil {
		heap.Release()
		return nil, fmt.Errorf("%w: staging buffer: %w", ErrAllocationFailure, err)
	}
	return &staging{heap: heap, buf: buf}, nil
}

// releaseOnCompletion frees s after cb completed, running then first.
// The handler runs exactly once, on the device goroutine.
func (s *staging) releaseOnCompletion(cb device.CommandBuffer, then func(contents []byte)) {
	cb.AddCompletedHandler(func(done device.CommandBuffer) {
		if then != nil && done.Status() != device.StatusError {
			then(s.buf.Contents())
		}
		s.heap.Release()
	})
}
