package clmtl

import (
	"fmt"
	"sync"

	"github.com/gogpu/clmtl/device"
)

// EventStatus is the execution state of the command an event tracks.
// States only move forward.
type EventStatus int

// Event states, in order.
const (
	EventUnset EventStatus = iota
	EventQueued
	EventRunning
	EventComplete
)

// String returns the status name.
func (s EventStatus) String() string {
	switch s {
	case EventUnset:
		return "unset"
	case EventQueued:
		return "queued"
	case EventRunning:
		return "running"
	case EventComplete:
		return "complete"
	default:
		return fmt.Sprintf("EventStatus(%d)", s)
	}
}

// EventCallback is called when an event reaches a status.
type EventCallback func(ev *Event, status EventStatus)

// eventSignaled is the shared event value of a completed command.
const eventSignaled = 1

// Event tracks one enqueued command or a user-controlled condition.
// Device-side waits use the shared event; host waits and callbacks use the
// status.
type Event struct {
	ctx    *Context
	queue  *CommandQueue
	shared device.SharedEvent
	user   bool

	mu        sync.Mutex
	status    EventStatus
	callbacks map[EventStatus][]EventCallback
	done      chan struct{}
}

func newEvent(ctx *Context, q *CommandQueue, user bool) *Event {
	return &Event{
		ctx:    ctx,
		queue:  q,
		shared: ctx.dev.NewSharedEvent(),
		user:   user,
		done:   make(chan struct{}),
	}
}

// NewUserEvent creates an event completed by the host through SetStatus.
func NewUserEvent(ctx *Context) (*Event, error) {
	if err := ctx.checkLive(); err != nil {
		return nil, err
	}
	return newEvent(ctx, nil, true), nil
}

// Status returns the current status.
func (e *Event) Status() EventStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Queue returns the queue the event was enqueued on, nil for user events.
func (e *Event) Queue() *CommandQueue { return e.queue }

// SetStatus moves a user event forward. Completing it releases commands
// waiting on it.
func (e *Event) SetStatus(s EventStatus) error {
	if !e.user {
		return fmt.Errorf("%w: SetStatus on a command event", ErrInvalidArgument)
	}
	if s < EventUnset || s > EventComplete {
		return fmt.Errorf("%w: event status %d", ErrInvalidArgument, s)
	}
	e.setStatus(s)
	return nil
}

// SetCallback registers fn for status. If the event already reached
// status, fn runs immediately on the calling goroutine; otherwise it runs
// on the goroutine that performs the transition.
func (e *Event) SetCallback(status EventStatus, fn EventCallback) error {
	if status <= EventUnset || status > EventComplete {
		return fmt.Errorf("%w: callback status %s", ErrInvalidArgument, status)
	}
	e.mu.Lock()
	if e.status >= status {
		e.mu.Unlock()
		fn(e, status)
		return nil
	}
	if e.callbacks == nil {
		e.callbacks = make(map[EventStatus][]EventCallback)
	}
	e.callbacks[status] = append(e.callbacks[status], fn)
	e.mu.Unlock()
	return nil
}

// setStatus advances the event and runs the callbacks of every status it
// passes through, in order. Waiters are released after the callbacks ran.
func (e *Event) setStatus(s EventStatus) {
	e.mu.Lock()
	old := e.status
	if s <= old {
		e.mu.Unlock()
		return
	}
	e.status = s
	var run []struct {
		status EventStatus
		fns    []EventCallback
	}
	for st := old + 1; st <= s; st++ {
		if fns := e.callbacks[st]; len(fns) > 0 {
			run = append(run, struct {
				status EventStatus
				fns    []EventCallback
			}{st, fns})
			delete(e.callbacks, st)
		}
	}
	e.mu.Unlock()

	for _, r := range run {
		for _, fn := range r.fns {
			fn(e, r.status)
		}
	}
	if s == EventComplete {
		e.shared.Signal(eventSignaled)
		close(e.done)
	}
}

// Wait blocks until the event completes.
func (e *Event) Wait() {
	if e.queue != nil {
		// A command that was never flushed would never complete.
		if err := e.queue.Flush(); err != nil {
			e.ctx.log().Warn("clmtl: flush before event wait failed", "err", err)
		}
	}
	<-e.done
}

// Done returns a channel closed when the event completes.
func (e *Event) Done() <-chan struct{} { return e.done }

// WaitForEvents blocks until every event completes.
func WaitForEvents(events ...*Event) {
	for _, e := range events {
		if e != nil {
			e.Wait()
		}
	}
}
