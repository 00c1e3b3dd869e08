package device

import "sync"

// HostEvent is a SharedEvent backed by host memory. Both backends use it:
// the device side signals it when an encoded signal operation executes.
type HostEvent struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
}

// NewHostEvent returns an event at value 0.
func NewHostEvent() *HostEvent {
	e := &HostEvent{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// SignaledValue returns the current value.
func (e *HostEvent) SignaledValue() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Signal raises the value. Lower values are ignored.
func (e *HostEvent) Signal(value uint64) {
	e.mu.Lock()
	if value > e.value {
		e.value = value
	}
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Wait blocks until the value is at least value.
func (e *HostEvent) Wait(value uint64) {
	e.mu.Lock()
	for e.value < value {
		e.cond.Wait()
	}
	e.mu.Unlock()
}
