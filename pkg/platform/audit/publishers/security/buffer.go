package security

import (
	"sync"

	audit "shepherd/pkg/platform/audit"
)

const defaultCapacity = 4096

// ring is a bounded FIFO of security events. When full, Push evicts the
// oldest event and counts it as dropped.
type ring struct {
	mu      sync.Mutex
	slots   []audit.SecurityEvent
	start   int
	size    int
	dropped int64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ring{slots: make([]audit.SecurityEvent, capacity)}
}

// Push appends an event and reports whether an older one was evicted.
func (r *ring) Push(event audit.SecurityEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == len(r.slots) {
		r.start = (r.start + 1) % len(r.slots)
		r.size--
		r.dropped++
		evicted = true
	}
	r.slots[(r.start+r.size)%len(r.slots)] = event
	r.size++
	return evicted
}

// Pop removes up to n events in arrival order.
func (r *ring) Pop(n int) []audit.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.size {
		n = r.size
	}
	if n == 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range out {
		out[i] = r.slots[r.start]
		r.slots[r.start] = audit.SecurityEvent{}
		r.start = (r.start + 1) % len(r.slots)
	}
	r.size -= n
	return out
}

func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
