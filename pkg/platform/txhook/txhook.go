// Package txhook lets in-process stores take part in a transaction owned by
// another in-process store.
//
// The owner opens a Set, passes the returned context to its callback, and
// calls Run only after its own writes commit. A store that finds a Set in its
// context registers the write instead of applying it; if the owner rolls back
// the Set is dropped and the write never happens.
package txhook

import (
	"context"
	"sync"
)

type setKey struct{}

// Set collects writes deferred until commit.
type Set struct {
	mu  sync.Mutex
	ops []func()
}

// Open returns a context carrying a fresh Set.
func Open(ctx context.Context) (context.Context, *Set) {
	set := &Set{}
	return context.WithValue(ctx, setKey{}, set), set
}

// Defer queues op on the Set in ctx. It reports false when ctx carries no
// Set, in which case the caller applies the write itself.
func Defer(ctx context.Context, op func()) bool {
	set, ok := ctx.Value(setKey{}).(*Set)
	if !ok || set == nil {
		return false
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	set.ops = append(set.ops, op)
	return true
}

// Run applies the queued writes in order. A Set runs at most once.
func (s *Set) Run() {
	s.mu.Lock()
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()
	for _, op := range ops {
		op()
	}
}
