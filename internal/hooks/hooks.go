// Package hooks defines the capability interfaces through which collectors
// attach to a host runtime's lifecycle events, and the hook list that
// runtime adapters use to fan those events out.
package hooks

import (
	"sync"

	"go.uber.org/zap"
)

// Hook is invoked by the host runtime when a phase boundary is reached.
// now is the runtime's monotonic timestamp in nanoseconds; zero means the
// clock could not be read.
type Hook func(now uint64)

// Unregister removes a previously registered hook. Calling it more than once
// is a no-op.
type Unregister func()

// LoopPhases is implemented by event loops that can report the two halves of
// each iteration: just before blocking for I/O and just after resuming.
type LoopPhases interface {
	RegisterBeforePhase(fn Hook) Unregister
	RegisterAfterPhase(fn Hook) Unregister
}

// GCPhases is implemented by runtimes that report garbage collection cycles.
type GCPhases interface {
	RegisterGCProlog(fn Hook) Unregister
	RegisterGCEpilog(fn Hook) Unregister
}

type entry struct {
	id uint64
	fn Hook
}

// List is an ordered set of hooks. Registration and firing may happen from
// different goroutines.
type List struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	entries []entry
}

// NewList creates an empty hook list. The name is only used in log fields.
func NewList(name string, logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &List{
		name:   name,
		logger: logger,
	}
}

// Add appends fn and returns a function that removes it again.
func (l *List) Add(fn Hook) Unregister {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id == id {
			// Copy instead of shifting in place: Fire may hold the old slice.
			next := make([]entry, 0, len(l.entries)-1)
			next = append(next, l.entries[:i]...)
			next = append(next, l.entries[i+1:]...)
			l.entries = next
			return
		}
	}
}

// Len returns the number of registered hooks.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Fire calls every registered hook in registration order. A hook that panics
// is logged and skipped; the panic never reaches the caller.
func (l *List) Fire(now uint64) {
	l.mu.Lock()
	entries := l.entries
	l.mu.Unlock()

	for _, e := range entries {
		l.call(e, now)
	}
}

func (l *List) call(e entry, now uint64) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Hook panicked, sample dropped",
				zap.String("phase", l.name),
				zap.Uint64("hook", e.id),
				zap.Any("panic", r))
		}
	}()
	e.fn(now)
}
