// Package gcwatch reports Go garbage collection cycles as prologue/epilogue
// hook pairs.
//
// The Go runtime has no GC callbacks, so the watcher keeps a finalizer
// sentinel alive: every cycle finalizes it, the finalizer replays the cycles
// recorded by runtime/debug since the previous notification and plants a new
// sentinel. Hooks therefore fire shortly after each pause, stamped with the
// pause's own start and end times.
package gcwatch

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/hooks"
	"github.com/vitalis-app/probe/internal/hrtime"
)

// sentinel carries a pointer so it is never placed by the tiny allocator,
// whose objects may never be finalized.
type sentinel struct {
	w *Watcher
}

// Watcher implements hooks.GCPhases for the Go runtime.
type Watcher struct {
	logger *zap.Logger
	clock  func() uint64

	prolog *hooks.List
	epilog *hooks.List

	mu        sync.Mutex
	planted   bool
	lastNumGC int64
	stats     debug.GCStats
}

// New creates a watcher. Nothing is planted until the first hook registers.
func New(logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gcwatch")
	return &Watcher{
		logger: logger,
		clock:  hrtime.Now,
		prolog: hooks.NewList("gc_prolog", logger),
		epilog: hooks.NewList("gc_epilog", logger),
	}
}

var (
	defaultOnce    sync.Once
	defaultWatcher *Watcher
)

// Default returns the process-wide watcher.
func Default() *Watcher {
	defaultOnce.Do(func() {
		defaultWatcher = New(nil)
	})
	return defaultWatcher
}

// RegisterGCProlog adds a hook fired with the start time of each pause.
func (w *Watcher) RegisterGCProlog(fn hooks.Hook) hooks.Unregister {
	u := w.prolog.Add(fn)
	w.ensurePlanted()
	return u
}

// RegisterGCEpilog adds a hook fired with the end time of each pause.
func (w *Watcher) RegisterGCEpilog(fn hooks.Hook) hooks.Unregister {
	u := w.epilog.Add(fn)
	w.ensurePlanted()
	return u
}

func (w *Watcher) ensurePlanted() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.planted {
		return
	}
	debug.ReadGCStats(&w.stats)
	w.lastNumGC = w.stats.NumGC
	w.planted = true
	w.plant()
}

func (w *Watcher) plant() {
	runtime.SetFinalizer(&sentinel{w: w}, finalize)
}

func finalize(s *sentinel) {
	s.w.onCycle()
}

// onCycle runs on the runtime's finalizer goroutine.
func (w *Watcher) onCycle() {
	w.mu.Lock()
	if w.prolog.Len() == 0 && w.epilog.Len() == 0 {
		w.planted = false
		w.mu.Unlock()
		return
	}
	pauses := w.newPauses()
	w.plant()
	w.mu.Unlock()

	for _, p := range pauses {
		w.prolog.Fire(p.start)
		w.epilog.Fire(p.end)
	}
}

type pause struct {
	start, end uint64
}

// newPauses converts the cycles completed since the last call into hrtime
// stamps, oldest first. Must be called with w.mu held.
func (w *Watcher) newPauses() []pause {
	debug.ReadGCStats(&w.stats)

	n := w.stats.NumGC - w.lastNumGC
	w.lastNumGC = w.stats.NumGC
	if n <= 0 {
		return nil
	}
	if n > int64(len(w.stats.Pause)) {
		w.logger.Warn("GC history truncated, reporting cycles without timestamps",
			zap.Int64("cycles", n),
			zap.Int("available", len(w.stats.Pause)))
	}
	return pausesFrom(&w.stats, int(n), w.clock(), time.Now())
}

// pausesFrom returns the last n cycles of stats, oldest first. Cycles that
// fell out of the runtime's pause history, or that happened while the clock
// was unavailable, are stamped 0 so they are still counted.
func pausesFrom(stats *debug.GCStats, n int, now uint64, wallNow time.Time) []pause {
	out := make([]pause, 0, n)
	for i := n - 1; i >= 0; i-- {
		p := pause{}
		if now != 0 && i < len(stats.Pause) && i < len(stats.PauseEnd) {
			ago := uint64(max(wallNow.Sub(stats.PauseEnd[i]), 0))
			if ago < now {
				p.end = now - ago
			}
			d := uint64(stats.Pause[i])
			if p.end > d {
				p.start = p.end - d
			}
		}
		out = append(out, p)
	}
	return out
}
