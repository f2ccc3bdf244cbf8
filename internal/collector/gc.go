// GC collector: counts garbage collection cycles and their total pause time.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/hooks"
	"github.com/vitalis-app/probe/internal/hrtime"
	"github.com/vitalis-app/probe/internal/models"
)

// GCCollector accumulates a GCWindow from the prologue and epilogue
// notifications of the runtime's garbage collector.
type GCCollector struct {
	phases hooks.GCPhases
	logger *zap.Logger

	mu         sync.Mutex
	armed      bool
	generation uint64
	unregister []hooks.Unregister
	numCycles  uint64
	totalTime  uint64
	cycleStart uint64
}

// NewGCCollector creates a disarmed collector over the given GC notifier.
func NewGCCollector(phases hooks.GCPhases, logger *zap.Logger) *GCCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCCollector{
		phases: phases,
		logger: logger.Named("gc"),
	}
}

// Name returns the collector identifier.
func (c *GCCollector) Name() string { return "gc" }

// IsAvailable reports whether a GC notifier was supplied.
func (c *GCCollector) IsAvailable() bool { return c.phases != nil }

// Collect returns the current window and starts a new one.
func (c *GCCollector) Collect(ctx context.Context) (interface{}, error) {
	return c.ReadAndReset(), nil
}

// Start registers the GC hooks and zeroes the window. It is a no-op when
// already armed.
func (c *GCCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed || c.phases == nil {
		return
	}

	c.generation++
	gen := c.generation
	c.unregister = []hooks.Unregister{
		c.phases.RegisterGCProlog(func(now uint64) { c.prolog(gen, now) }),
		c.phases.RegisterGCEpilog(func(now uint64) { c.epilog(gen, now) }),
	}

	c.numCycles = 0
	c.totalTime = 0
	c.cycleStart = 0
	c.armed = true

	c.logger.Debug("GC stats started")
}

// Stop unregisters the GC hooks. It is a no-op when not armed.
func (c *GCCollector) Stop() {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}
	c.armed = false
	c.cycleStart = 0
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()

	for _, u := range unregister {
		u()
	}

	c.logger.Debug("GC stats stopped")
}

// Armed reports whether the hooks are currently registered.
func (c *GCCollector) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// ReadAndReset returns the accumulated window and zeroes the counters.
func (c *GCCollector) ReadAndReset() models.GCWindow {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := models.GCWindow{
		NumCycles: c.numCycles,
		TotalTime: time.Duration(c.totalTime),
	}
	c.numCycles = 0
	c.totalTime = 0
	return w
}

// prolog counts the cycle at its start, not on completion.
func (c *GCCollector) prolog(gen, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed || gen != c.generation {
		return
	}
	c.cycleStart = now
	c.numCycles++
}

// epilog only accounts time for a prologue seen in the same arming window.
// An epilogue without one, or one that would go backwards, adds nothing.
func (c *GCCollector) epilog(gen, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed || gen != c.generation {
		return
	}
	c.totalTime += hrtime.Elapsed(c.cycleStart, now)
	c.cycleStart = 0
}
