// Event loop collector: counts loop iterations and the time each one spent
// blocked waiting for I/O.
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

// EventLoopCollector accumulates an EventLoopWindow from the before-wait and
// after-wait phases of a host event loop.
type EventLoopCollector struct {
	phases hooks.LoopPhases
	logger *zap.Logger

	mu         sync.Mutex
	armed      bool
	generation uint64
	unregister []hooks.Unregister
	numTicks   uint64
	ioTime     uint64
	ioStart    uint64
}

// NewEventLoopCollector creates a disarmed collector over the given loop.
func NewEventLoopCollector(phases hooks.LoopPhases, logger *zap.Logger) *EventLoopCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLoopCollector{
		phases: phases,
		logger: logger.Named("eventloop"),
	}
}

// Name returns the collector identifier.
func (c *EventLoopCollector) Name() string { return "event_loop" }

// IsAvailable reports whether a loop to hook into was supplied.
func (c *EventLoopCollector) IsAvailable() bool { return c.phases != nil }

// Collect returns the current window and starts a new one.
func (c *EventLoopCollector) Collect(ctx context.Context) (interface{}, error) {
	return c.ReadAndReset(), nil
}

// Start registers the loop hooks and zeroes the window. It is a no-op when
// already armed.
func (c *EventLoopCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed || c.phases == nil {
		return
	}

	c.generation++
	gen := c.generation
	c.unregister = []hooks.Unregister{
		c.phases.RegisterBeforePhase(func(now uint64) { c.beforeWait(gen, now) }),
		c.phases.RegisterAfterPhase(func(now uint64) { c.afterWait(gen, now) }),
	}

	c.numTicks = 0
	c.ioTime = 0
	c.ioStart = 0
	c.armed = true

	c.logger.Debug("Event loop stats started")
}

// Stop unregisters the loop hooks. It is a no-op when not armed.
func (c *EventLoopCollector) Stop() {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}
	c.armed = false
	unregister := c.unregister
	c.unregister = nil
	c.mu.Unlock()

	// Outside the lock: an adapter may be firing our hooks right now.
	for _, u := range unregister {
		u()
	}

	c.logger.Debug("Event loop stats stopped")
}

// Armed reports whether the hooks are currently registered.
func (c *EventLoopCollector) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// ReadAndReset returns the accumulated window and zeroes the counters.
func (c *EventLoopCollector) ReadAndReset() models.EventLoopWindow {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := models.EventLoopWindow{
		NumTicks: c.numTicks,
		IOTime:   time.Duration(c.ioTime),
	}
	c.numTicks = 0
	c.ioTime = 0
	return w
}

func (c *EventLoopCollector) beforeWait(gen, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed || gen != c.generation {
		return
	}
	c.ioStart = now
}

func (c *EventLoopCollector) afterWait(gen, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed || gen != c.generation {
		return
	}
	c.numTicks++
	if c.ioStart > 0 {
		c.ioTime += hrtime.Elapsed(c.ioStart, now)
		c.ioStart = 0
	}
}
