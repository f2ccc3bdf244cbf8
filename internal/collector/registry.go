package collector

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/hooks"
)

// Capabilities are the host runtime adapters the registry builds its
// collectors on. A nil capability leaves the matching collector unavailable.
type Capabilities struct {
	Loop       hooks.LoopPhases
	GC         hooks.GCPhases
	Heap       HeapSource
	CPU        CPUSampler
	Allocation AllocationSampler
}

// Registry owns the single instance of every runtime collector and
// orchestrates concurrent collection of the pollable ones.
type Registry struct {
	EventLoop  *EventLoopCollector
	GC         *GCCollector
	Heap       *HeapReader
	CPU        *CPUProfiler
	Allocation *AllocationProfiler

	collectors []Collector
	logger     *zap.Logger

	closeOnce sync.Once
}

// NewRegistry creates the runtime collectors over caps, all disarmed, and
// registers the pollable ones.
func NewRegistry(caps Capabilities, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		EventLoop:  NewEventLoopCollector(caps.Loop, logger),
		GC:         NewGCCollector(caps.GC, logger),
		Heap:       NewHeapReader(caps.Heap),
		CPU:        NewCPUProfiler(caps.CPU, logger),
		Allocation: NewAllocationProfiler(caps.Allocation, logger),
		collectors: make([]Collector, 0),
		logger:     logger,
	}

	r.Register(r.Heap)
	r.Register(r.GC)
	r.Register(r.EventLoop)
	return r
}

// Register adds a collector if it's available in the current runtime.
// Unavailable collectors are logged and skipped.
func (r *Registry) Register(c Collector) {
	if c.IsAvailable() {
		r.collectors = append(r.collectors, c)
		r.logger.Info("Registered collector", zap.String("name", c.Name()))
	} else {
		r.logger.Warn("Collector not available, skipping", zap.String("name", c.Name()))
	}
}

// CollectAll runs all registered collectors concurrently and returns a map
// of collector name -> result data. Failed collectors are logged but do not
// prevent other collectors from completing.
func (r *Registry) CollectAll(ctx context.Context) map[string]interface{} {
	results := make(map[string]interface{})
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range r.collectors {
		wg.Add(1)
		go func(col Collector) {
			defer wg.Done()
			data, err := col.Collect(ctx)
			if err != nil {
				r.logger.Error("Collection failed",
					zap.String("collector", col.Name()),
					zap.Error(err))
				return
			}
			mu.Lock()
			results[col.Name()] = data
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return results
}

// Collectors returns a copy of all registered collectors.
func (r *Registry) Collectors() []Collector {
	result := make([]Collector, len(r.collectors))
	copy(result, r.collectors)
	return result
}

// Close disarms every collector and profiler. It is safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		for _, a := range []Armable{r.EventLoop, r.GC, r.CPU, r.Allocation} {
			a.Stop()
		}
		r.logger.Info("Collectors closed")
	})
}
