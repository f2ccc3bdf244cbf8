// Package probe instruments the hosting Go process: heap occupancy, garbage
// collection and event loop activity, CPU profiling and allocation sampling.
//
// A Probe owns one instance of every collector. Windowed statistics are armed
// with the Start methods and drained with the ReadAndReset methods; the
// caller decides the reporting cadence.
package probe

import (
	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/collector"
	"github.com/vitalis-app/probe/internal/dispatch"
	"github.com/vitalis-app/probe/internal/eventloop"
	"github.com/vitalis-app/probe/internal/gcwatch"
	"github.com/vitalis-app/probe/internal/goruntime"
	"github.com/vitalis-app/probe/internal/hooks"
	"github.com/vitalis-app/probe/internal/models"
)

type (
	EventLoopWindow = models.EventLoopWindow
	GCWindow        = models.GCWindow
	HeapSnapshot    = models.HeapSnapshot
	SpaceStat       = models.SpaceStat
	AllocationNode  = models.AllocationNode

	Hook       = hooks.Hook
	Unregister = hooks.Unregister
	LoopPhases = hooks.LoopPhases
	GCPhases   = hooks.GCPhases
)

// ErrUnknownOperation is returned by Invoke for names that are not registered.
var ErrUnknownOperation = dispatch.ErrUnknownOperation

// Options selects the runtime capabilities the probe is built on. Nil fields
// fall back to the Go runtime adapters.
type Options struct {
	Logger *zap.Logger

	Loop       LoopPhases
	GC         GCPhases
	Heap       collector.HeapSource
	CPU        collector.CPUSampler
	Allocation collector.AllocationSampler
}

// Probe is the embedding application's handle on the collectors.
type Probe struct {
	registry   *collector.Registry
	dispatcher *dispatch.Dispatcher
	cpu        *goruntime.CPUProfiler
	logger     *zap.Logger
}

// New creates a probe with every collector disarmed.
func New(opts Options) *Probe {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("probe")

	p := &Probe{logger: logger}

	caps := collector.Capabilities{
		Loop:       opts.Loop,
		GC:         opts.GC,
		Heap:       opts.Heap,
		CPU:        opts.CPU,
		Allocation: opts.Allocation,
	}
	if caps.Loop == nil {
		caps.Loop = eventloop.Default()
	}
	if caps.GC == nil {
		caps.GC = gcwatch.Default()
	}
	if caps.Heap == nil {
		caps.Heap = goruntime.NewHeapSource()
	}
	if caps.CPU == nil {
		p.cpu = goruntime.NewCPUProfiler()
		caps.CPU = p.cpu
	}
	if caps.Allocation == nil {
		caps.Allocation = goruntime.NewAllocationSampler()
	}

	p.registry = collector.NewRegistry(caps, logger)
	p.dispatcher = dispatch.New(p.registry, logger)
	return p
}

// Registry exposes the underlying collector registry for periodic collection.
func (p *Probe) Registry() *collector.Registry { return p.registry }

// ReadHeapStats returns the current heap occupancy.
func (p *Probe) ReadHeapStats() HeapSnapshot { return p.registry.Heap.Read() }

// StartGCStats arms GC accounting with a zeroed window.
func (p *Probe) StartGCStats() { p.registry.GC.Start() }

// StopGCStats disarms GC accounting. The window is kept until read.
func (p *Probe) StopGCStats() { p.registry.GC.Stop() }

// ReadAndResetGCStats drains the GC window.
func (p *Probe) ReadAndResetGCStats() GCWindow { return p.registry.GC.ReadAndReset() }

// StartEventLoopStats arms event loop accounting with a zeroed window.
func (p *Probe) StartEventLoopStats() { p.registry.EventLoop.Start() }

// StopEventLoopStats disarms event loop accounting.
func (p *Probe) StopEventLoopStats() { p.registry.EventLoop.Stop() }

// ReadAndResetEventLoopStats drains the event loop window.
func (p *Probe) ReadAndResetEventLoopStats() EventLoopWindow {
	return p.registry.EventLoop.ReadAndReset()
}

// StartCPUProfiler starts CPU sampling.
func (p *Probe) StartCPUProfiler() { p.registry.CPU.Start() }

// StopCPUProfiler stops CPU sampling.
func (p *Probe) StopCPUProfiler() { p.registry.CPU.Stop() }

// CPUProfilerRunning reports whether the CPU profiler is sampling. It stays
// false after StartCPUProfiler when the runtime refused to start, for
// instance because another CPU profile is already running.
func (p *Probe) CPUProfilerRunning() bool { return p.registry.CPU.Armed() }

// CPUProfile returns the pprof payload of the last finished CPU profile. It
// is nil when a custom CPU sampler was injected or no profile has finished.
func (p *Probe) CPUProfile() []byte {
	if p.cpu == nil {
		return nil
	}
	return p.cpu.Profile()
}

// CheckAllocationSampler reports whether allocation sampling is available.
func (p *Probe) CheckAllocationSampler() bool { return p.registry.Allocation.Check() }

// AllocationSampler returns the allocation sampler operations, or false when
// the runtime cannot sample allocations.
func (p *Probe) AllocationSampler() (*AllocationSampler, bool) {
	if !p.dispatcher.Has(dispatch.OpReadAllocationProfile) {
		return nil, false
	}
	return &AllocationSampler{ctrl: p.registry.Allocation}, true
}

// Invoke runs an operation by name, as listed by Operations.
func (p *Probe) Invoke(name string) (any, error) { return p.dispatcher.Invoke(name) }

// Operations lists the operation names available on this probe.
func (p *Probe) Operations() []string { return p.dispatcher.Names() }

// Close disarms every collector and profiler.
func (p *Probe) Close() { p.registry.Close() }

// AllocationSampler controls allocation sampling on a runtime that supports it.
type AllocationSampler struct {
	ctrl *collector.AllocationProfiler
}

// Start begins sampling allocations.
func (s *AllocationSampler) Start() { s.ctrl.Start() }

// Stop ends sampling.
func (s *AllocationSampler) Stop() { s.ctrl.Stop() }

// ReadProfile returns the allocation tree accumulated since Start, or nil
// when the sampler is not running.
func (s *AllocationSampler) ReadProfile() *AllocationNode { return s.ctrl.Read() }
