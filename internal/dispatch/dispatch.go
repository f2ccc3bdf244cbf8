// Package dispatch exposes the collectors' operations to the embedding
// application as named entry points.
package dispatch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/collector"
)

// Operation names. They are stable and part of the public surface.
const (
	OpReadHeapStats              = "readHeapStats"
	OpStartGCStats               = "startGCStats"
	OpStopGCStats                = "stopGCStats"
	OpReadAndResetGCStats        = "readAndResetGCStats"
	OpStartEventLoopStats        = "startEventLoopStats"
	OpStopEventLoopStats         = "stopEventLoopStats"
	OpReadAndResetEventLoopStats = "readAndResetEventLoopStats"
	OpStartCPUProfiler           = "startCpuProfiler"
	OpStopCPUProfiler            = "stopCpuProfiler"
	OpCheckAllocationSampler     = "checkAllocationSampler"
	OpStartAllocationSampler     = "startAllocationSampler"
	OpStopAllocationSampler      = "stopAllocationSampler"
	OpReadAllocationProfile      = "readAllocationProfile"
)

// ErrUnknownOperation is returned by Invoke for names that were never registered.
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is a registered entry point. Operations without a payload return nil.
type Operation func() any

// Dispatcher maps operation names onto collector calls. It holds no
// collector state of its own.
type Dispatcher struct {
	ops    map[string]Operation
	names  []string
	logger *zap.Logger
}

// New registers the operations of every collector in reg. The allocation
// sampler operations are only registered when its capability check passes.
func New(reg *collector.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ops:    make(map[string]Operation),
		logger: logger.Named("dispatch"),
	}

	d.register(OpReadHeapStats, func() any { return reg.Heap.Read() })

	d.register(OpStartGCStats, action(reg.GC.Start))
	d.register(OpStopGCStats, action(reg.GC.Stop))
	d.register(OpReadAndResetGCStats, func() any { return reg.GC.ReadAndReset() })

	d.register(OpStartEventLoopStats, action(reg.EventLoop.Start))
	d.register(OpStopEventLoopStats, action(reg.EventLoop.Stop))
	d.register(OpReadAndResetEventLoopStats, func() any { return reg.EventLoop.ReadAndReset() })

	d.register(OpStartCPUProfiler, action(reg.CPU.Start))
	d.register(OpStopCPUProfiler, action(reg.CPU.Stop))

	d.register(OpCheckAllocationSampler, func() any { return reg.Allocation.Check() })
	if reg.Allocation.Check() {
		d.register(OpStartAllocationSampler, action(reg.Allocation.Start))
		d.register(OpStopAllocationSampler, action(reg.Allocation.Stop))
		d.register(OpReadAllocationProfile, func() any { return reg.Allocation.Read() })
	} else {
		d.logger.Info("Allocation sampler not supported by this runtime, operations not registered")
	}

	return d
}

func action(fn func()) Operation {
	return func() any {
		fn()
		return nil
	}
}

func (d *Dispatcher) register(name string, op Operation) {
	if _, dup := d.ops[name]; !dup {
		d.names = append(d.names, name)
	}
	d.ops[name] = op
}

// Has reports whether name is a registered operation.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.ops[name]
	return ok
}

// Names returns the registered operation names in registration order.
func (d *Dispatcher) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Invoke runs the named operation and returns its payload.
func (d *Dispatcher) Invoke(name string) (any, error) {
	op, ok := d.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return op(), nil
}
