package collector

import (
	"sync"

	"go.uber.org/zap"
)

// CPUSampler abstracts the runtime's CPU sampling profiler so tests can mock it.
// The sampler owns its sample buffer.
type CPUSampler interface {
	StartCPUProfile() error
	StopCPUProfile()
}

// CPUProfiler toggles the runtime CPU profiler on and off.
type CPUProfiler struct {
	sampler CPUSampler
	logger  *zap.Logger

	mu    sync.Mutex
	armed bool
}

// NewCPUProfiler creates a disarmed controller over sampler.
func NewCPUProfiler(sampler CPUSampler, logger *zap.Logger) *CPUProfiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CPUProfiler{
		sampler: sampler,
		logger:  logger.Named("cpu_profiler"),
	}
}

// Start arms the runtime profiler. A failure to start is logged and leaves
// the controller disarmed.
func (p *CPUProfiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed || p.sampler == nil {
		return
	}
	if err := p.sampler.StartCPUProfile(); err != nil {
		p.logger.Warn("Failed to start CPU profiler", zap.Error(err))
		return
	}
	p.armed = true
}

// Stop disarms the runtime profiler, which finalizes its buffer.
func (p *CPUProfiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.armed {
		return
	}
	p.sampler.StopCPUProfile()
	p.armed = false
}

// Armed reports whether the runtime profiler is running.
func (p *CPUProfiler) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}
