package collector

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/models"
)

// AllocationSampler abstracts the runtime's sampling allocation profiler.
type AllocationSampler interface {
	// Supported reports whether the runtime build can sample allocations.
	Supported() bool
	Start() error
	Stop()
	// Profile returns the allocation tree accumulated since Start without
	// resetting it.
	Profile() (*models.AllocationNode, error)
}

// AllocationProfiler toggles the runtime allocation sampler and reads its
// accumulated profile. Availability is probed once, at construction.
type AllocationProfiler struct {
	sampler   AllocationSampler
	logger    *zap.Logger
	available bool

	mu    sync.Mutex
	armed bool
}

// NewAllocationProfiler creates a disarmed controller and caches the result
// of the sampler's capability probe.
func NewAllocationProfiler(sampler AllocationSampler, logger *zap.Logger) *AllocationProfiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationProfiler{
		sampler:   sampler,
		logger:    logger.Named("allocation_profiler"),
		available: sampler != nil && sampler.Supported(),
	}
}

// Check reports whether allocation sampling is available. It has no side effects.
func (p *AllocationProfiler) Check() bool { return p.available }

// Start arms the sampler. It is a no-op when already armed or unavailable.
func (p *AllocationProfiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.armed || !p.available {
		return
	}
	if err := p.sampler.Start(); err != nil {
		p.logger.Warn("Failed to start allocation sampler", zap.Error(err))
		return
	}
	p.armed = true
}

// Stop disarms the sampler.
func (p *AllocationProfiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.armed {
		return
	}
	p.sampler.Stop()
	p.armed = false
}

// Armed reports whether the sampler is running.
func (p *AllocationProfiler) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Read returns the profile accumulated since Start, or nil when the sampler
// is not armed or the profile could not be read.
func (p *AllocationProfiler) Read() *models.AllocationNode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.armed {
		return nil
	}
	root, err := p.sampler.Profile()
	if err != nil {
		p.logger.Warn("Failed to read allocation profile", zap.Error(err))
		return nil
	}
	return root
}
