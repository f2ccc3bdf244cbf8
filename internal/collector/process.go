// Process collector: resource usage of the process hosting the probe.
// Uses gopsutil for cross-platform process metrics.
package collector

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vitalis-app/probe/internal/models"
)

// processInfo is the subset of *process.Process the collector reads.
type processInfo interface {
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	NumThreadsWithContext(ctx context.Context) (int32, error)
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
}

// ProcessCollector collects memory and CPU usage of the current process.
// CPU usage is the share of one core used since the previous collection.
type ProcessCollector struct {
	proc processInfo
}

// NewProcessCollector creates a collector for the current process. If the
// process handle cannot be opened the collector reports itself unavailable.
func NewProcessCollector() *ProcessCollector {
	c := &ProcessCollector{}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Name returns the collector identifier.
func (c *ProcessCollector) Name() string { return "process" }

// IsAvailable returns true when the current process could be opened.
func (c *ProcessCollector) IsAvailable() bool { return c.proc != nil }

// Collect gathers RSS, VMS, thread count and CPU usage. The first collection
// reports zero CPU usage while gopsutil establishes a baseline.
func (c *ProcessCollector) Collect(ctx context.Context) (interface{}, error) {
	mem, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}

	stats := models.ProcessStats{
		RSS: mem.RSS,
		VMS: mem.VMS,
	}

	// Non-fatal: thread count is not reported on every platform
	if n, err := c.proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = n
	}

	// Interval 0 compares against the times seen by the previous call
	if pct, err := c.proc.PercentWithContext(ctx, 0); err == nil {
		stats.CPUUsage = pct
	}

	return stats, nil
}
