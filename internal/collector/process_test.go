package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/probe/internal/models"
)

type stubProcess struct {
	mem        *process.MemoryInfoStat
	memErr     error
	threads    int32
	percent    float64
	percentErr error
	intervals  []time.Duration
}

func (s *stubProcess) MemoryInfoWithContext(context.Context) (*process.MemoryInfoStat, error) {
	return s.mem, s.memErr
}

func (s *stubProcess) NumThreadsWithContext(context.Context) (int32, error) {
	return s.threads, nil
}

func (s *stubProcess) PercentWithContext(_ context.Context, interval time.Duration) (float64, error) {
	s.intervals = append(s.intervals, interval)
	return s.percent, s.percentErr
}

func TestProcessCollector_ReportsUsage(t *testing.T) {
	proc := &stubProcess{mem: &process.MemoryInfoStat{RSS: 2048, VMS: 4096}, threads: 8, percent: 30}
	c := &ProcessCollector{proc: proc}

	data, err := c.Collect(context.Background())
	require.NoError(t, err)
	stats := data.(models.ProcessStats)
	assert.Equal(t, uint64(2048), stats.RSS)
	assert.Equal(t, uint64(4096), stats.VMS)
	assert.Equal(t, int32(8), stats.NumThreads)
	assert.InDelta(t, 30.0, stats.CPUUsage, 0.001)
	assert.Equal(t, []time.Duration{0}, proc.intervals, "collection must not block on a sampling interval")
}

func TestProcessCollector_CPUErrorIsNonFatal(t *testing.T) {
	proc := &stubProcess{mem: &process.MemoryInfoStat{RSS: 1}, percent: 99, percentErr: errors.New("not supported")}
	c := &ProcessCollector{proc: proc}

	data, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, data.(models.ProcessStats).CPUUsage)
}

func TestProcessCollector_MemoryError(t *testing.T) {
	c := &ProcessCollector{proc: &stubProcess{memErr: errors.New("permission denied")}}
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

func TestProcessCollector_CurrentProcess(t *testing.T) {
	c := NewProcessCollector()
	if !c.IsAvailable() {
		t.Skip("process metrics unavailable on this platform")
	}

	data, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, data.(models.ProcessStats).RSS)

	burn := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(burn) {
	}
	data, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, data.(models.ProcessStats).CPUUsage, 0.0)
}
