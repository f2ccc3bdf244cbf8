package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/probe/internal/collector"
	"github.com/vitalis-app/probe/internal/config"
	"github.com/vitalis-app/probe/internal/models"
)

type fakeCPU struct {
	mu        sync.Mutex
	running   bool
	starts    int
	failStart bool
	stops     int
}

func (f *fakeCPU) StartCPUProfiler() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if !f.failStart {
		f.running = true
	}
}

func (f *fakeCPU) CPUProfilerRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCPU) StopCPUProfiler() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakeCPU) CPUProfile() []byte { return []byte("pprof") }

type fakeAlloc struct {
	running bool
}

func (f *fakeAlloc) Start() { f.running = true }
func (f *fakeAlloc) Stop()  { f.running = false }
func (f *fakeAlloc) ReadProfile() *models.AllocationNode {
	return &models.AllocationNode{Size: 128, Count: 2}
}

type fakeHeap struct{}

func (fakeHeap) ReadHeap() models.HeapSnapshot {
	return models.HeapSnapshot{UsedHeapSize: 42, Spaces: []models.SpaceStat{{Name: "heap"}}}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ServiceName = "checkout"
	cfg.Server.AgentToken = "tok"
	cfg.Collection.Interval = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Collection.BatchInterval = config.Duration{Duration: time.Hour}
	cfg.Profiling.Interval = config.Duration{Duration: 40 * time.Millisecond}
	cfg.Profiling.Duration = config.Duration{Duration: 10 * time.Millisecond}
	return cfg
}

func TestAssembleSnapshot(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := map[string]interface{}{
		"heap":       models.HeapSnapshot{UsedHeapSize: 7},
		"gc":         models.GCWindow{NumCycles: 2, TotalTime: 5 * time.Millisecond},
		"event_loop": models.EventLoopWindow{NumTicks: 3, IOTime: 15 * time.Millisecond},
		"process":    models.ProcessStats{RSS: 1024},
		"unknown":    "ignored",
	}

	snap := assembleSnapshot(results, at)

	assert.Equal(t, at, snap.Timestamp)
	require.NotNil(t, snap.Heap)
	assert.Equal(t, uint64(7), snap.Heap.UsedHeapSize)
	require.NotNil(t, snap.GC)
	assert.Equal(t, uint64(2), snap.GC.NumCycles)
	require.NotNil(t, snap.EventLoop)
	assert.Equal(t, 15*time.Millisecond, snap.EventLoop.IOTime)
	require.NotNil(t, snap.Process)
	assert.Equal(t, uint64(1024), snap.Process.RSS)
}

func TestAssembleSnapshot_MissingAndMistypedResults(t *testing.T) {
	snap := assembleSnapshot(map[string]interface{}{"gc": "not a window"}, time.Now())

	assert.Nil(t, snap.GC)
	assert.Nil(t, snap.Heap)
	assert.Nil(t, snap.EventLoop)
	assert.Nil(t, snap.Process)
}

func TestRecordProfile(t *testing.T) {
	cpu := &fakeCPU{}
	alloc := &fakeAlloc{}
	s := New(nil, testConfig(), nil).WithProfilers(cpu, alloc)

	rec, ok := s.RecordProfile(context.Background(), 5*time.Millisecond)
	require.True(t, ok)

	assert.Equal(t, []byte("pprof"), rec.CPU)
	require.NotNil(t, rec.Allocation)
	assert.Equal(t, int64(128), rec.Allocation.Size)
	assert.GreaterOrEqual(t, rec.Duration, 5*time.Millisecond)
	assert.False(t, cpu.running)
	assert.False(t, alloc.running)
}

func TestRecordProfile_SkipsWhileLocked(t *testing.T) {
	cpu := &fakeCPU{}
	s := New(nil, testConfig(), nil).WithProfilers(cpu, nil)

	s.profilerLock.Lock()
	_, ok := s.RecordProfile(context.Background(), time.Millisecond)
	s.profilerLock.Unlock()

	assert.False(t, ok)
	assert.Zero(t, cpu.starts)
}

func TestRecordProfile_CPUStartFailureShipsNoCPUPayload(t *testing.T) {
	cpu := &fakeCPU{failStart: true}
	s := New(nil, testConfig(), nil).WithProfilers(cpu, &fakeAlloc{})

	rec, ok := s.RecordProfile(context.Background(), time.Millisecond)
	require.True(t, ok, "allocation profile is still recorded")
	assert.Nil(t, rec.CPU, "a profiler that never started has no payload")
	require.NotNil(t, rec.Allocation)
	assert.Zero(t, cpu.stops)
}

func TestRecordProfile_NothingStartedIsSkipped(t *testing.T) {
	cpu := &fakeCPU{failStart: true}
	s := New(nil, testConfig(), nil).WithProfilers(cpu, nil)

	_, ok := s.RecordProfile(context.Background(), time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 1, cpu.starts)
}

func TestRecordProfile_AllocationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Profiling.Allocation = false
	alloc := &fakeAlloc{}
	s := New(nil, cfg, nil).WithProfilers(&fakeCPU{}, alloc)

	rec, ok := s.RecordProfile(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Nil(t, rec.Allocation)
}

func TestRecordProfile_CancelEndsEarly(t *testing.T) {
	s := New(nil, testConfig(), nil).WithProfilers(&fakeCPU{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, ok := s.RecordProfile(ctx, time.Hour)
	require.True(t, ok)
	assert.Less(t, rec.Duration, time.Second)
}

func TestStart_CollectsProfilesAndFlushesOnShutdown(t *testing.T) {
	reg := collector.NewRegistry(collector.Capabilities{Heap: fakeHeap{}}, nil)
	cpu := &fakeCPU{}
	s := New(reg, testConfig(), nil).WithProfilers(cpu, &fakeAlloc{})
	s.randOffset = func(time.Duration) time.Duration { return 0 }

	var batches []models.MetricBatch
	s.OnBatchReady(func(b models.MetricBatch) { batches = append(batches, b) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	require.Len(t, batches, 1, "batch interval never elapsed, only the shutdown flush")
	b := batches[0]
	assert.Equal(t, "checkout", b.ServiceName)
	assert.Equal(t, "tok", b.AgentToken)
	require.NotEmpty(t, b.Metrics)
	require.NotNil(t, b.Metrics[0].Heap)
	assert.Equal(t, uint64(42), b.Metrics[0].Heap.UsedHeapSize)
	assert.NotEmpty(t, b.Profiles)
}

func TestFlushBatch_EmptyIsNoop(t *testing.T) {
	s := New(nil, testConfig(), nil)
	called := false
	s.OnBatchReady(func(models.MetricBatch) { called = true })

	s.flushBatch()
	assert.False(t, called)
}

func TestRandomOffset(t *testing.T) {
	assert.Zero(t, randomOffset(0))
	assert.Zero(t, randomOffset(-time.Second))
	for i := 0; i < 100; i++ {
		d := randomOffset(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}
