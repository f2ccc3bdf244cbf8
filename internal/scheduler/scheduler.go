// Package scheduler implements a tick-based periodic collection scheduler.
// It collects runtime metrics at a configurable interval, records CPU and
// allocation profiles at a random point of every profiling interval, and
// batches both for transmission. The scheduler does NOT send data directly;
// it invokes a callback when a batch is ready.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/collector"
	"github.com/vitalis-app/probe/internal/config"
	"github.com/vitalis-app/probe/internal/models"
)

// collectTimeout bounds a single CollectAll round.
const collectTimeout = 10 * time.Second

// CPUProfiler is the part of the probe the scheduler drives for CPU profiles.
type CPUProfiler interface {
	StartCPUProfiler()
	StopCPUProfiler()
	CPUProfilerRunning() bool
	CPUProfile() []byte
}

// AllocationProfiler is the part of the probe the scheduler drives for
// allocation profiles.
type AllocationProfiler interface {
	Start()
	Stop()
	ReadProfile() *models.AllocationNode
}

// Scheduler manages periodic metric collection, profile recording and batching.
type Scheduler struct {
	registry *collector.Registry
	cfg      *config.Config
	logger   *zap.Logger

	cpu   CPUProfiler
	alloc AllocationProfiler

	// profilerLock keeps profile recordings from overlapping.
	profilerLock sync.Mutex
	randOffset   func(limit time.Duration) time.Duration

	batch    []models.MetricSnapshot
	profiles []models.ProfileRecord
	batchMu  sync.Mutex

	onBatchReady func(models.MetricBatch)
}

// New creates a new Scheduler with the given registry, config, and logger.
func New(registry *collector.Registry, cfg *config.Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry:   registry,
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
		randOffset: randomOffset,
		batch:      make([]models.MetricSnapshot, 0),
	}
}

// WithProfilers enables profile recording. alloc may be nil when the runtime
// cannot sample allocations.
func (s *Scheduler) WithProfilers(cpu CPUProfiler, alloc AllocationProfiler) *Scheduler {
	s.cpu = cpu
	s.alloc = alloc
	return s
}

// OnBatchReady sets the callback invoked when a batch is ready to send.
// The callback receives the batch and is responsible for transmission/buffering.
func (s *Scheduler) OnBatchReady(fn func(models.MetricBatch)) {
	s.onBatchReady = fn
}

// Start begins the collection, profiling and batching loops. It blocks until
// the context is cancelled. On shutdown, it flushes any remaining batch.
func (s *Scheduler) Start(ctx context.Context) {
	collectTicker := time.NewTicker(s.cfg.Collection.Interval.Duration)
	batchTicker := time.NewTicker(s.cfg.Collection.BatchInterval.Duration)

	defer collectTicker.Stop()
	defer batchTicker.Stop()

	var wg sync.WaitGroup
	if s.cfg.Profiling.Enabled && s.cpu != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.profileLoop(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.collect(context.Background())
			s.flushBatch()
			return
		case <-collectTicker.C:
			s.collect(ctx)
		case <-batchTicker.C:
			s.flushBatch()
		}
	}
}

// profileLoop records one profile per profiling interval, starting at a
// random offset within the interval.
func (s *Scheduler) profileLoop(ctx context.Context) {
	interval := s.cfg.Profiling.Interval.Duration
	duration := s.cfg.Profiling.Duration.Duration

	for {
		start := time.Now()
		offset := s.randOffset(interval - duration)

		if !sleep(ctx, offset) {
			return
		}
		if rec, ok := s.RecordProfile(ctx, duration); ok {
			s.batchMu.Lock()
			s.profiles = append(s.profiles, rec)
			s.batchMu.Unlock()
		}
		if !sleep(ctx, interval-time.Since(start)) {
			return
		}
	}
}

// RecordProfile runs the CPU profiler, and the allocation sampler when
// enabled, for d. It reports false without recording when another recording
// holds the profiler lock or when no profiler could be started. A CPU
// profiler that refused to start leaves the record's CPU payload empty. A
// cancelled context ends the recording early.
func (s *Scheduler) RecordProfile(ctx context.Context, d time.Duration) (models.ProfileRecord, bool) {
	if s.cpu == nil || !s.profilerLock.TryLock() {
		return models.ProfileRecord{}, false
	}
	defer s.profilerLock.Unlock()

	withAlloc := s.alloc != nil && s.cfg.Profiling.Allocation
	rec := models.ProfileRecord{Start: time.Now().UTC()}

	s.cpu.StartCPUProfiler()
	cpuRunning := s.cpu.CPUProfilerRunning()
	if !cpuRunning {
		s.logger.Warn("CPU profiler did not start, recording without CPU profile")
		if !withAlloc {
			return models.ProfileRecord{}, false
		}
	}
	if withAlloc {
		s.alloc.Start()
	}

	sleep(ctx, d)

	if withAlloc {
		rec.Allocation = s.alloc.ReadProfile()
		s.alloc.Stop()
	}
	if cpuRunning {
		s.cpu.StopCPUProfiler()
		rec.CPU = s.cpu.CPUProfile()
	}
	rec.Duration = time.Since(rec.Start)

	s.logger.Debug("Recorded profile",
		zap.Duration("duration", rec.Duration),
		zap.Int("cpu_bytes", len(rec.CPU)),
		zap.Bool("allocation", rec.Allocation != nil))
	return rec, true
}

// collect runs all collectors with a timeout and assembles a snapshot.
func (s *Scheduler) collect(ctx context.Context) {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	results := s.registry.CollectAll(collectCtx)
	snapshot := assembleSnapshot(results, time.Now().UTC())

	s.batchMu.Lock()
	s.batch = append(s.batch, snapshot)
	s.batchMu.Unlock()

	s.logger.Debug("Collected metrics", zap.Time("timestamp", snapshot.Timestamp))
}

// flushBatch sends the current batch via the callback and resets the buffer.
func (s *Scheduler) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 && len(s.profiles) == 0 {
		s.batchMu.Unlock()
		return
	}
	batch := models.MetricBatch{
		ServiceName: s.cfg.ServiceName,
		AgentToken:  s.cfg.Server.AgentToken,
		Metrics:     s.batch,
		Profiles:    s.profiles,
	}
	s.batch = make([]models.MetricSnapshot, 0)
	s.profiles = nil
	s.batchMu.Unlock()

	s.logger.Info("Flushing batch",
		zap.Int("metrics", len(batch.Metrics)),
		zap.Int("profiles", len(batch.Profiles)))

	if s.onBatchReady != nil {
		s.onBatchReady(batch)
	}
}

// assembleSnapshot maps collector results into a unified MetricSnapshot.
func assembleSnapshot(results map[string]interface{}, at time.Time) models.MetricSnapshot {
	snapshot := models.MetricSnapshot{
		Timestamp: at,
	}

	// Heap
	if data, ok := results["heap"]; ok {
		if heap, ok := data.(models.HeapSnapshot); ok {
			snapshot.Heap = &heap
		}
	}

	// GC
	if data, ok := results["gc"]; ok {
		if gc, ok := data.(models.GCWindow); ok {
			snapshot.GC = &gc
		}
	}

	// Event loop
	if data, ok := results["event_loop"]; ok {
		if loop, ok := data.(models.EventLoopWindow); ok {
			snapshot.EventLoop = &loop
		}
	}

	// Process
	if data, ok := results["process"]; ok {
		if proc, ok := data.(models.ProcessStats); ok {
			snapshot.Process = &proc
		}
	}

	return snapshot
}

func randomOffset(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
