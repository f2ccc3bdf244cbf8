package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/probe/internal/models"
)

func TestHeapReader_SingleQueryPreservesOrder(t *testing.T) {
	src := &fakeHeap{snap: models.HeapSnapshot{
		UsedHeapSize: 4096,
		Spaces: []models.SpaceStat{
			{Name: "old_space", Size: 300},
			{Name: "new_space", Size: 100},
			{Name: "code_space", Size: 200},
		},
	}}
	r := NewHeapReader(src)

	first := r.Read()
	assert.Equal(t, 1, src.reads)
	assert.Equal(t, uint64(4096), first.UsedHeapSize)

	src.snap.Spaces[0].Size = 999
	second := r.Read()

	names := func(s models.HeapSnapshot) []string {
		var out []string
		for _, sp := range s.Spaces {
			out = append(out, sp.Name)
		}
		return out
	}
	assert.Equal(t, []string{"old_space", "new_space", "code_space"}, names(first))
	assert.Equal(t, names(first), names(second))
	assert.Equal(t, uint64(300), first.Spaces[0].Size, "earlier snapshot must not change")
}

func TestHeapReader_NoSource(t *testing.T) {
	r := NewHeapReader(nil)
	assert.False(t, r.IsAvailable())

	snap := r.Read()
	assert.Zero(t, snap.UsedHeapSize)
	assert.Empty(t, snap.Spaces)
}

func TestCPUProfiler_ArmDisarm(t *testing.T) {
	s := &mockCPUSampler{}
	p := NewCPUProfiler(s, nil)

	p.Start()
	p.Start()
	assert.True(t, p.Armed())
	assert.Equal(t, 1, s.starts)

	p.Stop()
	p.Stop()
	assert.False(t, p.Armed())
	assert.Equal(t, 1, s.stops)
}

func TestCPUProfiler_StartFailureStaysDisarmed(t *testing.T) {
	s := &mockCPUSampler{failStart: true}
	p := NewCPUProfiler(s, nil)

	p.Start()
	assert.False(t, p.Armed())

	p.Stop()
	assert.Zero(t, s.stops)
}

func TestAllocationProfiler_CheckIsCached(t *testing.T) {
	s := &mockAllocSampler{supported: true}
	p := NewAllocationProfiler(s, nil)

	assert.True(t, p.Check())
	assert.True(t, p.Check())
	assert.Equal(t, 1, s.probes)
}

func TestAllocationProfiler_Unsupported(t *testing.T) {
	s := &mockAllocSampler{supported: false}
	p := NewAllocationProfiler(s, nil)

	assert.False(t, p.Check())
	p.Start()
	assert.False(t, p.Armed())
	assert.Zero(t, s.starts)
	assert.Nil(t, p.Read())
}

func TestAllocationProfiler_ReadDoesNotReset(t *testing.T) {
	root := &models.AllocationNode{Children: []*models.AllocationNode{
		{FuncName: "main.alloc", Size: 1024, Count: 2},
	}}
	s := &mockAllocSampler{supported: true, root: root}
	p := NewAllocationProfiler(s, nil)

	p.Start()
	p.Start()
	require.Equal(t, 1, s.starts)

	first := p.Read()
	second := p.Read()
	assert.Equal(t, int64(1024), first.TotalSize())
	assert.Equal(t, first, second)
	assert.True(t, p.Armed())

	p.Stop()
	p.Stop()
	assert.Equal(t, 1, s.stops)
	assert.Nil(t, p.Read())
}

func TestAllocationProfiler_ReadErrorIsAbsorbed(t *testing.T) {
	s := &mockAllocSampler{supported: true, profileErr: errors.New("parse failed")}
	p := NewAllocationProfiler(s, nil)
	p.Start()

	assert.Nil(t, p.Read())
}

func TestRegistry_RegistersAvailableCollectors(t *testing.T) {
	reg := NewRegistry(Capabilities{
		Loop: newFakeLoop(),
		GC:   newFakeGC(),
	}, nil)

	var names []string
	for _, c := range reg.Collectors() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"gc", "event_loop"}, names, "heap has no source and is skipped")
}

func TestRegistry_CollectAllReadsAndResets(t *testing.T) {
	loop := newFakeLoop()
	gc := newFakeGC()
	heap := &fakeHeap{snap: models.HeapSnapshot{UsedHeapSize: 10}}
	reg := NewRegistry(Capabilities{Loop: loop, GC: gc, Heap: heap}, nil)

	reg.EventLoop.Start()
	reg.GC.Start()
	loop.tick(1*ms, 2*ms)
	gc.cycle(1*ms, 3*ms)

	results := reg.CollectAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, uint64(1), results["event_loop"].(models.EventLoopWindow).NumTicks)
	assert.Equal(t, uint64(1), results["gc"].(models.GCWindow).NumCycles)
	assert.Equal(t, uint64(10), results["heap"].(models.HeapSnapshot).UsedHeapSize)

	results = reg.CollectAll(context.Background())
	assert.Equal(t, models.EventLoopWindow{}, results["event_loop"])
	assert.Equal(t, models.GCWindow{}, results["gc"])
}

func TestRegistry_CloseDisarmsEverything(t *testing.T) {
	loop := newFakeLoop()
	gc := newFakeGC()
	cpu := &mockCPUSampler{}
	alloc := &mockAllocSampler{supported: true}
	reg := NewRegistry(Capabilities{Loop: loop, GC: gc, CPU: cpu, Allocation: alloc}, nil)

	reg.EventLoop.Start()
	reg.GC.Start()
	reg.CPU.Start()
	reg.Allocation.Start()

	reg.Close()
	reg.Close()

	assert.False(t, reg.EventLoop.Armed())
	assert.False(t, reg.GC.Armed())
	assert.False(t, reg.CPU.Armed())
	assert.False(t, reg.Allocation.Armed())
	assert.Zero(t, loop.before.Len()+loop.after.Len())
	assert.Zero(t, gc.prolog.Len()+gc.epilog.Len())
	assert.Equal(t, 1, cpu.stops)
	assert.Equal(t, 1, alloc.stops)
}
