package collector

import (
	"errors"
	"time"

	"github.com/vitalis-app/probe/internal/hooks"
	"github.com/vitalis-app/probe/internal/models"
)

const ms = uint64(time.Millisecond)

// fakeLoop drives loop phases directly and remembers every hook it was
// ever given, including unregistered ones.
type fakeLoop struct {
	before, after *hooks.List
	registered    []hooks.Hook
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		before: hooks.NewList("before", nil),
		after:  hooks.NewList("after", nil),
	}
}

func (f *fakeLoop) RegisterBeforePhase(fn hooks.Hook) hooks.Unregister {
	f.registered = append(f.registered, fn)
	return f.before.Add(fn)
}

func (f *fakeLoop) RegisterAfterPhase(fn hooks.Hook) hooks.Unregister {
	f.registered = append(f.registered, fn)
	return f.after.Add(fn)
}

func (f *fakeLoop) tick(start, end uint64) {
	f.before.Fire(start)
	f.after.Fire(end)
}

type fakeGC struct {
	prolog, epilog *hooks.List
	registered     []hooks.Hook
}

func newFakeGC() *fakeGC {
	return &fakeGC{
		prolog: hooks.NewList("prolog", nil),
		epilog: hooks.NewList("epilog", nil),
	}
}

func (f *fakeGC) RegisterGCProlog(fn hooks.Hook) hooks.Unregister {
	f.registered = append(f.registered, fn)
	return f.prolog.Add(fn)
}

func (f *fakeGC) RegisterGCEpilog(fn hooks.Hook) hooks.Unregister {
	f.registered = append(f.registered, fn)
	return f.epilog.Add(fn)
}

func (f *fakeGC) cycle(start, end uint64) {
	f.prolog.Fire(start)
	f.epilog.Fire(end)
}

type fakeHeap struct {
	reads int
	snap  models.HeapSnapshot
}

func (f *fakeHeap) ReadHeap() models.HeapSnapshot {
	f.reads++
	return f.snap
}

type mockCPUSampler struct {
	starts, stops int
	failStart     bool
}

func (m *mockCPUSampler) StartCPUProfile() error {
	if m.failStart {
		return errors.New("cpu profiling already in use")
	}
	m.starts++
	return nil
}

func (m *mockCPUSampler) StopCPUProfile() { m.stops++ }

type mockAllocSampler struct {
	supported     bool
	probes        int
	starts, stops int
	root          *models.AllocationNode
	profileErr    error
}

func (m *mockAllocSampler) Supported() bool {
	m.probes++
	return m.supported
}

func (m *mockAllocSampler) Start() error {
	m.starts++
	return nil
}

func (m *mockAllocSampler) Stop() { m.stops++ }

func (m *mockAllocSampler) Profile() (*models.AllocationNode, error) {
	return m.root, m.profileErr
}
