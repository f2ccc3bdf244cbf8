package goruntime

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/vitalis-app/probe/internal/models"
)

const allocsProfile = "allocs"

var errSamplerStopped = errors.New("allocation sampler not started")

// AllocationSampler exposes the runtime's sampled allocation profile as a
// call tree of the allocations made since Start.
//
// The runtime only publishes allocation records as of the most recently
// completed GC cycle, so allocations made after the last GC show up once the
// next one finishes.
type AllocationSampler struct {
	mu       sync.Mutex
	running  bool
	baseline map[string]siteTotals
}

type siteTotals struct {
	bytes, count int64
}

type frame struct {
	funcName string
	fileName string
	line     int64
}

func (f frame) key() string {
	return f.funcName + "\x00" + f.fileName + "\x00" + strconv.FormatInt(f.line, 10)
}

// NewAllocationSampler returns an idle sampler.
func NewAllocationSampler() *AllocationSampler {
	return &AllocationSampler{}
}

// Supported reports whether the runtime is recording allocation samples.
func (s *AllocationSampler) Supported() bool {
	return runtime.MemProfileRate > 0 && pprof.Lookup(allocsProfile) != nil
}

// Start records the current totals as the baseline for Profile.
func (s *AllocationSampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	p, err := readAllocs()
	if err != nil {
		return err
	}
	sites, _ := aggregate(p)
	s.baseline = make(map[string]siteTotals, len(sites))
	for k, st := range sites {
		s.baseline[k] = st.totals
	}
	s.running = true
	return nil
}

// Stop drops the baseline.
func (s *AllocationSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.baseline = nil
}

// Profile builds the call tree of allocations sampled since Start. The
// baseline is kept, so repeated calls keep accumulating.
func (s *AllocationSampler) Profile() (*models.AllocationNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, errSamplerStopped
	}
	p, err := readAllocs()
	if err != nil {
		return nil, err
	}

	b := newTreeBuilder()
	sites, order := aggregate(p)
	for _, k := range order {
		st := sites[k]
		base := s.baseline[k]
		delta := siteTotals{
			bytes: max(st.totals.bytes-base.bytes, 0),
			count: max(st.totals.count-base.count, 0),
		}
		if delta.bytes == 0 && delta.count == 0 {
			continue
		}
		b.add(st.stack, delta)
	}
	return b.finish(), nil
}

func readAllocs() (*profile.Profile, error) {
	prof := pprof.Lookup(allocsProfile)
	if prof == nil {
		return nil, errors.New("allocs profile not registered")
	}
	var buf bytes.Buffer
	if err := prof.WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("write allocs profile: %w", err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("parse allocs profile: %w", err)
	}
	return p, nil
}

type site struct {
	stack  []frame
	totals siteTotals
}

// aggregate merges samples that share a stack. order lists the stack keys
// in first-seen order.
func aggregate(p *profile.Profile) (map[string]*site, []string) {
	sites := make(map[string]*site)
	var order []string
	forEachSite(p, func(stack []frame, t siteTotals) {
		k := stackKey(stack)
		st, ok := sites[k]
		if !ok {
			st = &site{stack: stack}
			sites[k] = st
			order = append(order, k)
		}
		st.totals.bytes += t.bytes
		st.totals.count += t.count
	})
	return sites, order
}

// forEachSite calls fn with the root-first stack and sampled totals of every
// sample in p.
func forEachSite(p *profile.Profile, fn func(stack []frame, t siteTotals)) {
	spaceIdx, objectsIdx := -1, -1
	for i, st := range p.SampleType {
		switch st.Type {
		case "alloc_space":
			spaceIdx = i
		case "alloc_objects":
			objectsIdx = i
		}
	}
	if spaceIdx < 0 {
		return
	}

	for _, sample := range p.Sample {
		t := siteTotals{bytes: sample.Value[spaceIdx]}
		if objectsIdx >= 0 {
			t.count = sample.Value[objectsIdx]
		}
		fn(stackOf(sample), t)
	}
}

// stackOf returns the sample's frames from outermost caller to allocation
// site. Locations are leaf-first and inlined lines innermost-first.
func stackOf(sample *profile.Sample) []frame {
	var stack []frame
	for i := len(sample.Location) - 1; i >= 0; i-- {
		loc := sample.Location[i]
		if len(loc.Line) == 0 {
			stack = append(stack, frame{funcName: fmt.Sprintf("0x%x", loc.Address)})
			continue
		}
		for j := len(loc.Line) - 1; j >= 0; j-- {
			ln := loc.Line[j]
			f := frame{line: ln.Line}
			if ln.Function != nil {
				f.funcName = ln.Function.Name
				f.fileName = ln.Function.Filename
			}
			stack = append(stack, f)
		}
	}
	return stack
}

func stackKey(stack []frame) string {
	parts := make([]string, len(stack))
	for i, f := range stack {
		parts[i] = f.key()
	}
	return strings.Join(parts, "\n")
}

type treeBuilder struct {
	root     *models.AllocationNode
	children map[*models.AllocationNode]map[string]*models.AllocationNode
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{
		root:     &models.AllocationNode{},
		children: make(map[*models.AllocationNode]map[string]*models.AllocationNode),
	}
}

func (b *treeBuilder) add(stack []frame, t siteTotals) {
	node := b.root
	for _, f := range stack {
		node = b.child(node, f)
	}
	node.Size += t.bytes
	node.Count += t.count
}

func (b *treeBuilder) child(parent *models.AllocationNode, f frame) *models.AllocationNode {
	idx, ok := b.children[parent]
	if !ok {
		idx = make(map[string]*models.AllocationNode)
		b.children[parent] = idx
	}
	k := f.key()
	if n, ok := idx[k]; ok {
		return n
	}
	n := &models.AllocationNode{
		FuncName: f.funcName,
		FileName: f.fileName,
		LineNum:  f.line,
	}
	idx[k] = n
	parent.Children = append(parent.Children, n)
	return n
}

// finish orders every level by total sampled bytes, largest first.
func (b *treeBuilder) finish() *models.AllocationNode {
	sortTree(b.root)
	return b.root
}

func sortTree(n *models.AllocationNode) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].TotalSize() > n.Children[j].TotalSize()
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}
