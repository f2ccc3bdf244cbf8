// Heap collector: queries current heap occupancy and per-space breakdown.
package collector

import (
	"context"

	"github.com/vitalis-app/probe/internal/models"
)

// HeapSource is the runtime capability that reports heap statistics.
// Implementations must return spaces in a stable enumeration order.
type HeapSource interface {
	ReadHeap() models.HeapSnapshot
}

// HeapReader is a stateless reader over a HeapSource.
type HeapReader struct {
	source HeapSource
}

// NewHeapReader creates a heap reader backed by source.
func NewHeapReader(source HeapSource) *HeapReader {
	return &HeapReader{source: source}
}

// Name returns the collector identifier.
func (r *HeapReader) Name() string { return "heap" }

// IsAvailable reports whether a heap source was supplied.
func (r *HeapReader) IsAvailable() bool { return r.source != nil }

// Collect returns a fresh heap snapshot.
func (r *HeapReader) Collect(ctx context.Context) (interface{}, error) {
	return r.Read(), nil
}

// Read queries the source once and returns a copy the caller may keep.
func (r *HeapReader) Read() models.HeapSnapshot {
	if r.source == nil {
		return models.HeapSnapshot{Spaces: []models.SpaceStat{}}
	}

	snap := r.source.ReadHeap()
	spaces := make([]models.SpaceStat, len(snap.Spaces))
	copy(spaces, snap.Spaces)
	snap.Spaces = spaces
	return snap
}
