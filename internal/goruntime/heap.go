// Package goruntime adapts the Go runtime's memory statistics and profilers
// to the capability interfaces consumed by the collectors.
package goruntime

import (
	"runtime"

	"github.com/vitalis-app/probe/internal/models"
)

// Space names in enumeration order.
const (
	SpaceHeap       = "heap"
	SpaceStack      = "stack"
	SpaceMSpan      = "mspan"
	SpaceMCache     = "mcache"
	SpaceBuckHash   = "buckhash"
	SpaceGCMetadata = "gc_metadata"
	SpaceOther      = "other"
)

// HeapSource reads heap statistics through runtime.ReadMemStats. Each call
// briefly stops the world.
type HeapSource struct{}

// NewHeapSource returns the runtime heap source.
func NewHeapSource() *HeapSource {
	return &HeapSource{}
}

// ReadHeap takes one MemStats reading and partitions it into spaces.
func (s *HeapSource) ReadHeap() models.HeapSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return snapshotFromMemStats(&m)
}

func snapshotFromMemStats(m *runtime.MemStats) models.HeapSnapshot {
	return models.HeapSnapshot{
		UsedHeapSize: m.HeapAlloc,
		Spaces: []models.SpaceStat{
			{
				Name:          SpaceHeap,
				Size:          m.HeapSys,
				UsedSize:      m.HeapInuse,
				AvailableSize: sub(m.HeapIdle, m.HeapReleased),
				PhysicalSize:  sub(m.HeapSys, m.HeapReleased),
			},
			{
				Name:          SpaceStack,
				Size:          m.StackSys,
				UsedSize:      m.StackInuse,
				AvailableSize: sub(m.StackSys, m.StackInuse),
				PhysicalSize:  m.StackSys,
			},
			{
				Name:          SpaceMSpan,
				Size:          m.MSpanSys,
				UsedSize:      m.MSpanInuse,
				AvailableSize: sub(m.MSpanSys, m.MSpanInuse),
				PhysicalSize:  m.MSpanSys,
			},
			{
				Name:          SpaceMCache,
				Size:          m.MCacheSys,
				UsedSize:      m.MCacheInuse,
				AvailableSize: sub(m.MCacheSys, m.MCacheInuse),
				PhysicalSize:  m.MCacheSys,
			},
			fixedSpace(SpaceBuckHash, m.BuckHashSys),
			fixedSpace(SpaceGCMetadata, m.GCSys),
			fixedSpace(SpaceOther, m.OtherSys),
		},
	}
}

// fixedSpace describes runtime memory that is fully used once mapped.
func fixedSpace(name string, size uint64) models.SpaceStat {
	return models.SpaceStat{
		Name:         name,
		Size:         size,
		UsedSize:     size,
		PhysicalSize: size,
	}
}

func sub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
