// Package models defines the snapshot structures handed out by the probe and
// the batch payloads built from them. These structures are serialized to JSON
// for transmission to the ingest API.
package models

import "time"

// EventLoopWindow is the event loop activity accumulated since the previous
// read-and-reset.
type EventLoopWindow struct {
	NumTicks uint64        `json:"num_ticks"`
	IOTime   time.Duration `json:"io_time"`
}

// GCWindow is the garbage collection activity accumulated since the previous
// read-and-reset. One cycle is one prologue/epilogue pair.
type GCWindow struct {
	NumCycles uint64        `json:"num_cycles"`
	TotalTime time.Duration `json:"total_time"`
}

// HeapSnapshot is a point-in-time view of the runtime heap. Spaces keep the
// runtime's enumeration order.
type HeapSnapshot struct {
	UsedHeapSize uint64      `json:"used_heap_size"`
	Spaces       []SpaceStat `json:"spaces"`
}

// SpaceStat describes one runtime-defined partition of managed memory.
type SpaceStat struct {
	Name          string `json:"space_name"`
	Size          uint64 `json:"space_size"`
	UsedSize      uint64 `json:"space_used_size"`
	AvailableSize uint64 `json:"space_available_size"`
	PhysicalSize  uint64 `json:"physical_space_size"`
}

// AllocationNode is one call site in a sampled allocation profile. Size and
// Count cover allocations made at this exact site, not its children.
type AllocationNode struct {
	FuncName string            `json:"func_name,omitempty"`
	FileName string            `json:"file_name,omitempty"`
	LineNum  int64             `json:"line_num,omitempty"`
	Size     int64             `json:"size"`
	Count    int64             `json:"count"`
	Children []*AllocationNode `json:"children,omitempty"`
}

// TotalSize returns the sampled bytes of the node and everything below it.
func (n *AllocationNode) TotalSize() int64 {
	if n == nil {
		return 0
	}
	total := n.Size
	for _, c := range n.Children {
		total += c.TotalSize()
	}
	return total
}

// ProcessStats holds resource usage of the current process.
type ProcessStats struct {
	RSS        uint64  `json:"rss"`
	VMS        uint64  `json:"vms"`
	NumThreads int32   `json:"num_threads"`
	CPUUsage   float64 `json:"cpu_usage"`
}

// MetricSnapshot represents a single point-in-time collection of all runtime metrics.
type MetricSnapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Heap      *HeapSnapshot    `json:"heap,omitempty"`
	GC        *GCWindow        `json:"gc,omitempty"`
	EventLoop *EventLoopWindow `json:"event_loop,omitempty"`
	Process   *ProcessStats    `json:"process,omitempty"`
}

// ProfileRecord is one profiling span recorded by the scheduler.
type ProfileRecord struct {
	Start      time.Time       `json:"start"`
	Duration   time.Duration   `json:"duration"`
	CPU        []byte          `json:"cpu,omitempty"`
	Allocation *AllocationNode `json:"allocation,omitempty"`
}

// MetricBatch is the payload sent to the API via POST /api/ingest.
type MetricBatch struct {
	ServiceName string           `json:"service_name"`
	AgentToken  string           `json:"agent_token"`
	Metrics     []MetricSnapshot `json:"metrics"`
	Profiles    []ProfileRecord  `json:"profiles,omitempty"`
}
