package goruntime

import (
	"bytes"
	"fmt"
	"runtime/pprof"
	"sync"
)

// CPUProfiler delegates to runtime/pprof and owns the profile buffer.
type CPUProfiler struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	last    []byte
	running bool
}

// NewCPUProfiler returns an idle CPU profiler.
func NewCPUProfiler() *CPUProfiler {
	return &CPUProfiler{}
}

// StartCPUProfile begins sampling into a fresh buffer and drops the last
// finished profile. It fails if another CPU profile is already running in
// the process.
func (p *CPUProfiler) StartCPUProfile() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.last = nil
	p.buf.Reset()
	if err := pprof.StartCPUProfile(&p.buf); err != nil {
		return fmt.Errorf("start cpu profile: %w", err)
	}
	p.running = true
	return nil
}

// StopCPUProfile stops sampling and keeps the finished profile for Profile.
func (p *CPUProfiler) StopCPUProfile() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	pprof.StopCPUProfile()
	p.running = false
	p.last = append([]byte(nil), p.buf.Bytes()...)
	p.buf.Reset()
}

// Profile returns the gzipped pprof payload of the last finished profile,
// or nil if none has finished yet.
func (p *CPUProfiler) Profile() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
