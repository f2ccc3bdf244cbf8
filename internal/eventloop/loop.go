// Package eventloop implements a single-goroutine event loop for embedding
// applications that want cooperative, callback-driven scheduling. Each
// iteration runs ready tasks, then blocks until new work arrives; hooks can
// observe the moments just before and just after that wait.
package eventloop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/hooks"
	"github.com/vitalis-app/probe/internal/hrtime"
)

// Loop is a task queue drained by Run on a single goroutine.
//
// The loop stays alive while it has queued tasks or outstanding references
// (Ref, pending AfterFunc timers). Phase hooks never hold a reference.
type Loop struct {
	logger *zap.Logger
	clock  func() uint64

	before *hooks.List
	after  *hooks.List

	mu    sync.Mutex
	queue []func()
	refs  int
	wake  chan struct{}
}

// New creates an idle loop.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("eventloop")
	return &Loop{
		logger: logger,
		clock:  hrtime.Now,
		before: hooks.NewList("before_wait", logger),
		after:  hooks.NewList("after_wait", logger),
		wake:   make(chan struct{}, 1),
	}
}

var (
	defaultOnce sync.Once
	defaultLoop *Loop
)

// Default returns the process-wide loop, creating it on first use.
func Default() *Loop {
	defaultOnce.Do(func() {
		defaultLoop = New(nil)
	})
	return defaultLoop
}

// RegisterBeforePhase adds a hook fired just before the loop blocks.
func (l *Loop) RegisterBeforePhase(fn hooks.Hook) hooks.Unregister {
	return l.before.Add(fn)
}

// RegisterAfterPhase adds a hook fired when the loop resumes after blocking.
func (l *Loop) RegisterAfterPhase(fn hooks.Hook) hooks.Unregister {
	return l.after.Add(fn)
}

// Post queues fn to run on the loop goroutine. It may be called from any goroutine.
func (l *Loop) Post(fn func()) {
	l.enqueue(fn, false)
}

// AfterFunc runs fn on the loop after d has elapsed. The pending timer keeps
// the loop alive. The returned function cancels the timer if it has not fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	l.Ref()

	var once sync.Once
	release := func(run bool) {
		once.Do(func() {
			if run {
				l.enqueue(fn, true)
			} else {
				l.Unref()
			}
		})
	}

	t := time.AfterFunc(d, func() { release(true) })
	return func() {
		if t.Stop() {
			release(false)
		}
	}
}

// Ref keeps the loop alive until a matching Unref.
func (l *Loop) Ref() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

// Unref releases a reference taken with Ref.
func (l *Loop) Unref() {
	l.mu.Lock()
	if l.refs > 0 {
		l.refs--
	}
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) enqueue(fn func(), unref bool) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if unref && l.refs > 0 {
		l.refs--
	}
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until no referenced work remains or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Event loop running")
	defer l.logger.Debug("Event loop stopped")

	for {
		l.runPending()

		if !l.alive() {
			return nil
		}

		l.before.Fire(l.clock())

		select {
		case <-ctx.Done():
			l.after.Fire(l.clock())
			return ctx.Err()
		case <-l.wake:
		}

		l.after.Fire(l.clock())
	}
}

// runPending executes the tasks queued when it was entered. Tasks posted
// meanwhile wait for the next iteration.
func (l *Loop) runPending() {
	l.mu.Lock()
	tasks := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

func (l *Loop) alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0 || l.refs > 0
}
