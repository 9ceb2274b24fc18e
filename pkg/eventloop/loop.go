// Package eventloop runs callbacks from many goroutines on one control flow.
//
// Network callbacks, timers and message handlers post tasks onto a Loop; the
// Loop runs them one at a time, so state owned by the loop needs no locking.
// Tasks must not block.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("event loop stopped")

// Loop is a single-threaded task queue.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
	logger  *zap.SugaredLogger
}

// New creates a loop with the given queue capacity.
func New(capacity int, logger *zap.SugaredLogger) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loop{
		tasks:  make(chan func(), capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("event loop task panicked", "panic", r)
		}
	}()
	task()
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if l.stopped.Load() {
		return false
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends Run. Pending tasks are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.stopped.Store(true)
		close(l.done)
	})
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a periodic or one-shot callback scheduled on a Loop.
type Timer struct {
	loop      *Loop
	cancelled atomic.Bool
	quit      chan struct{}
	once      sync.Once
}

// Every runs fn on the loop every interval until the timer is stopped.
// Ticks are dropped, not queued, while the previous one is still pending.
func (l *Loop) Every(interval time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, quit: make(chan struct{})}
	var pending atomic.Bool
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				if !pending.CompareAndSwap(false, true) {
					continue
				}
				if !l.Post(func() {
					pending.Store(false)
					if !t.cancelled.Load() {
						fn()
					}
				}) {
					return
				}
			}
		}
	}()
	return t
}

// After runs fn on the loop once after delay unless stopped first.
func (l *Loop) After(delay time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, quit: make(chan struct{})}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.quit:
		case <-l.done:
		case <-timer.C:
			l.Post(func() {
				if t.cancelled.CompareAndSwap(false, true) {
					fn()
				}
			})
		}
	}()
	return t
}

// Stop cancels the timer. Called from the loop, it guarantees fn will not
// run again, including a tick already queued.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.once.Do(func() { close(t.quit) })
}

// Stopped reports whether Stop was called or a one-shot timer fired.
func (t *Timer) Stopped() bool {
	return t.cancelled.Load()
}
