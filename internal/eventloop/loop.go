// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Network reads, call completions and timers never touch shared state
// directly: they post a callback and the loop runs it. Callbacks therefore
// never overlap, but the order between independently posted callbacks is
// whatever order they reached the queue in.
package eventloop

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrClosed is returned by Do once the loop has been shut down.
var ErrClosed = errors.New("event loop closed")

// Scheduler is the subset of Loop used by components that only enqueue work.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) *Timer
}

// Loop is a cooperative single-goroutine executor with an unbounded queue.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a loop. Close must be called to release its goroutine.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger: logger.With("component", "eventloop"),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return.
// It must not be called from a loop callback.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have drained fn before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// AfterFunc arms a timer whose callback runs on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.claim() {
				fn()
			}
		})
	})
	return t
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit. Timers that fire afterwards are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.quit)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("callback panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Timer is a loop-bound timer. Stop prevents a pending callback from running
// even if the underlying timer already fired and its callback is queued.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	spent bool
}

// Stop cancels the timer. It reports whether the callback was still pending.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := !t.spent
	t.spent = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return pending
}

// claim marks the timer as fired; false means it was stopped first.
func (t *Timer) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spent {
		return false
	}
	t.spent = true
	return true
}
