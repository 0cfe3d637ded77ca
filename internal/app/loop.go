package app

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/gammazero/deque"
)

// Loop runs posted closures one at a time, in post order, on the goroutine
// that called Run. Everything the huddle owns is mutated only from inside it.
type Loop struct {
	mu     sync.Mutex
	queue  deque.Deque[func()]
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn without blocking. It reports false once the loop has exited.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue.PushBack(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return.
// Must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return core.ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return core.ErrLoopClosed
		}
	}
}

// Run drains the queue until ctx is cancelled. Closures still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.shutdown()
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue.Len() == 0 {
		return nil, false
	}
	return l.queue.PopFront(), true
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	l.queue.Clear()
	l.mu.Unlock()
	close(l.done)
}
