package itemstore

import (
	"context"
	"errors"
	"sync"
)

// Queue is the deferred-call primitive the scheduler re-arms itself with.
// Post schedules fn on a later turn of the host's execution context.
type Queue interface {
	Post(fn func())
}

// QueueFunc adapts a plain function to Queue.
type QueueFunc func(fn func())

func (f QueueFunc) Post(fn func()) { f(fn) }

// deferQueue is the default Queue. Posted work runs FIFO once the outermost
// store call returns, so a store used from a single goroutine needs no pump.
type deferQueue struct {
	depth   int
	running bool
	pending []func()
}

func (q *deferQueue) Post(fn func()) {
	q.pending = append(q.pending, fn)
	if q.depth == 0 {
		q.run()
	}
}

func (q *deferQueue) hold() { q.depth++ }

func (q *deferQueue) release() {
	q.depth--
	if q.depth == 0 {
		q.run()
	}
}

func (q *deferQueue) run() {
	if q.running {
		return
	}
	q.running = true
	defer func() { q.running = false }()
	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		fn()
	}
}

// ManualQueue buffers posted work until the host pumps it.
// Not safe for concurrent use.
type ManualQueue struct {
	pending []func()
}

func (q *ManualQueue) Post(fn func()) { q.pending = append(q.pending, fn) }

func (q *ManualQueue) Len() int { return len(q.pending) }

// Step runs the oldest posted callback. It reports false when nothing was queued.
func (q *ManualQueue) Step() bool {
	if len(q.pending) == 0 {
		return false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	fn()
	return true
}

// Flush runs callbacks, including ones posted while flushing, until the
// queue is empty. It returns how many ran.
func (q *ManualQueue) Flush() int {
	n := 0
	for q.Step() {
		n++
	}
	return n
}

var ErrLoopClosed = errors.New("itemstore: loop closed")

// Loop is a serial executor for hosts whose adapters complete on other
// goroutines. Post is safe from any goroutine; Run executes callbacks one at a
// time on the calling goroutine. All store access must happen inside posted
// callbacks.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

func NewLoop() *Loop {
	return &Loop{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Post enqueues fn. Work posted after Close is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.tasks = append(l.tasks, fn)
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Run executes posted work until ctx is done or Close is called.
// Remaining work is drained before Run returns ErrLoopClosed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}
		l.mu.Lock()
		closed := l.closed && len(l.tasks) == 0
		l.mu.Unlock()
		if closed {
			return ErrLoopClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn, true
}

// Close stops accepting work and wakes Run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}
