package runtime

import (
	"sync"
	"time"

	"github.com/roach88/helmsman/internal/exec"
)

// reqKind distinguishes external request kinds.
type reqKind int

const (
	reqStart reqKind = iota + 1
	reqSignal
	reqCancel
	reqQuery
	reqAdvance
	reqAwait
)

// request is one external event submitted to the scheduler. The reply
// channels are buffered (size 1) so the scheduler never blocks sending.
type request struct {
	kind     reqKind
	workflow string
	key      string
	slot     string
	name     string
	reason   string
	payload  exec.Payload
	d        time.Duration

	errCh chan error
	resCh chan exec.Payload
	esCh  chan *execState
}

// requestQueue is a thread-safe FIFO queue of external requests.
//
// Unbounded so callers never block enqueuing; a channel of size 1
// coalesces wakeup signals for the scheduler's context-aware wait.
type requestQueue struct {
	mu     sync.Mutex
	reqs   []*request
	closed bool
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		reqs:   make([]*request, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.reqs = append(q.reqs, r)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *requestQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.reqs) == 0 {
		return nil, false
	}
	r := q.reqs[0]
	// Nil the slot so the backing array releases the request promptly.
	q.reqs[0] = nil
	if len(q.reqs) == 1 {
		q.reqs = q.reqs[:0]
	} else {
		q.reqs = q.reqs[1:]
	}
	return r, true
}

// Wait returns a channel that signals when requests may be available.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

// Closed reports whether the queue has been closed.
func (q *requestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes all waiters.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
