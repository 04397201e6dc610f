package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/store"
)

// ErrStopped is returned for requests submitted after the runtime has
// been stopped.
var ErrStopped = errors.New("runtime stopped")

// ErrNotFound is returned for requests against an unknown execution key.
var ErrNotFound = errors.New("execution not found")

// ActivityFunc is a registered activity handler. Handlers perform the
// actual side effect; the scheduler owns retries and history recording.
type ActivityFunc func(ctx context.Context, input exec.Payload) (exec.Payload, error)

// Runtime hosts process executions over a history store. See the package
// documentation for the scheduling and replay model.
type Runtime struct {
	st         *store.Store
	clock      Clock
	queue      *requestQueue
	workflows  map[string]exec.Workflow
	activities map[string]ActivityFunc

	// Scheduler-owned state below; touched only from Run's goroutine.
	ctx      context.Context
	execs    map[string]*execState
	order    []*execState
	nextSlot int
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the scheduler clock. Defaults to a virtual clock, which
// is what tests and the harness want; the dev server passes a wall clock.
func WithClock(c Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// New creates a Runtime over the given store.
func New(st *store.Store, opts ...Option) *Runtime {
	r := &Runtime{
		st:         st,
		clock:      NewVirtualClock(),
		queue:      newRequestQueue(),
		workflows:  make(map[string]exec.Workflow),
		activities: make(map[string]ActivityFunc),
		execs:      make(map[string]*execState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterWorkflow registers a process definition under a name.
// Must be called before Run.
func (r *Runtime) RegisterWorkflow(name string, wf exec.Workflow) {
	r.workflows[name] = wf
}

// RegisterActivity registers an activity handler under a name.
// Must be called before Run.
func (r *Runtime) RegisterActivity(name string, fn ActivityFunc) {
	r.activities[name] = fn
}

// Run starts the single-writer scheduler loop. Blocks until the context
// is cancelled or Stop is called and the queue has drained.
//
// Must be called from exactly one goroutine. All execution stepping,
// store writes, and timer firing happen here.
func (r *Runtime) Run(ctx context.Context) error {
	r.ctx = ctx
	slog.Info("runtime starting")

	for {
		if req, ok := r.queue.TryDequeue(); ok {
			r.handle(req)
			continue
		}

		if r.queue.Closed() {
			slog.Info("runtime stopping: queue closed")
			return nil
		}

		// Wall-clock mode: arm the earliest parked deadline. The virtual
		// clock never fires on its own; AdvanceTime drives it.
		if _, wall := r.clock.(*WallClock); wall {
			if at, ok := r.earliestDeadline(); ok {
				wait := at - r.clock.Now()
				if wait < 0 {
					wait = 0
				}
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					r.drainAndFail()
					return ctx.Err()
				case <-r.queue.Wait():
					timer.Stop()
				case <-timer.C:
					r.fireDue(r.clock.Now())
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			r.drainAndFail()
			return ctx.Err()
		case <-r.queue.Wait():
		}
	}
}

// Stop closes the request queue; Run returns once remaining requests are
// drained. Parked execution goroutines are abandoned; Stop is for
// process shutdown, not mid-flight teardown.
func (r *Runtime) Stop() {
	r.queue.Close()
}

// drainAndFail answers all queued requests with ErrStopped so callers
// blocked on replies are released during shutdown.
func (r *Runtime) drainAndFail() {
	for {
		req, ok := r.queue.TryDequeue()
		if !ok {
			return
		}
		if req.errCh != nil {
			req.errCh <- ErrStopped
		}
	}
}

func (r *Runtime) submit(req *request) error {
	if !r.queue.Enqueue(req) {
		return ErrStopped
	}
	return <-req.errCh
}

// StartExecution starts (or resumes, when history already exists) the
// named workflow under the given key. Returns once the execution reaches
// its first suspension point or completes; a key whose previous run
// already reached a terminal state is rejected.
func (r *Runtime) StartExecution(workflow, key string, input exec.Payload) error {
	return r.submit(&request{
		kind:     reqStart,
		workflow: workflow,
		key:      key,
		payload:  input.Clone(),
		errCh:    make(chan error, 1),
	})
}

// Signal delivers a payload to an execution's decision slot. The slot
// holds one value; a second signal before the gate samples it overwrites
// the first. Returns once every execution step the signal unblocked has
// been processed. Signalling a terminal execution is a no-op.
func (r *Runtime) Signal(key, slot string, payload exec.Payload) error {
	return r.submit(&request{
		kind:    reqSignal,
		key:     key,
		slot:    slot,
		payload: payload.Clone(),
		errCh:   make(chan error, 1),
	})
}

// Cancel requests cooperative cancellation of an execution. The request
// is observed at the next unshielded suspension point; cancelling a
// terminal execution is a no-op.
func (r *Runtime) Cancel(key, reason string) error {
	return r.submit(&request{
		kind:   reqCancel,
		key:    key,
		reason: reason,
		errCh:  make(chan error, 1),
	})
}

// Query performs a synchronous read of an execution's state. The builtin
// "status" query is always available; others are registered by the
// process definition. Handlers run while the execution is parked, so the
// read is race-free and side-effect-free.
func (r *Runtime) Query(key, name string) (exec.Payload, error) {
	req := &request{
		kind:  reqQuery,
		key:   key,
		name:  name,
		errCh: make(chan error, 1),
		resCh: make(chan exec.Payload, 1),
	}
	if err := r.submit(req); err != nil {
		return nil, err
	}
	return <-req.resCh, nil
}

// AdvanceTime moves the virtual clock forward by d, firing due timers in
// deadline order and running everything they unblock. Returns an error
// under a wall clock.
func (r *Runtime) AdvanceTime(d time.Duration) error {
	return r.submit(&request{
		kind:  reqAdvance,
		d:     d,
		errCh: make(chan error, 1),
	})
}

// AwaitResult blocks until the execution reaches a terminal state and
// returns its output or error.
func (r *Runtime) AwaitResult(ctx context.Context, key string) (exec.Payload, error) {
	req := &request{
		kind:  reqAwait,
		key:   key,
		errCh: make(chan error, 1),
		esCh:  make(chan *execState, 1),
	}
	if err := r.submit(req); err != nil {
		return nil, err
	}
	es := <-req.esCh
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-es.done:
	}
	return es.result, es.err
}

// Store exposes the history store for read-only diagnostics (CLI replay
// inspection, API checkpoint listings).
func (r *Runtime) Store() *store.Store {
	return r.st
}

func (r *Runtime) handle(req *request) {
	switch req.kind {
	case reqStart:
		req.errCh <- r.handleStart(req)
	case reqSignal:
		req.errCh <- r.handleSignal(req)
	case reqCancel:
		req.errCh <- r.handleCancel(req)
	case reqQuery:
		res, err := r.handleQuery(req)
		if err != nil {
			req.errCh <- err
			return
		}
		req.errCh <- nil
		req.resCh <- res
	case reqAdvance:
		req.errCh <- r.handleAdvance(req)
	case reqAwait:
		es, ok := r.execs[req.key]
		if !ok {
			req.errCh <- fmt.Errorf("await %s: %w", req.key, ErrNotFound)
			return
		}
		req.errCh <- nil
		req.esCh <- es
	default:
		if req.errCh != nil {
			req.errCh <- fmt.Errorf("unknown request kind %d", req.kind)
		}
	}
}
