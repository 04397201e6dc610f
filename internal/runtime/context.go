package runtime

import (
	"log/slog"
	"time"

	"github.com/roach88/helmsman/internal/exec"
)

// execContext implements exec.Context for one hosted execution. All
// methods run on the execution's own goroutine; await hands control to
// the scheduler and blocks until it replies.
type execContext struct {
	r  *Runtime
	es *execState
}

var _ exec.Context = (*execContext)(nil)

func (c *execContext) await(cmd *command) cmdResult {
	c.es.cmdCh <- cmd
	return <-c.es.resCh
}

// Key returns the execution key.
func (c *execContext) Key() string {
	return c.es.key
}

// Execute performs one activity call through the gateway.
func (c *execContext) Execute(name string, input exec.Payload, policy exec.RetryPolicy) (exec.Payload, error) {
	if policy.IsZero() {
		policy = exec.DefaultRetryPolicy
	}
	res := c.await(&command{
		kind:     cmdActivity,
		name:     name,
		input:    input.Clone(),
		policy:   policy,
		shielded: c.es.shieldDepth > 0,
	})
	return res.payload, res.err
}

// ExecuteDetached performs a best-effort fire-and-forget activity call.
func (c *execContext) ExecuteDetached(name string, input exec.Payload) {
	c.await(&command{
		kind:     cmdDetached,
		name:     name,
		input:    input.Clone(),
		shielded: c.es.shieldDepth > 0,
	})
}

// AwaitSignal suspends until the slot is set, the timeout fires, or an
// unshielded wait observes a cancellation.
func (c *execContext) AwaitSignal(slot string, timeout time.Duration) exec.WaitResult {
	res := c.await(&command{
		kind:     cmdSignalWait,
		name:     slot,
		timeout:  timeout,
		shielded: c.es.shieldDepth > 0,
	})
	return res.wait
}

// Sleep suspends for d of substrate time.
func (c *execContext) Sleep(d time.Duration) error {
	res := c.await(&command{
		kind:     cmdSleep,
		name:     "sleep",
		timeout:  d,
		shielded: c.es.shieldDepth > 0,
	})
	return res.err
}

// StartChild launches an independent child execution.
func (c *execContext) StartChild(workflow, suffix string, input exec.Payload) (exec.Child, error) {
	res := c.await(&command{
		kind:   cmdStartChild,
		name:   workflow,
		suffix: suffix,
		input:  input.Clone(),
	})
	if res.err != nil {
		return nil, res.err
	}
	return res.child, nil
}

// Shield runs fn with cancellation observation suppressed.
func (c *execContext) Shield(fn func()) {
	c.es.shieldDepth++
	defer func() { c.es.shieldDepth-- }()
	fn()
}

// Cancelled reports a pending cancellation request. Always false inside
// a shielded section so rollback logic cannot observe it.
func (c *execContext) Cancelled() bool {
	if c.es.shieldDepth > 0 {
		return false
	}
	return c.es.cancelRequested
}

// CancelReason returns the pending cancellation reason.
func (c *execContext) CancelReason() string {
	return c.es.cancelReason
}

// RecordMarker appends a side-effect-free event to history.
func (c *execContext) RecordMarker(name string, payload exec.Payload) {
	c.await(&command{
		kind:  cmdMarker,
		name:  name,
		input: payload.Clone(),
	})
}

// RNG returns the execution's deterministic generator.
func (c *execContext) RNG() *exec.RNG {
	return c.es.rng
}

// SetQueryHandler registers a pure read of in-process state.
func (c *execContext) SetQueryHandler(name string, fn func() exec.Payload) {
	c.es.queries[name] = fn
}

// Logger returns a structured logger scoped with the execution key.
func (c *execContext) Logger() *slog.Logger {
	return c.es.logger
}
