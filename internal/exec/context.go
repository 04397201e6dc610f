package exec

import (
	"log/slog"
	"time"
)

// Status is the terminal-or-running status of one execution as seen by
// the substrate. Process-level statuses (awaiting_approval, compensating,
// budget_exceeded, ...) live in each process's queryable state record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WaitOutcome describes how a signal wait resolved.
type WaitOutcome int

const (
	// WaitDelivered: a decision arrived before the timeout.
	WaitDelivered WaitOutcome = iota + 1
	// WaitTimedOut: the timeout fired with no decision set.
	WaitTimedOut
	// WaitCancelled: a cancellation was observed while waiting outside a
	// shielded section.
	WaitCancelled
)

// WaitResult is the outcome of AwaitSignal.
type WaitResult struct {
	Outcome WaitOutcome
	Payload Payload // set only for WaitDelivered
}

// Child is a handle to a launched child execution. Awaiting it is a
// suspension point; the child's failure surfaces as the returned error and
// never mutates the parent's state.
type Child interface {
	Key() string
	Await() (Payload, error)
}

// Workflow is a process definition: a deterministic function from input
// payload to output payload, composed entirely of Context operations.
type Workflow func(ctx Context, input Payload) (Payload, error)

// Context is the single capability handle orchestration logic receives.
// There is deliberately no access to wall clocks, OS randomness, or I/O:
// every such need routes through these methods so that the substrate can
// record outcomes and reproduce them on replay.
//
// All methods must be called from the execution's own logical thread.
type Context interface {
	// Key returns the globally unique execution key.
	Key() string

	// Execute performs one activity call through the gateway. The result
	// (success or terminal failure) is recorded at most once; replaying
	// history returns the recorded outcome without re-invoking the side
	// effect. A zero policy means DefaultRetryPolicy.
	Execute(name string, input Payload, policy RetryPolicy) (Payload, error)

	// ExecuteDetached performs a best-effort fire-and-forget activity call
	// (notifications). Failures are logged and swallowed; the attempt is
	// recorded so replay does not re-send.
	ExecuteDetached(name string, input Payload)

	// AwaitSignal suspends until the named decision slot is set or the
	// timeout elapses. The slot is a single overwritable value sampled at
	// this suspension point and cleared on read; a later wait on the same
	// slot starts from an unset state. A non-positive timeout waits
	// indefinitely.
	AwaitSignal(slot string, timeout time.Duration) WaitResult

	// Sleep suspends for the given duration of substrate time. Outside a
	// shielded section a cancellation interrupts the sleep and a
	// CanceledError is returned.
	Sleep(d time.Duration) error

	// StartChild launches an independent child execution whose key is
	// this execution's key plus "/" plus suffix. The child has its own
	// history, state, and failure domain.
	StartChild(workflow, suffix string, input Payload) (Child, error)

	// Shield runs fn with cancellation observation suppressed, so that
	// compensation and cleanup cannot be aborted mid-way.
	Shield(fn func())

	// Cancelled reports whether a cancellation has been requested and not
	// yet consumed by a failure path. Always false inside Shield.
	Cancelled() bool

	// CancelReason returns the reason delivered with the cancellation
	// request, or "" when none is pending.
	CancelReason() string

	// RecordMarker appends a side-effect-free event to history, e.g. a
	// strategy switch, so the transition is explicit in the record.
	RecordMarker(name string, payload Payload)

	// RNG returns the execution's deterministic generator, seeded from the
	// execution key or from an explicit "seed" input field.
	RNG() *RNG

	// SetQueryHandler registers a pure, non-blocking read of in-process
	// state. Handlers run only while the execution is parked at a
	// suspension point and must not perform I/O or randomness.
	SetQueryHandler(name string, fn func() Payload)

	// Logger returns a structured logger scoped with the execution key.
	Logger() *slog.Logger
}
