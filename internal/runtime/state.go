package runtime

import (
	"log/slog"
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/store"
)

// execState is the scheduler-owned record of one hosted execution.
//
// Ownership discipline: every field is mutated only by the scheduler
// goroutine, except shieldDepth and queries (written by the execution's
// own goroutine while it runs) and result/err (written once just before
// finCh). Strict hand-off makes those accesses mutually exclusive: the
// scheduler touches an execState only while its logic is parked.
type execState struct {
	key      string
	workflow string
	input    exec.Payload
	wf       exec.Workflow
	seed     int64
	rng      *exec.RNG
	logger   *slog.Logger
	order    int // creation order, breaks timer-deadline ties

	cmdCh chan *command
	resCh chan cmdResult
	finCh chan struct{}
	done  chan struct{}

	// pending is the command the logic is suspended on. It stays set
	// while the execution is parked so external resolution (signal,
	// timer, child completion) can record the right event.
	pending *command
	parked  bool

	deadline    time.Duration
	hasDeadline bool

	history []store.Event
	cursor  int

	slots   map[string]exec.Payload
	queries map[string]func() exec.Payload

	cancelRequested bool
	cancelReason    string
	shieldDepth     int

	finished bool
	status   exec.Status
	reason   string
	result   exec.Payload
	err      error

	// waiters are parent executions parked on this child's completion.
	waiters []*execState
}

// nextSeq returns the seq the next appended event will carry.
func (es *execState) nextSeq() int64 {
	return int64(len(es.history)) + 1
}

// consumeCancelEvents applies any recorded cancellation requests sitting
// at the replay cursor. Cancel events are interleaved with command events
// at the position they were delivered, so replaying logic observes the
// cancellation flag flip at exactly the same point it did live.
func (es *execState) consumeCancelEvents() {
	for es.cursor < len(es.history) && es.history[es.cursor].Kind == kindCancel {
		ev := es.history[es.cursor]
		es.cancelRequested = true
		es.cancelReason = ev.Payload.StringOr("reason", "")
		es.cursor++
	}
}

// replaying reports whether the cursor still points into recorded history.
func (es *execState) replaying() bool {
	return es.cursor < len(es.history)
}

// childHandle is the exec.Child implementation handed to parent logic.
type childHandle struct {
	ctx    *execContext
	key    string
	suffix string
}

// Key returns the child's execution key.
func (h *childHandle) Key() string {
	return h.key
}

// Await suspends the parent until the child reaches a terminal state.
func (h *childHandle) Await() (exec.Payload, error) {
	res := h.ctx.await(&command{
		kind:     cmdAwaitChild,
		name:     h.suffix,
		childKey: h.key,
		shielded: h.ctx.es.shieldDepth > 0,
	})
	return res.payload, res.err
}
