package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/store"
)

func (r *Runtime) handleStart(req *request) error {
	wf, ok := r.workflows[req.workflow]
	if !ok {
		return fmt.Errorf("workflow %q not registered", req.workflow)
	}
	if req.key == "" {
		return fmt.Errorf("execution key required")
	}
	if es, ok := r.execs[req.key]; ok {
		if es.finished {
			return fmt.Errorf("execution %s already reached %s", req.key, es.status)
		}
		return fmt.Errorf("execution %s already running", req.key)
	}

	input := req.payload
	seed := input.IntOr("seed", exec.SeedFromString(req.key))

	var history []store.Event
	row, err := r.st.ReadExecution(r.ctx, req.key)
	switch {
	case err == nil:
		// Existing key: reject terminal reuse, resume over history.
		if row.Status.Terminal() {
			return fmt.Errorf("execution %s already reached %s", req.key, row.Status)
		}
		seed = row.Seed
		input = row.Input
		history, err = r.st.ReadHistory(r.ctx, req.key)
		if err != nil {
			return fmt.Errorf("start %s: %w", req.key, err)
		}
		slog.Info("resuming execution over recorded history",
			"execution", req.key, "workflow", req.workflow, "events", len(history))
	case errors.Is(err, store.ErrNotFound):
		if _, err := r.st.CreateExecution(r.ctx, store.Execution{
			Key: req.key, Workflow: req.workflow, Status: exec.StatusRunning,
			Seed: seed, Input: input,
		}); err != nil {
			return fmt.Errorf("start %s: %w", req.key, err)
		}
	default:
		return fmt.Errorf("start %s: %w", req.key, err)
	}

	es := r.newExecState(req.key, req.workflow, wf, input, seed, history)
	r.spawn(es)
	r.drive(es)
	return nil
}

func (r *Runtime) newExecState(key, workflow string, wf exec.Workflow, input exec.Payload, seed int64, history []store.Event) *execState {
	es := &execState{
		key:      key,
		workflow: workflow,
		input:    input,
		wf:       wf,
		seed:     seed,
		rng:      exec.NewRNG(seed),
		logger:   slog.With("execution", key, "workflow", workflow),
		order:    r.nextSlot,
		cmdCh:    make(chan *command),
		resCh:    make(chan cmdResult),
		finCh:    make(chan struct{}),
		done:     make(chan struct{}),
		history:  history,
		slots:    make(map[string]exec.Payload),
		queries:  make(map[string]func() exec.Payload),
		status:   exec.StatusRunning,
	}
	r.nextSlot++
	r.execs[key] = es
	r.order = append(r.order, es)
	return es
}

func (r *Runtime) spawn(es *execState) {
	ec := &execContext{r: r, es: es}
	go func() {
		out, err := es.wf(ec, es.input)
		es.result, es.err = out, err
		es.finCh <- struct{}{}
	}()
	r.waitForPark(es)
}

// waitForPark blocks until the execution's logic either issues its next
// suspension command or returns.
func (r *Runtime) waitForPark(es *execState) {
	select {
	case cmd := <-es.cmdCh:
		es.pending = cmd
	case <-es.finCh:
		r.finalize(es)
	}
}

// drive steps an execution until it parks on an external wait or
// finishes. Runs entirely on the scheduler goroutine.
func (r *Runtime) drive(es *execState) {
	for !es.finished && es.pending != nil {
		res, parked := r.processCommand(es, es.pending)
		if parked {
			es.parked = true
			return
		}
		es.pending = nil
		es.resCh <- res
		r.waitForPark(es)
	}
}

// resume delivers a result for the command an execution was parked on
// and steps it until it parks again or finishes.
func (r *Runtime) resume(es *execState, res cmdResult) {
	es.parked = false
	es.hasDeadline = false
	es.pending = nil
	es.resCh <- res
	r.waitForPark(es)
	r.drive(es)
}

// processCommand executes one suspension command. Returns parked=true
// when the execution must wait for an external resolution (signal,
// timer, child completion).
func (r *Runtime) processCommand(es *execState, cmd *command) (cmdResult, bool) {
	// Child starts are deterministic and record no event of their own;
	// the await records the outcome.
	if cmd.kind == cmdStartChild {
		return r.startChild(es, cmd), false
	}

	es.consumeCancelEvents()

	if es.replaying() {
		return r.replayCommand(es, cmd), false
	}

	switch cmd.kind {
	case cmdActivity:
		return r.runActivity(es, cmd), false

	case cmdDetached:
		return r.runDetached(es, cmd), false

	case cmdMarker:
		r.record(es, kindMarker, cmd.name, outcomeRecorded, cmd.input, "", "", 0)
		return cmdResult{}, false

	case cmdSignalWait:
		if val, ok := es.slots[cmd.name]; ok {
			delete(es.slots, cmd.name)
			r.record(es, kindSignal, cmd.name, outcomeSignal, val, "", "", 0)
			return cmdResult{wait: exec.WaitResult{Outcome: exec.WaitDelivered, Payload: val}}, false
		}
		if es.cancelRequested && !cmd.shielded {
			r.record(es, kindSignal, cmd.name, outcomeCancelled, nil, "", "", 0)
			return cmdResult{wait: exec.WaitResult{Outcome: exec.WaitCancelled}}, false
		}
		if cmd.timeout > 0 {
			es.deadline = r.clock.Now() + cmd.timeout
			es.hasDeadline = true
		}
		return cmdResult{}, true

	case cmdSleep:
		if es.cancelRequested && !cmd.shielded {
			r.record(es, kindTimer, cmd.name, outcomeCancelled, nil, "", "", 0)
			return cmdResult{err: &exec.CanceledError{Reason: es.cancelReason}}, false
		}
		if cmd.timeout <= 0 {
			r.record(es, kindTimer, cmd.name, outcomeFired, nil, "", "", 0)
			return cmdResult{}, false
		}
		es.deadline = r.clock.Now() + cmd.timeout
		es.hasDeadline = true
		return cmdResult{}, true

	case cmdAwaitChild:
		child, ok := r.execs[cmd.childKey]
		if !ok {
			return cmdResult{err: fmt.Errorf("child %s: %w", cmd.childKey, ErrNotFound)}, false
		}
		if child.finished {
			return r.recordChildResult(es, cmd, child), false
		}
		child.waiters = append(child.waiters, es)
		return cmdResult{}, true

	default:
		return cmdResult{err: fmt.Errorf("unknown command kind %d", cmd.kind)}, false
	}
}

// replayCommand satisfies a command from recorded history without
// re-invoking any side effect.
func (r *Runtime) replayCommand(es *execState, cmd *command) cmdResult {
	ev := es.history[es.cursor]
	want := cmd.historyKind()
	if ev.Kind != want || ev.Name != cmd.name {
		return cmdResult{err: &exec.NondeterminismError{
			Execution: es.key,
			Seq:       ev.Seq,
			Recorded:  ev.Kind + "/" + ev.Name,
			Issued:    want + "/" + cmd.name,
		}}
	}
	es.cursor++

	switch ev.Kind {
	case kindActivity:
		if ev.Outcome == outcomeOK {
			return cmdResult{payload: ev.Payload}
		}
		return cmdResult{err: &exec.AppError{Class: ev.ErrClass, Message: ev.ErrMsg}}

	case kindDetached, kindMarker:
		return cmdResult{}

	case kindSignal:
		switch ev.Outcome {
		case outcomeSignal:
			return cmdResult{wait: exec.WaitResult{Outcome: exec.WaitDelivered, Payload: ev.Payload}}
		case outcomeCancelled:
			return cmdResult{wait: exec.WaitResult{Outcome: exec.WaitCancelled}}
		default:
			return cmdResult{wait: exec.WaitResult{Outcome: exec.WaitTimedOut}}
		}

	case kindTimer:
		if ev.Outcome == outcomeCancelled {
			return cmdResult{err: &exec.CanceledError{Reason: es.cancelReason}}
		}
		return cmdResult{}

	case kindChild:
		if ev.Outcome == outcomeOK {
			return cmdResult{payload: ev.Payload}
		}
		if ev.ErrClass == outcomeCancelled {
			return cmdResult{err: &exec.CanceledError{Reason: ev.ErrMsg}}
		}
		return cmdResult{err: &exec.AppError{Class: ev.ErrClass, Message: ev.ErrMsg}}

	default:
		return cmdResult{err: fmt.Errorf("unreplayable event kind %q at seq %d", ev.Kind, ev.Seq)}
	}
}

// runActivity executes one gateway call with the command's retry policy.
// Retries happen here, invisible to orchestration logic; only the final
// outcome is recorded.
func (r *Runtime) runActivity(es *execState, cmd *command) cmdResult {
	fn, ok := r.activities[cmd.name]
	if !ok {
		err := exec.NewAppError("not-registered", "activity %q not registered", cmd.name)
		r.record(es, kindActivity, cmd.name, outcomeError, nil, err.Class, err.Message, 0)
		return cmdResult{err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= cmd.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.clock.Sleep(cmd.policy.Delay(attempt))
		}
		out, err := fn(r.ctx, cmd.input)
		if err == nil {
			r.record(es, kindActivity, cmd.name, outcomeOK, out, "", "", attempt)
			return cmdResult{payload: out}
		}
		lastErr = err
		class := exec.ErrorClass(err)
		if !cmd.policy.Retryable(class) {
			es.logger.Warn("activity failed with non-retryable class",
				"activity", cmd.name, "class", class, "attempt", attempt, "error", err)
			r.record(es, kindActivity, cmd.name, outcomeError, nil, class, err.Error(), attempt)
			return cmdResult{err: &exec.AppError{Class: class, Message: err.Error()}}
		}
		es.logger.Debug("activity attempt failed, retrying",
			"activity", cmd.name, "class", class, "attempt", attempt, "error", err)
	}

	class := exec.ErrorClass(lastErr)
	es.logger.Warn("activity attempts exhausted",
		"activity", cmd.name, "class", class, "attempts", cmd.policy.MaxAttempts, "error", lastErr)
	r.record(es, kindActivity, cmd.name, outcomeError, nil, class, lastErr.Error(), cmd.policy.MaxAttempts)
	return cmdResult{err: &exec.AppError{Class: class, Message: lastErr.Error()}}
}

// runDetached performs a single best-effort attempt. The outcome is
// recorded (so replay does not re-send) but never surfaced.
func (r *Runtime) runDetached(es *execState, cmd *command) cmdResult {
	fn, ok := r.activities[cmd.name]
	if !ok {
		es.logger.Warn("detached activity not registered", "activity", cmd.name)
		r.record(es, kindDetached, cmd.name, outcomeError, nil, "not-registered", "", 0)
		return cmdResult{}
	}
	if _, err := fn(r.ctx, cmd.input); err != nil {
		es.logger.Warn("detached activity failed", "activity", cmd.name, "error", err)
		r.record(es, kindDetached, cmd.name, outcomeError, nil, exec.ErrorClass(err), err.Error(), 1)
		return cmdResult{}
	}
	r.record(es, kindDetached, cmd.name, outcomeOK, nil, "", "", 1)
	return cmdResult{}
}

// startChild creates (or re-attaches to) a child execution and runs it to
// its first park. Child creation is idempotent: on replay the child
// resumes over its own recorded history, so no effects repeat.
func (r *Runtime) startChild(es *execState, cmd *command) cmdResult {
	wf, ok := r.workflows[cmd.name]
	if !ok {
		return cmdResult{err: fmt.Errorf("workflow %q not registered", cmd.name)}
	}
	childKey := exec.ChildKey(es.key, cmd.suffix)

	child, exists := r.execs[childKey]
	if !exists {
		input := cmd.input
		seed := input.IntOr("seed", exec.SeedFromString(childKey))

		var history []store.Event
		row, err := r.st.ReadExecution(r.ctx, childKey)
		if err == nil {
			seed = row.Seed
			input = row.Input
			history, err = r.st.ReadHistory(r.ctx, childKey)
			if err != nil {
				return cmdResult{err: fmt.Errorf("start child %s: %w", childKey, err)}
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return cmdResult{err: fmt.Errorf("start child %s: %w", childKey, err)}
		} else {
			if _, err := r.st.CreateExecution(r.ctx, store.Execution{
				Key: childKey, Workflow: cmd.name, Status: exec.StatusRunning,
				Seed: seed, Input: input,
			}); err != nil {
				return cmdResult{err: fmt.Errorf("start child %s: %w", childKey, err)}
			}
		}

		child = r.newExecState(childKey, cmd.name, wf, input, seed, history)
		r.spawn(child)
		r.drive(child)
	}

	handle := &childHandle{ctx: &execContext{r: r, es: es}, key: childKey, suffix: cmd.suffix}
	return cmdResult{child: handle}
}

// recordChildResult appends the child outcome to the parent's history and
// builds the await result. Child failures cross the boundary as values;
// they never touch the parent's own state.
func (r *Runtime) recordChildResult(es *execState, cmd *command, child *execState) cmdResult {
	if child.err == nil {
		r.record(es, kindChild, cmd.name, outcomeOK, child.result, "", "", 0)
		return cmdResult{payload: child.result}
	}
	if exec.IsCanceled(child.err) {
		reason := exec.CancelReason(child.err)
		r.record(es, kindChild, cmd.name, outcomeError, nil, outcomeCancelled, reason, 0)
		return cmdResult{err: &exec.CanceledError{Reason: reason}}
	}
	class := exec.ErrorClass(child.err)
	r.record(es, kindChild, cmd.name, outcomeError, nil, class, child.err.Error(), 0)
	return cmdResult{err: &exec.AppError{Class: class, Message: child.err.Error()}}
}

// record appends one event to the execution's history, durably first,
// then in memory. A store failure is logged and the in-memory event
// still advances the execution: determinism is preserved, durability of
// this event is not.
func (r *Runtime) record(es *execState, kind, name, outcome string, payload exec.Payload, errClass, errMsg string, attempts int) {
	seq := es.nextSeq()
	hash, err := exec.EventHash(es.key, seq, kind, name, outcome, payload)
	if err != nil {
		es.logger.Error("event hash failed", "kind", kind, "name", name, "error", err)
	}
	ev := store.Event{
		Execution: es.key, Seq: seq, Kind: kind, Name: name, Outcome: outcome,
		Payload: payload, ErrClass: errClass, ErrMsg: errMsg, Attempts: attempts, Hash: hash,
	}
	if err := r.st.AppendEvent(r.ctx, ev); err != nil {
		es.logger.Error("history append failed", "seq", seq, "kind", kind, "name", name, "error", err)
	}
	if kind == kindMarker && name == checkpointMarker {
		// Checkpoint markers also project into the checkpoints table so
		// resume tooling can find the latest index without replaying.
		cp := store.Checkpoint{
			Execution:   es.key,
			Index:       payload.IntOr("index", 0),
			MetricMilli: payload.IntOr("metric_milli", 0),
			Ref:         payload.StringOr("ref", ""),
			BatchHash:   payload.StringOr("batch_hash", ""),
			Seq:         seq,
		}
		if err := r.st.WriteCheckpoint(r.ctx, cp); err != nil {
			es.logger.Error("checkpoint write failed", "index", cp.Index, "error", err)
		}
	}
	es.history = append(es.history, ev)
	es.cursor = len(es.history)
	es.logger.Debug("event recorded", "seq", seq, "kind", kind, "name", name, "outcome", outcome)
}

// finalize marks an execution terminal, persists its status, and resumes
// any parents parked on it.
func (r *Runtime) finalize(es *execState) {
	es.finished = true
	es.parked = false
	es.hasDeadline = false
	es.pending = nil

	switch {
	case es.err == nil:
		es.status = exec.StatusCompleted
	case exec.IsCanceled(es.err):
		es.status = exec.StatusCancelled
		es.reason = exec.CancelReason(es.err)
	default:
		es.status = exec.StatusFailed
		es.reason = es.err.Error()
	}

	if err := r.st.UpdateExecutionStatus(r.ctx, es.key, es.status, es.reason); err != nil {
		es.logger.Error("status update failed", "status", es.status, "error", err)
	}
	es.logger.Info("execution finished", "status", es.status, "reason", es.reason)
	close(es.done)

	waiters := es.waiters
	es.waiters = nil
	for _, parent := range waiters {
		res := r.recordChildResult(parent, parent.pending, es)
		r.resume(parent, res)
	}
}

func (r *Runtime) handleSignal(req *request) error {
	es, ok := r.execs[req.key]
	if !ok {
		return fmt.Errorf("signal %s: %w", req.key, ErrNotFound)
	}
	if es.finished {
		// Signals after terminal state are no-ops by design.
		return nil
	}

	es.slots[req.slot] = req.payload
	es.logger.Debug("signal delivered", "slot", req.slot)

	if es.parked && es.pending != nil && es.pending.kind == cmdSignalWait && es.pending.name == req.slot {
		val := es.slots[req.slot]
		delete(es.slots, req.slot)
		r.record(es, kindSignal, req.slot, outcomeSignal, val, "", "", 0)
		r.resume(es, cmdResult{wait: exec.WaitResult{Outcome: exec.WaitDelivered, Payload: val}})
	}
	return nil
}

func (r *Runtime) handleCancel(req *request) error {
	es, ok := r.execs[req.key]
	if !ok {
		return fmt.Errorf("cancel %s: %w", req.key, ErrNotFound)
	}
	if es.finished {
		// Cancellation after terminal state has no effect.
		return nil
	}

	es.cancelRequested = true
	es.cancelReason = req.reason
	r.record(es, kindCancel, "cancel", outcomeRequested, exec.Payload{"reason": req.reason}, "", "", 0)
	es.logger.Info("cancellation requested", "reason", req.reason)

	if es.parked && es.pending != nil && !es.pending.shielded {
		switch es.pending.kind {
		case cmdSignalWait:
			r.record(es, kindSignal, es.pending.name, outcomeCancelled, nil, "", "", 0)
			r.resume(es, cmdResult{wait: exec.WaitResult{Outcome: exec.WaitCancelled}})
		case cmdSleep:
			r.record(es, kindTimer, es.pending.name, outcomeCancelled, nil, "", "", 0)
			r.resume(es, cmdResult{err: &exec.CanceledError{Reason: req.reason}})
		}
	}
	return nil
}

func (r *Runtime) handleQuery(req *request) (exec.Payload, error) {
	es, ok := r.execs[req.key]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", req.key, ErrNotFound)
	}
	if req.name == "status" {
		return exec.Payload{
			"status": string(es.status),
			"reason": es.reason,
		}, nil
	}
	fn, ok := es.queries[req.name]
	if !ok {
		return nil, fmt.Errorf("query %q not registered on %s: %w", req.name, req.key, ErrNotFound)
	}
	return fn(), nil
}

// handleAdvance moves the virtual clock to now+d, firing due timers in
// deadline order (creation order breaks ties) and driving everything
// each firing unblocks before the next fires.
func (r *Runtime) handleAdvance(req *request) error {
	vc, ok := r.clock.(*VirtualClock)
	if !ok {
		return fmt.Errorf("advance requires a virtual clock")
	}
	target := vc.Now() + req.d

	for {
		es := r.nextDue(target)
		if es == nil {
			break
		}
		vc.Advance(es.deadline)
		r.fireTimer(es)
	}
	vc.Advance(target)
	return nil
}

// nextDue returns the parked execution with the earliest deadline at or
// before target, scanning in creation order so ties are deterministic.
func (r *Runtime) nextDue(target time.Duration) *execState {
	var due *execState
	for _, es := range r.order {
		if !es.parked || !es.hasDeadline || es.deadline > target {
			continue
		}
		if due == nil || es.deadline < due.deadline {
			due = es
		}
	}
	return due
}

// earliestDeadline reports the soonest parked deadline, if any.
func (r *Runtime) earliestDeadline() (time.Duration, bool) {
	var at time.Duration
	found := false
	for _, es := range r.order {
		if !es.parked || !es.hasDeadline {
			continue
		}
		if !found || es.deadline < at {
			at = es.deadline
			found = true
		}
	}
	return at, found
}

// fireDue fires every deadline at or before now (wall-clock mode).
func (r *Runtime) fireDue(now time.Duration) {
	for {
		es := r.nextDue(now)
		if es == nil {
			return
		}
		r.fireTimer(es)
	}
}

// fireTimer resolves the timed wait an execution is parked on.
func (r *Runtime) fireTimer(es *execState) {
	es.hasDeadline = false
	switch es.pending.kind {
	case cmdSignalWait:
		r.record(es, kindSignal, es.pending.name, outcomeTimeout, nil, "", "", 0)
		r.resume(es, cmdResult{wait: exec.WaitResult{Outcome: exec.WaitTimedOut}})
	case cmdSleep:
		r.record(es, kindTimer, es.pending.name, outcomeFired, nil, "", "", 0)
		r.resume(es, cmdResult{})
	default:
		es.logger.Error("timer fired for unexpected command", "kind", es.pending.kind.String())
	}
}
