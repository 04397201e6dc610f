// Package harness runs scripted orchestration scenarios against a real
// runtime over a fresh in-memory store, captures the recorded decision
// trace, and compares it with golden files. Scenarios double as
// conformance tests: the same script replays to the same trace, byte for
// byte, or something nondeterministic crept in.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/helmsman/internal/activity"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/process"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// resultTimeout bounds how long a scenario may run. Scenario work under
// the virtual clock is synchronous; a scenario hitting this deadline is
// parked waiting for an input its script never sends.
var resultTimeout = 10 * time.Second

// TraceEvent is one recorded decision, projected for comparison. Event
// payloads are deliberately excluded: the trace pins the decision
// sequence, not activity data.
type TraceEvent struct {
	Seq      int64
	Kind     string
	Name     string
	Outcome  string
	ErrClass string
	Attempts int
}

// Result is the outcome of one scenario run.
type Result struct {
	Output   exec.Payload
	Err      error
	Status   exec.Status
	Reason   string
	Trace    []TraceEvent
	Failures []string
}

// Passed reports whether every expectation and assertion held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario in a fresh in-memory store with in-memory
// activity backends and the full process catalogue registered.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open scenario store: %w", err)
	}
	defer st.Close()

	rt := runtime.New(st)
	for name, fn := range activity.All(activity.NewMemBackends()) {
		rt.RegisterActivity(name, runtime.ActivityFunc(fn))
	}
	process.Register(rt)

	go rt.Run(context.Background())
	defer rt.Stop()

	input, err := toPayload(scenario.Input)
	if err != nil {
		return nil, err
	}
	if err := rt.StartExecution(scenario.Workflow, scenario.Key, input); err != nil {
		return nil, fmt.Errorf("start %s/%s: %w", scenario.Workflow, scenario.Key, err)
	}

	for i, step := range scenario.Steps {
		if err := applyStep(rt, scenario.Key, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	res := &Result{}
	ctx, cancel := context.WithTimeout(context.Background(), resultTimeout)
	defer cancel()
	res.Output, res.Err = rt.AwaitResult(ctx, scenario.Key)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("scenario %s did not finish: parked on an input the script never sends", scenario.Name)
	}

	row, err := st.ReadExecution(ctx, scenario.Key)
	if err != nil {
		return nil, fmt.Errorf("read execution: %w", err)
	}
	res.Status = row.Status
	res.Reason = row.Reason

	history, err := st.ReadHistory(ctx, scenario.Key)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	res.Trace = make([]TraceEvent, len(history))
	for i, ev := range history {
		res.Trace[i] = TraceEvent{
			Seq:      ev.Seq,
			Kind:     ev.Kind,
			Name:     ev.Name,
			Outcome:  ev.Outcome,
			ErrClass: ev.ErrClass,
			Attempts: ev.Attempts,
		}
	}

	res.Failures = append(res.Failures, checkExpect(scenario.Expect, res)...)
	res.Failures = append(res.Failures, checkAssertions(scenario.Assertions, res.Trace)...)
	return res, nil
}

func applyStep(rt *runtime.Runtime, key string, step Step) error {
	switch {
	case step.Signal != "":
		payload, err := toPayload(step.Payload)
		if err != nil {
			return err
		}
		return rt.Signal(key, step.Signal, payload)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		return rt.AdvanceTime(d)
	case step.Cancel != "":
		return rt.Cancel(key, step.Cancel)
	}
	return fmt.Errorf("empty step")
}
