// Package saga sequences forward steps with compensating actions. When a
// step fails, the compensations of every completed step run in reverse
// order inside a shielded section; compensation is best effort and the
// original trigger error is what the run fails with.
package saga

import (
	"go.uber.org/multierr"

	"github.com/roach88/helmsman/internal/exec"
)

// Step is one forward action with an optional compensating action.
// Execute may be a plain activity call, a gate, or any composition over
// the context; returning an error triggers rollback of everything before
// it. Compensate receives the step's own recorded output (reservation
// ids, charge ids) and must be idempotent.
type Step struct {
	Name       string
	Execute    func(ctx exec.Context, s *Saga) (exec.Payload, error)
	Compensate func(ctx exec.Context, output exec.Payload) error
}

// CompletedStep records one successfully executed step.
type CompletedStep struct {
	Name   string
	Output exec.Payload
}

// Saga runs an ordered step list with compensation on failure.
type Saga struct {
	steps          []Step
	completed      []CompletedStep
	beforeRollback func()
}

// BeforeRollback registers fn to run just before compensation starts,
// typically to flip a queryable status to compensating.
func (s *Saga) BeforeRollback(fn func()) {
	s.beforeRollback = fn
}

// New builds a saga over the given steps.
func New(steps ...Step) *Saga {
	return &Saga{steps: steps}
}

// Completed returns the steps that have executed successfully, in order.
func (s *Saga) Completed() []CompletedStep {
	out := make([]CompletedStep, len(s.completed))
	copy(out, s.completed)
	return out
}

// Output returns the recorded output of a completed step, or nil.
func (s *Saga) Output(name string) exec.Payload {
	for _, c := range s.completed {
		if c.Name == name {
			return c.Output
		}
	}
	return nil
}

// Run executes the steps in order. A cancellation observed between steps
// rolls back like a failure and returns CanceledError. On any failure the
// completed steps are compensated in reverse order and the trigger error
// is returned unchanged.
func (s *Saga) Run(ctx exec.Context) error {
	for _, step := range s.steps {
		if ctx.Cancelled() {
			err := &exec.CanceledError{Reason: ctx.CancelReason()}
			ctx.Logger().Info("saga observed cancellation, rolling back",
				"step", step.Name, "reason", err.Reason)
			s.compensate(ctx)
			return err
		}

		out, err := step.Execute(ctx, s)
		if err != nil {
			ctx.Logger().Warn("saga step failed, rolling back",
				"step", step.Name, "error", err)
			s.compensate(ctx)
			return err
		}
		s.completed = append(s.completed, CompletedStep{Name: step.Name, Output: out})
	}
	return nil
}

// Rollback compensates every completed step even though the forward path
// succeeded. Used when a process accepts cancellation after its steps ran
// but before it committed to completion.
func (s *Saga) Rollback(ctx exec.Context) {
	s.compensate(ctx)
}

// compensate undoes the completed steps in reverse order. It runs
// shielded so a pending cancellation cannot interrupt rollback, and every
// compensation is attempted regardless of earlier compensation failures.
func (s *Saga) compensate(ctx exec.Context) {
	if s.beforeRollback != nil {
		s.beforeRollback()
	}
	ctx.Shield(func() {
		var errs error
		for i := len(s.completed) - 1; i >= 0; i-- {
			done := s.completed[i]
			comp := s.findStep(done.Name).Compensate
			if comp == nil {
				continue
			}
			if err := comp(ctx, done.Output); err != nil {
				ctx.Logger().Error("compensation failed",
					"step", done.Name, "error", err)
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			ctx.Logger().Error("rollback finished with failures", "error", errs)
		} else {
			ctx.Logger().Info("rollback finished", "steps", len(s.completed))
		}
	})
}

func (s *Saga) findStep(name string) Step {
	for _, step := range s.steps {
		if step.Name == name {
			return step
		}
	}
	return Step{}
}
