// Package checkpoint runs long unit-by-unit work with periodic durable
// checkpoints, periodic review gates, and cleanup-then-reraise on unit
// failure. The loop is pure orchestration: all effects happen through
// the callbacks, which call activities on the caller's context.
package checkpoint

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/gate"
)

// seedDrawMax bounds the per-unit RNG draw handed to RunUnit.
const seedDrawMax = 1 << 30

// Loop configures one checkpointed run over units [Start, Total).
type Loop struct {
	Start int64 // first unit to run; a resumed run passes checkpoint index + 1
	Total int64

	Interval       int64 // checkpoint every N completed units; 0 disables
	ReviewInterval int64 // review gate every N completed units; 0 disables
	ReviewSlot     string
	ReviewTimeout  time.Duration
	NotifyTo       string

	// RunUnit performs one unit of work. seedDraw is a per-unit draw from
	// the execution's deterministic RNG.
	RunUnit func(ctx exec.Context, index, seedDraw int64, params exec.Payload) (exec.Payload, error)
	// Save persists a checkpoint and returns the artifact ref. The index
	// it receives is the resume point: the number of units completed, so
	// a run resumed with Start set to it never re-runs finished work.
	// Indices passed to Save are strictly increasing within a run and
	// across resumes.
	Save func(ctx exec.Context, index int64, unitOut exec.Payload) (string, error)
	// Cleanup discards partial effects of a failed unit. Best effort: it
	// runs shielded, errors are logged, and the unit's own error is what
	// the loop returns.
	Cleanup func(ctx exec.Context, index int64) error
}

// Result reports how a loop ended.
type Result struct {
	Completed int64        // units completed across the whole run, incl. resumed ones
	LastRef   string       // most recent checkpoint artifact ref
	Stopped   bool         // a review decision stopped the run early
	Params    exec.Payload // params after any review adjustments
}

// Run executes the loop. Params seeds the adjustable unit parameters;
// review adjustments merge into a copy, never the caller's map.
func (l *Loop) Run(ctx exec.Context, params exec.Payload) (Result, error) {
	params = params.Clone()
	if params == nil {
		params = exec.Payload{}
	}
	res := Result{Completed: l.Start, Params: params}

	for i := l.Start; i < l.Total; i++ {
		if ctx.Cancelled() {
			return res, &exec.CanceledError{Reason: ctx.CancelReason()}
		}

		draw := int64(ctx.RNG().NextInt(0, seedDrawMax))
		out, err := l.RunUnit(ctx, i, draw, params)
		if err != nil {
			l.cleanup(ctx, i)
			return res, err
		}
		res.Completed = i + 1
		done := i + 1

		if l.Interval > 0 && done%l.Interval == 0 && l.Save != nil {
			ref, err := l.Save(ctx, done, out)
			if err != nil {
				return res, err
			}
			res.LastRef = ref
			ctx.Logger().Info("checkpoint saved", "index", done, "ref", ref)
		}

		if l.ReviewInterval > 0 && done%l.ReviewInterval == 0 && done < l.Total {
			review, err := gate.AwaitReview(ctx, gate.ReviewOptions{
				Slot:     l.ReviewSlot,
				Timeout:  l.ReviewTimeout,
				NotifyTo: l.NotifyTo,
				Subject:  "review requested",
			})
			if err != nil {
				return res, err
			}
			switch review.Action {
			case gate.ReviewStop:
				ctx.Logger().Info("review stopped the run", "after_unit", i)
				res.Stopped = true
				return res, nil
			case gate.ReviewAdjust:
				for k, v := range review.Params {
					params[k] = v
				}
				res.Params = params
				ctx.Logger().Info("review adjusted params", "after_unit", i)
			}
		}
	}
	return res, nil
}

func (l *Loop) cleanup(ctx exec.Context, index int64) {
	if l.Cleanup == nil {
		return
	}
	ctx.Shield(func() {
		if err := l.Cleanup(ctx, index); err != nil {
			ctx.Logger().Error("unit cleanup failed", "index", index, "error", err)
		}
	})
}
