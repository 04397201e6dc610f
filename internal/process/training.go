package process

import (
	"time"

	"github.com/roach88/helmsman/internal/checkpoint"
	"github.com/roach88/helmsman/internal/exec"
)

// Training process statuses surfaced through the state query.
const (
	TrainingRunning   = "running"
	TrainingStopped   = "stopped"
	TrainingCompleted = "completed"
	TrainingFailed    = "failed"
)

const reviewTimeout = time.Hour

type trainingState struct {
	status      string
	epoch       int64
	lossMilli   int64
	checkpoints []exec.Payload
	lastRef     string
}

func (s *trainingState) record() exec.Payload {
	cps := make([]any, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		cps[i] = cp
	}
	return exec.Payload{
		"status":      s.status,
		"epoch":       s.epoch,
		"loss_milli":  s.lossMilli,
		"checkpoints": cps,
		"last_ref":    s.lastRef,
	}
}

// Training supervises a model-training run: epochs through the
// checkpointed loop, a review gate every review_interval epochs, cleanup
// then re-raise on a failed epoch, and a final evaluation. A resumed run
// passes resume_index (the last checkpoint's index) and resume_ref, and
// never re-runs finished epochs.
func Training(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
	epochs, err := input.Int("epochs")
	if err != nil {
		return nil, exec.NewAppError("validation", "%v", err)
	}
	start := input.IntOr("resume_index", 0)

	state := &trainingState{
		status:  TrainingRunning,
		epoch:   start,
		lastRef: input.StringOr("resume_ref", ""),
	}
	ctx.SetQueryHandler("state", state.record)

	loop := &checkpoint.Loop{
		Start:          start,
		Total:          epochs,
		Interval:       input.IntOr("checkpoint_interval", 10),
		ReviewInterval: input.IntOr("review_interval", 0),
		ReviewSlot:     "review",
		ReviewTimeout:  reviewTimeout,
		NotifyTo:       "researchers",
		RunUnit: func(ctx exec.Context, index, seedDraw int64, params exec.Payload) (exec.Payload, error) {
			out, err := ctx.Execute("run-epoch", exec.Payload{
				"training_key": ctx.Key(),
				"epoch":        index,
				"seed_draw":    seedDraw,
			}, exec.RetryPolicy{})
			if err != nil {
				return nil, err
			}
			state.epoch = index + 1
			state.lossMilli = out.IntOr("loss_milli", 0)
			return out, nil
		},
		Save: func(ctx exec.Context, index int64, unitOut exec.Payload) (string, error) {
			out, err := ctx.Execute("save-checkpoint", exec.Payload{
				"training_key": ctx.Key(),
				"epoch":        index,
				"loss_milli":   unitOut.IntOr("loss_milli", 0),
			}, exec.RetryPolicy{})
			if err != nil {
				return "", err
			}
			ref := out.StringOr("ref", "")
			state.lastRef = ref
			cp := exec.Payload{
				"index":        index,
				"metric_milli": unitOut.IntOr("loss_milli", 0),
				"ref":          ref,
				"batch_hash":   unitOut.StringOr("batch_hash", ""),
			}
			ctx.RecordMarker("checkpoint", cp)
			state.checkpoints = append(state.checkpoints, cp)
			return ref, nil
		},
		Cleanup: func(ctx exec.Context, index int64) error {
			// Discard partial artifacts of the failed epoch so a resumed
			// run starts clean from the last durable checkpoint.
			_, err := ctx.Execute("delete-checkpoint", exec.Payload{
				"ref": "ckpt/" + ctx.Key() + "/partial",
			}, exec.NoRetry)
			return err
		},
	}

	res, err := loop.Run(ctx, input)
	if err != nil {
		state.status = TrainingFailed
		return nil, err
	}
	if res.Stopped {
		state.status = TrainingStopped
	}

	// Make sure evaluation has an artifact: when the run ended off an
	// interval boundary, snapshot the final state first.
	finalRef := res.LastRef
	if finalRef == "" {
		finalRef = input.StringOr("resume_ref", "")
	}
	if finalRef == "" || res.Completed%max(loop.Interval, 1) != 0 {
		out, err := ctx.Execute("save-checkpoint", exec.Payload{
			"training_key": ctx.Key(),
			"epoch":        res.Completed,
			"loss_milli":   state.lossMilli,
		}, exec.RetryPolicy{})
		if err != nil {
			state.status = TrainingFailed
			return nil, err
		}
		finalRef = out.StringOr("ref", "")
		state.lastRef = finalRef
		ctx.RecordMarker("checkpoint", exec.Payload{
			"index":        res.Completed,
			"metric_milli": state.lossMilli,
			"ref":          finalRef,
			"batch_hash":   "",
		})
	}

	// A stop decision transitions directly to final evaluation, same as
	// natural completion.
	evalOut, err := ctx.Execute("evaluate-model", exec.Payload{
		"training_key": ctx.Key(),
		"ref":          finalRef,
	}, exec.RetryPolicy{})
	if err != nil {
		state.status = TrainingFailed
		return nil, err
	}
	if !res.Stopped {
		state.status = TrainingCompleted
	}

	return exec.Payload{
		"epochs_completed": res.Completed,
		"stopped":          res.Stopped,
		"last_ref":         finalRef,
		"score_milli":      evalOut.IntOr("score_milli", 0),
	}, nil
}
