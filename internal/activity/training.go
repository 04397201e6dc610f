package activity

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/helmsman/internal/exec"
)

// Trainer runs training units and manages checkpoint artifacts.
type Trainer interface {
	RunEpoch(ctx context.Context, key string, epoch, seedDraw int64) (lossMilli int64, batchHash string, err error)
	SaveCheckpoint(ctx context.Context, key string, epoch, lossMilli int64) (ref string, err error)
	DeleteCheckpoint(ctx context.Context, ref string) error
	Evaluate(ctx context.Context, key, ref string) (scoreMilli int64, err error)
}

// TrainingActivities builds the training process's activity set.
func TrainingActivities(tr Trainer) Registry {
	return Registry{
		"run-epoch": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("training_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			epoch, err := in.Int("epoch")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			loss, hash, err := tr.RunEpoch(ctx, key, epoch, in.IntOr("seed_draw", 0))
			if err != nil {
				return nil, err
			}
			return exec.Payload{"loss_milli": loss, "batch_hash": hash}, nil
		},
		"save-checkpoint": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("training_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			epoch, err := in.Int("epoch")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			ref, err := tr.SaveCheckpoint(ctx, key, epoch, in.IntOr("loss_milli", 0))
			if err != nil {
				return nil, err
			}
			return exec.Payload{"ref": ref}, nil
		},
		"delete-checkpoint": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			ref, err := in.String("ref")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			return nil, tr.DeleteCheckpoint(ctx, ref)
		},
		"evaluate-model": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("training_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			score, err := tr.Evaluate(ctx, key, in.StringOr("ref", ""))
			if err != nil {
				return nil, err
			}
			return exec.Payload{"score_milli": score}, nil
		},
	}
}

// MemTrainer simulates training: loss decays with the epoch number, with
// bounded jitter from the caller's seed draw so runs stay reproducible.
type MemTrainer struct {
	mu          sync.Mutex
	checkpoints map[string]int64 // ref -> loss at save
	failEpochs  map[int64]int    // epoch -> remaining failures
}

func NewMemTrainer() *MemTrainer {
	return &MemTrainer{
		checkpoints: make(map[string]int64),
		failEpochs:  make(map[int64]int),
	}
}

// FailEpoch makes the next n attempts of the given epoch fail with a
// retryable error.
func (m *MemTrainer) FailEpoch(epoch int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEpochs[epoch] = n
}

func (m *MemTrainer) RunEpoch(_ context.Context, key string, epoch, seedDraw int64) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failEpochs[epoch] > 0 {
		m.failEpochs[epoch]--
		return 0, "", exec.NewAppError("unavailable", "training backend lost epoch %d", epoch)
	}
	loss := 1_000_000/(epoch+1) + seedDraw%1000
	hash, err := exec.CheckpointHash(key, epoch, exec.Payload{"seed_draw": seedDraw})
	if err != nil {
		return 0, "", fmt.Errorf("batch hash: %w", err)
	}
	return loss, hash, nil
}

func (m *MemTrainer) SaveCheckpoint(_ context.Context, key string, epoch, lossMilli int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := fmt.Sprintf("ckpt/%s/%d", key, epoch)
	m.checkpoints[ref] = lossMilli
	return ref, nil
}

func (m *MemTrainer) DeleteCheckpoint(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Deleting an absent checkpoint converges.
	delete(m.checkpoints, ref)
	return nil
}

func (m *MemTrainer) Evaluate(_ context.Context, _, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loss, ok := m.checkpoints[ref]
	if !ok {
		return 0, exec.NewAppError("validation", "checkpoint %q not found", ref)
	}
	// Score is inverse to the checkpointed loss, floored at zero.
	score := 1_000_000 - loss
	if score < 0 {
		score = 0
	}
	return score, nil
}

// Saved reports whether a checkpoint artifact exists.
func (m *MemTrainer) Saved(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checkpoints[ref]
	return ok
}
