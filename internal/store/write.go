package store

import (
	"context"
	"fmt"

	"github.com/roach88/helmsman/internal/exec"
)

// CreateExecution inserts an execution row. Returns created=false when the
// key already exists, which lets the caller distinguish a fresh start from
// a resume over existing history.
func (s *Store) CreateExecution(ctx context.Context, e Execution) (created bool, err error) {
	inputJSON, err := marshalPayload(e.Input)
	if err != nil {
		return false, fmt.Errorf("create execution: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (key, workflow, status, reason, seed, input)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, e.Key, e.Workflow, string(e.Status), e.Reason, e.Seed, inputJSON)
	if err != nil {
		return false, fmt.Errorf("create execution: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create execution: %w", err)
	}
	return n > 0, nil
}

// UpdateExecutionStatus records an execution's terminal (or running)
// status and reason.
func (s *Store) UpdateExecutionStatus(ctx context.Context, key string, status exec.Status, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, reason = ? WHERE key = ?
	`, string(status), reason, key)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", key, err)
	}
	return nil
}

// AppendEvent inserts a history event. Idempotent: re-appending the same
// (execution, seq) is silently ignored, which is what makes crash-restart
// replay structurally safe.
func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	payloadJSON, err := marshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", ev.Execution, ev.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history
		(execution, seq, kind, name, outcome, payload, err_class, err_msg, attempts, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution, seq) DO NOTHING
	`,
		ev.Execution, ev.Seq, ev.Kind, ev.Name, ev.Outcome,
		payloadJSON, ev.ErrClass, ev.ErrMsg, ev.Attempts, ev.Hash,
	)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", ev.Execution, ev.Seq, err)
	}
	return nil
}

// WriteCheckpoint inserts a checkpoint. Idempotent on (execution, idx);
// a retried checkpoint save for the same index is a no-op.
func (s *Store) WriteCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (execution, idx, metric_milli, ref, batch_hash, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution, idx) DO NOTHING
	`, cp.Execution, cp.Index, cp.MetricMilli, cp.Ref, cp.BatchHash, cp.Seq)
	if err != nil {
		return fmt.Errorf("write checkpoint %s/%d: %w", cp.Execution, cp.Index, err)
	}
	return nil
}
