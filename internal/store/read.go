package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/helmsman/internal/exec"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ReadExecution returns one execution row, or ErrNotFound.
func (s *Store) ReadExecution(ctx context.Context, key string) (Execution, error) {
	var e Execution
	var status, inputJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, workflow, status, reason, seed, input
		FROM executions WHERE key = ?
	`, key).Scan(&e.Key, &e.Workflow, &status, &e.Reason, &e.Seed, &inputJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, fmt.Errorf("execution %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Execution{}, fmt.Errorf("read execution %s: %w", key, err)
	}

	e.Status = exec.Status(status)
	e.Input, err = unmarshalPayload(inputJSON)
	if err != nil {
		return Execution{}, fmt.Errorf("read execution %s: %w", key, err)
	}
	return e, nil
}

// ListExecutions returns every execution row ordered by key.
func (s *Store) ListExecutions(ctx context.Context) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, workflow, status, reason, seed, input
		FROM executions ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		var e Execution
		var status, inputJSON string
		if err := rows.Scan(&e.Key, &e.Workflow, &status, &e.Reason, &e.Seed, &inputJSON); err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		e.Status = exec.Status(status)
		e.Input, err = unmarshalPayload(inputJSON)
		if err != nil {
			return nil, fmt.Errorf("list executions %s: %w", e.Key, err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// ReadHistory returns all recorded events for one execution ordered by
// seq ascending, the exact order replay must observe them in.
func (s *Store) ReadHistory(ctx context.Context, key string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution, seq, kind, name, outcome, payload, err_class, err_msg, attempts, hash
		FROM history WHERE execution = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", key, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payloadJSON string
		if err := rows.Scan(
			&ev.Execution, &ev.Seq, &ev.Kind, &ev.Name, &ev.Outcome,
			&payloadJSON, &ev.ErrClass, &ev.ErrMsg, &ev.Attempts, &ev.Hash,
		); err != nil {
			return nil, fmt.Errorf("read history %s: %w", key, err)
		}
		ev.Payload, err = unmarshalPayload(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("read history %s seq %d: %w", key, ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history %s: %w", key, err)
	}
	return events, nil
}

// ReadCheckpoints returns all checkpoints for one execution ordered by
// index ascending.
func (s *Store) ReadCheckpoints(ctx context.Context, key string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution, idx, metric_milli, ref, batch_hash, seq
		FROM checkpoints WHERE execution = ?
		ORDER BY idx ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("read checkpoints %s: %w", key, err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Execution, &cp.Index, &cp.MetricMilli, &cp.Ref, &cp.BatchHash, &cp.Seq); err != nil {
			return nil, fmt.Errorf("read checkpoints %s: %w", key, err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoints %s: %w", key, err)
	}
	return cps, nil
}

// LatestCheckpoint returns the highest-index checkpoint for an execution,
// or ErrNotFound when none has been recorded.
func (s *Store) LatestCheckpoint(ctx context.Context, key string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.QueryRowContext(ctx, `
		SELECT execution, idx, metric_milli, ref, batch_hash, seq
		FROM checkpoints WHERE execution = ?
		ORDER BY idx DESC LIMIT 1
	`, key).Scan(&cp.Execution, &cp.Index, &cp.MetricMilli, &cp.Ref, &cp.BatchHash, &cp.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint for %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("latest checkpoint %s: %w", key, err)
	}
	return cp, nil
}
