package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/helmsman/internal/activity"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/process"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// oneShot is a short-lived runtime over an existing database, used by
// commands that attach, drive one execution, and exit. It runs on the
// virtual clock: a one-shot command never waits out a gate timeout.
type oneShot struct {
	st *store.Store
	rt *runtime.Runtime
}

func openOneShot(dbPath string) (*oneShot, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	rt := runtime.New(st)
	for name, fn := range activity.All(activity.NewMemBackends()) {
		rt.RegisterActivity(name, runtime.ActivityFunc(fn))
	}
	process.Register(rt)
	go rt.Run(context.Background())
	return &oneShot{st: st, rt: rt}, nil
}

func (o *oneShot) Close() {
	o.rt.Stop()
	o.st.Close()
}

// attach resumes a stored execution in this runtime by replaying its
// history. Terminal executions cannot be attached.
func (o *oneShot) attach(ctx context.Context, key string) (store.Execution, error) {
	row, err := o.st.ReadExecution(ctx, key)
	if err != nil {
		return store.Execution{}, WrapExitError(ExitCommandError, "unknown execution", err)
	}
	if row.Status.Terminal() {
		return row, nil
	}
	if err := o.rt.StartExecution(row.Workflow, row.Key, row.Input); err != nil {
		return row, WrapExitError(ExitFailure, "failed to attach execution", err)
	}
	return row, nil
}

// state returns the richest view available: the live state query when
// the execution is attached, the stored status row otherwise.
func (o *oneShot) state(ctx context.Context, key string) (exec.Payload, error) {
	out, err := o.rt.Query(key, "state")
	if err != nil {
		out, err = o.rt.Query(key, "status")
	}
	if err == nil {
		return out, nil
	}
	row, readErr := o.st.ReadExecution(ctx, key)
	if readErr != nil {
		return nil, WrapExitError(ExitCommandError, "unknown execution", readErr)
	}
	return exec.Payload{
		"status": string(row.Status),
		"reason": row.Reason,
	}, nil
}

// awaitResult waits for an attached execution to finish.
func (o *oneShot) awaitResult(key string, timeout time.Duration) (exec.Payload, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return o.rt.AwaitResult(ctx, key)
}

// parseInputJSON decodes a JSON object argument into a payload,
// preserving integer precision.
func parseInputJSON(raw string) (exec.Payload, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse input JSON: %w", err)
	}
	return jsonToPayload(m)
}

func jsonToPayload(m map[string]any) (exec.Payload, error) {
	if m == nil {
		return nil, nil
	}
	p := make(exec.Payload, len(m))
	for k, v := range m {
		cv, err := jsonToPayloadValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		p[k] = cv
	}
	return p, nil
}

func jsonToPayloadValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool:
		return val, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s; use milliunits or cents", val)
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			ce, err := jsonToPayloadValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	case map[string]any:
		return jsonToPayload(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
