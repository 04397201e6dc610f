package coord_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/helmsman/internal/coord"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

func host(t *testing.T, parent exec.Workflow) func() (exec.Payload, error) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/coord.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := runtime.New(st)
	rt.RegisterWorkflow("child", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		if in.BoolOr("fail", false) {
			return nil, exec.NewAppError("analysis", "module broken")
		}
		return exec.Payload{"value": in.IntOr("value", 0) * 2}, nil
	})
	rt.RegisterWorkflow("parent", parent)
	go rt.Run(context.Background())
	t.Cleanup(rt.Stop)

	require.NoError(t, rt.StartExecution("parent", "p-1", nil))
	return func() (exec.Payload, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.AwaitResult(ctx, "p-1")
	}
}

func TestRunParallel_CollectsAllResults(t *testing.T) {
	await := host(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		results, err := coord.RunParallel(ctx, []coord.ChildSpec{
			{Workflow: "child", Suffix: "a", Input: exec.Payload{"value": int64(1)}},
			{Workflow: "child", Suffix: "b", Input: exec.Payload{"value": int64(2)}},
			{Workflow: "child", Suffix: "c", Input: exec.Payload{"value": int64(3)}},
		})
		if err != nil {
			return nil, err
		}
		var sum int64
		for _, r := range results {
			sum += r.Output.IntOr("value", 0)
		}
		return exec.Payload{"sum": sum, "count": int64(len(results))}, nil
	})

	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(12), out.IntOr("sum", 0))
	assert.Equal(t, int64(3), out.IntOr("count", 0))
}

func TestRunParallel_IsolatesChildFailures(t *testing.T) {
	await := host(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		results, err := coord.RunParallel(ctx, []coord.ChildSpec{
			{Workflow: "child", Suffix: "ok", Input: exec.Payload{"value": int64(5)}},
			{Workflow: "child", Suffix: "bad", Input: exec.Payload{"fail": true}},
		})
		if err != nil {
			return nil, err
		}
		failed := coord.Failed(results)
		return exec.Payload{
			"ok_value":     results[0].Output.IntOr("value", 0),
			"failed_count": int64(len(failed)),
			"failed_class": exec.ErrorClass(failed[0].Err),
			"failed_key":   failed[0].Key,
		}, nil
	})

	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.IntOr("ok_value", 0))
	assert.Equal(t, int64(1), out.IntOr("failed_count", 0))
	assert.Equal(t, "analysis", out.StringOr("failed_class", ""))
	assert.Equal(t, "p-1/bad", out.StringOr("failed_key", ""))
}

func TestRunSequential_PredicateGatesNextChild(t *testing.T) {
	await := host(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		specs := []coord.ChildSpec{
			{Workflow: "child", Suffix: "first", Input: exec.Payload{"value": int64(1)}},
			{Workflow: "child", Suffix: "second", Input: exec.Payload{"value": int64(2)}},
			{Workflow: "child", Suffix: "third", Input: exec.Payload{"fail": true}},
		}
		results, err := coord.RunSequential(ctx, specs, func(_ int, prior coord.ChildResult) bool {
			// Chain continues only while children keep succeeding with a
			// small enough value.
			return prior.Err == nil && prior.Output.IntOr("value", 0) < 4
		})
		if err != nil {
			return nil, err
		}
		return exec.Payload{"ran": int64(len(results))}, nil
	})

	out, err := await()
	require.NoError(t, err)
	// first yields 2 (<4, proceed), second yields 4 (not <4, stop).
	assert.Equal(t, int64(2), out.IntOr("ran", 0))
}
