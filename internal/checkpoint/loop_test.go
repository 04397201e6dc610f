package checkpoint_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/helmsman/internal/checkpoint"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// recorder captures which unit/save/cleanup activities ran.
type recorder struct {
	mu       sync.Mutex
	units    []int64
	saves    []int64
	cleanups []int64
}

func (r *recorder) snapshot() ([]int64, []int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64{}, r.units...), append([]int64{}, r.saves...), append([]int64{}, r.cleanups...)
}

func hostLoop(t *testing.T, key string, loop func(ctx exec.Context, in exec.Payload) (*checkpoint.Loop, exec.Payload), rec *recorder, failUnit int64, failures int) (*runtime.Runtime, func() (exec.Payload, error)) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/loop.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	remaining := failures
	rt := runtime.New(st)
	rt.RegisterActivity("unit", func(_ context.Context, in exec.Payload) (exec.Payload, error) {
		idx := in.IntOr("index", -1)
		if idx == failUnit && remaining > 0 {
			remaining--
			return nil, exec.NewAppError("worker", "unit %d lost", idx)
		}
		rec.mu.Lock()
		rec.units = append(rec.units, idx)
		rec.mu.Unlock()
		return exec.Payload{"index": idx}, nil
	})
	rt.RegisterActivity("save", func(_ context.Context, in exec.Payload) (exec.Payload, error) {
		idx := in.IntOr("index", -1)
		rec.mu.Lock()
		rec.saves = append(rec.saves, idx)
		rec.mu.Unlock()
		return exec.Payload{"ref": fmt.Sprintf("ref-%d", idx)}, nil
	})
	rt.RegisterActivity("cleanup", func(_ context.Context, in exec.Payload) (exec.Payload, error) {
		rec.mu.Lock()
		rec.cleanups = append(rec.cleanups, in.IntOr("index", -1))
		rec.mu.Unlock()
		return nil, nil
	})
	rt.RegisterActivity("notify", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	rt.RegisterWorkflow("loop", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		l, params := loop(ctx, in)
		res, err := l.Run(ctx, params)
		if err != nil {
			return nil, err
		}
		return exec.Payload{
			"completed": res.Completed,
			"last_ref":  res.LastRef,
			"stopped":   res.Stopped,
			"params":    res.Params,
		}, nil
	})
	go rt.Run(context.Background())
	t.Cleanup(rt.Stop)

	require.NoError(t, rt.StartExecution("loop", key, nil))
	return rt, func() (exec.Payload, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.AwaitResult(ctx, key)
	}
}

func basicLoop(total, start, interval, review int64) func(ctx exec.Context, in exec.Payload) (*checkpoint.Loop, exec.Payload) {
	return func(ctx exec.Context, in exec.Payload) (*checkpoint.Loop, exec.Payload) {
		return &checkpoint.Loop{
			Start:          start,
			Total:          total,
			Interval:       interval,
			ReviewInterval: review,
			ReviewSlot:     "review",
			ReviewTimeout:  time.Hour,
			RunUnit: func(ctx exec.Context, index, seedDraw int64, params exec.Payload) (exec.Payload, error) {
				return ctx.Execute("unit", exec.Payload{"index": index, "seed_draw": seedDraw}, exec.NoRetry)
			},
			Save: func(ctx exec.Context, index int64, _ exec.Payload) (string, error) {
				out, err := ctx.Execute("save", exec.Payload{"index": index}, exec.NoRetry)
				if err != nil {
					return "", err
				}
				return out.StringOr("ref", ""), nil
			},
			Cleanup: func(ctx exec.Context, index int64) error {
				_, err := ctx.Execute("cleanup", exec.Payload{"index": index}, exec.NoRetry)
				return err
			},
		}, in
	}
}

func TestRun_CheckpointsAtInterval(t *testing.T) {
	rec := &recorder{}
	_, await := hostLoop(t, "l-1", basicLoop(6, 0, 2, 0), rec, -1, 0)

	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(6), out.IntOr("completed", 0))
	assert.Equal(t, "ref-6", out.StringOr("last_ref", ""))

	units, saves, _ := rec.snapshot()
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, units)
	assert.Equal(t, []int64{2, 4, 6}, saves, "strictly increasing resume-point indices")
}

func TestRun_UnitFailureCleansUpThenReraises(t *testing.T) {
	rec := &recorder{}
	_, await := hostLoop(t, "l-2", basicLoop(6, 0, 2, 0), rec, 3, 1)

	_, err := await()
	require.Error(t, err)
	assert.Equal(t, "worker", exec.ErrorClass(err))

	units, saves, cleanups := rec.snapshot()
	assert.Equal(t, []int64{0, 1, 2}, units)
	assert.Equal(t, []int64{2}, saves)
	assert.Equal(t, []int64{3}, cleanups, "cleanup targets the failed unit")
}

func TestRun_ResumeSkipsCompletedUnits(t *testing.T) {
	rec := &recorder{}
	_, await := hostLoop(t, "l-3", basicLoop(6, 4, 2, 0), rec, -1, 0)

	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(6), out.IntOr("completed", 0))

	units, _, _ := rec.snapshot()
	assert.Equal(t, []int64{4, 5}, units, "resume starts after the checkpointed unit")
}

func TestRun_ReviewStopEndsEarly(t *testing.T) {
	rec := &recorder{}
	rt, await := hostLoop(t, "l-4", basicLoop(10, 0, 0, 3), rec, -1, 0)

	require.NoError(t, rt.Signal("l-4", "review", exec.Payload{"action": "stop"}))
	out, err := await()
	require.NoError(t, err)
	assert.True(t, out.BoolOr("stopped", false))
	assert.Equal(t, int64(3), out.IntOr("completed", 0))
}

func TestRun_ReviewAdjustMergesParams(t *testing.T) {
	rec := &recorder{}
	rt, await := hostLoop(t, "l-5", basicLoop(4, 0, 0, 2), rec, -1, 0)

	require.NoError(t, rt.Signal("l-5", "review", exec.Payload{
		"action": "adjust",
		"params": exec.Payload{"rate_milli": int64(250)},
	}))
	out, err := await()
	require.NoError(t, err)

	params, err := out.Object("params")
	require.NoError(t, err)
	assert.Equal(t, int64(250), params.IntOr("rate_milli", 0))
	assert.Equal(t, int64(4), out.IntOr("completed", 0))
}

func TestRun_CancellationStopsBetweenUnits(t *testing.T) {
	rec := &recorder{}
	rt, await := hostLoop(t, "l-6", func(ctx exec.Context, in exec.Payload) (*checkpoint.Loop, exec.Payload) {
		l := &checkpoint.Loop{
			Start: 0, Total: 100,
			RunUnit: func(ctx exec.Context, index, _ int64, _ exec.Payload) (exec.Payload, error) {
				if index == 0 {
					// Park so the test can cancel mid-run.
					ctx.AwaitSignal("pause", 0)
				}
				return ctx.Execute("unit", exec.Payload{"index": index}, exec.NoRetry)
			},
		}
		return l, in
	}, rec, -1, 0)

	require.NoError(t, rt.Cancel("l-6", "user-request"))
	_, err := await()
	require.True(t, exec.IsCanceled(err))

	units, _, _ := rec.snapshot()
	assert.Equal(t, []int64{0}, units, "the in-flight unit finishes, no new unit starts")
}
