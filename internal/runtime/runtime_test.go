package runtime_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// testRig hosts a running scheduler over a temp-dir store.
type testRig struct {
	t  *testing.T
	st *store.Store
	rt *runtime.Runtime
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/helmsman.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &testRig{t: t, st: st, rt: runtime.New(st)}
}

// reopen builds a second runtime over the same store, simulating a
// process restart that resumes from recorded history.
func (rig *testRig) reopen() *testRig {
	rig.t.Helper()
	return &testRig{t: rig.t, st: rig.st, rt: runtime.New(rig.st)}
}

func (rig *testRig) run() {
	rig.t.Helper()
	done := make(chan error, 1)
	go func() { done <- rig.rt.Run(context.Background()) }()
	rig.t.Cleanup(func() {
		rig.rt.Stop()
		select {
		case err := <-done:
			assert.NoError(rig.t, err)
		case <-time.After(5 * time.Second):
			rig.t.Error("scheduler did not stop")
		}
	})
}

func (rig *testRig) await(key string) (exec.Payload, error) {
	rig.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rig.rt.AwaitResult(ctx, key)
}

func TestExecute_RecordsOutcome(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterActivity("double", func(_ context.Context, in exec.Payload) (exec.Payload, error) {
		n, err := in.Int("n")
		if err != nil {
			return nil, err
		}
		return exec.Payload{"n": n * 2}, nil
	})
	rig.rt.RegisterWorkflow("doubler", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return ctx.Execute("double", in, exec.RetryPolicy{})
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("doubler", "d-1", exec.Payload{"n": int64(21)}))
	out, err := rig.await("d-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.IntOr("n", 0))

	history, err := rig.st.ReadHistory(context.Background(), "d-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "activity", history[0].Kind)
	assert.Equal(t, "double", history[0].Name)
	assert.Equal(t, "ok", history[0].Outcome)
	assert.NotEmpty(t, history[0].Hash)
}

func TestExecute_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	rig := newRig(t)
	rig.rt.RegisterActivity("flaky", func(context.Context, exec.Payload) (exec.Payload, error) {
		if calls.Add(1) < 3 {
			return nil, exec.NewAppError("unavailable", "backend down")
		}
		return exec.Payload{"ok": true}, nil
	})
	rig.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return ctx.Execute("flaky", nil, exec.RetryPolicy{})
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("wf", "r-1", nil))
	out, err := rig.await("r-1")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("ok", false))
	assert.Equal(t, int64(3), calls.Load())

	history, err := rig.st.ReadHistory(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, history, 1, "retries collapse into one recorded outcome")
	assert.Equal(t, 3, history[0].Attempts)
}

func TestExecute_NonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int64
	rig := newRig(t)
	rig.rt.RegisterActivity("validate", func(context.Context, exec.Payload) (exec.Payload, error) {
		calls.Add(1)
		return nil, exec.NewAppError("validation", "amount out of range")
	})
	rig.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return ctx.Execute("validate", nil, exec.RetryPolicy{
			MaxAttempts: 5, NonRetryable: []string{"validation"},
		})
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("wf", "nr-1", nil))
	_, err := rig.await("nr-1")
	require.Error(t, err)
	assert.Equal(t, "validation", exec.ErrorClass(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestAwaitSignal_Delivered(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("gated", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		res := ctx.AwaitSignal("approval", 24*time.Hour)
		if res.Outcome != exec.WaitDelivered {
			return nil, exec.NewAppError("rejected", "no approval")
		}
		return res.Payload, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("gated", "g-1", nil))
	require.NoError(t, rig.rt.Signal("g-1", "approval", exec.Payload{"approved_by": "ops"}))

	out, err := rig.await("g-1")
	require.NoError(t, err)
	assert.Equal(t, "ops", out.StringOr("approved_by", ""))
}

func TestAwaitSignal_TimesOut(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("gated", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		res := ctx.AwaitSignal("approval", 24*time.Hour)
		return exec.Payload{"outcome": int64(res.Outcome)}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("gated", "g-2", nil))
	// Just shy of the deadline: still parked.
	require.NoError(t, rig.rt.AdvanceTime(23*time.Hour))
	_, err := rig.rt.Query("g-2", "status")
	require.NoError(t, err)

	require.NoError(t, rig.rt.AdvanceTime(2*time.Hour))
	out, err := rig.await("g-2")
	require.NoError(t, err)
	assert.Equal(t, int64(exec.WaitTimedOut), out.IntOr("outcome", 0))
}

func TestSignal_OverwritesSlotUntilSampled(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("late", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		if err := ctx.Sleep(time.Hour); err != nil {
			return nil, err
		}
		res := ctx.AwaitSignal("decision", time.Hour)
		return res.Payload, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("late", "s-1", nil))
	// Two signals before the execution samples the slot: second wins.
	require.NoError(t, rig.rt.Signal("s-1", "decision", exec.Payload{"v": int64(1)}))
	require.NoError(t, rig.rt.Signal("s-1", "decision", exec.Payload{"v": int64(2)}))
	require.NoError(t, rig.rt.AdvanceTime(time.Hour))

	out, err := rig.await("s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.IntOr("v", 0))
}

func TestSleep_FiresOnAdvance(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("sleeper", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		if err := ctx.Sleep(30 * time.Minute); err != nil {
			return nil, err
		}
		return exec.Payload{"woke": true}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("sleeper", "t-1", nil))
	require.NoError(t, rig.rt.AdvanceTime(30*time.Minute))

	out, err := rig.await("t-1")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("woke", false))
}

func TestCancel_InterruptsUnshieldedWait(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("cancellable", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		res := ctx.AwaitSignal("never", 0)
		if res.Outcome == exec.WaitCancelled {
			return nil, &exec.CanceledError{Reason: ctx.CancelReason()}
		}
		return res.Payload, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("cancellable", "c-1", nil))
	require.NoError(t, rig.rt.Cancel("c-1", "user-request"))

	_, err := rig.await("c-1")
	require.True(t, exec.IsCanceled(err))
	assert.Equal(t, "user-request", exec.CancelReason(err))

	state, err := rig.rt.Query("c-1", "status")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", state.StringOr("status", ""))
	assert.Equal(t, "user-request", state.StringOr("reason", ""))
}

func TestShield_SuppressesCancellation(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterActivity("rollback", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	rig.rt.RegisterWorkflow("shielded", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		var res exec.WaitResult
		var sawCancel bool
		ctx.Shield(func() {
			res = ctx.AwaitSignal("cleanup-ack", 24*time.Hour)
			sawCancel = ctx.Cancelled()
			_, _ = ctx.Execute("rollback", nil, exec.NoRetry)
		})
		return exec.Payload{
			"delivered":  res.Outcome == exec.WaitDelivered,
			"saw_cancel": sawCancel,
		}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("shielded", "sh-1", nil))
	// Cancellation must not resolve a shielded wait, and Cancelled()
	// must read false inside the shield.
	require.NoError(t, rig.rt.Cancel("sh-1", "user-request"))
	require.NoError(t, rig.rt.Signal("sh-1", "cleanup-ack", exec.Payload{"ok": true}))

	out, err := rig.await("sh-1")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("delivered", false))
	assert.False(t, out.BoolOr("saw_cancel", true))
}

func TestChildren_RunAndAggregate(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("worker", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return exec.Payload{"n": in.IntOr("n", 0) * 10}, nil
	})
	rig.rt.RegisterWorkflow("parent", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		a, err := ctx.StartChild("worker", "a", exec.Payload{"n": int64(1)})
		if err != nil {
			return nil, err
		}
		b, err := ctx.StartChild("worker", "b", exec.Payload{"n": int64(2)})
		if err != nil {
			return nil, err
		}
		ra, err := a.Await()
		if err != nil {
			return nil, err
		}
		rb, err := b.Await()
		if err != nil {
			return nil, err
		}
		return exec.Payload{"sum": ra.IntOr("n", 0) + rb.IntOr("n", 0)}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("parent", "p-1", nil))
	out, err := rig.await("p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), out.IntOr("sum", 0))

	// Children persist under derived keys.
	row, err := rig.st.ReadExecution(context.Background(), "p-1/a")
	require.NoError(t, err)
	assert.Equal(t, exec.StatusCompleted, row.Status)
}

func TestChildFailure_IsolatedFromSiblings(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("ok-child", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return exec.Payload{"ok": true}, nil
	})
	rig.rt.RegisterWorkflow("bad-child", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return nil, exec.NewAppError("analysis", "parse failure")
	})
	rig.rt.RegisterWorkflow("parent", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		good, err := ctx.StartChild("ok-child", "good", nil)
		if err != nil {
			return nil, err
		}
		bad, err := ctx.StartChild("bad-child", "bad", nil)
		if err != nil {
			return nil, err
		}
		out, err := good.Await()
		if err != nil {
			return nil, err
		}
		_, badErr := bad.Await()
		return exec.Payload{
			"good":      out.BoolOr("ok", false),
			"bad_class": exec.ErrorClass(badErr),
		}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("parent", "p-2", nil))
	out, err := rig.await("p-2")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("good", false))
	assert.Equal(t, "analysis", out.StringOr("bad_class", ""))
}

func TestReplay_ResumesWithoutReinvokingEffects(t *testing.T) {
	var calls atomic.Int64
	register := func(rt *runtime.Runtime) {
		rt.RegisterActivity("reserve", func(context.Context, exec.Payload) (exec.Payload, error) {
			calls.Add(1)
			return exec.Payload{"reserved": true}, nil
		})
		rt.RegisterWorkflow("order", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
			if _, err := ctx.Execute("reserve", nil, exec.RetryPolicy{}); err != nil {
				return nil, err
			}
			res := ctx.AwaitSignal("approval", 0)
			return exec.Payload{"approved": res.Outcome == exec.WaitDelivered}, nil
		})
	}

	rig := newRig(t)
	register(rig.rt)
	rig.run()
	require.NoError(t, rig.rt.StartExecution("order", "o-1", nil))
	require.Equal(t, int64(1), calls.Load())
	// Crash before the approval arrives: the first runtime is simply
	// abandoned, history stays in the store.

	rig2 := rig.reopen()
	register(rig2.rt)
	rig2.run()
	require.NoError(t, rig2.rt.StartExecution("order", "o-1", nil))
	assert.Equal(t, int64(1), calls.Load(), "replay must not re-invoke the recorded activity")

	require.NoError(t, rig2.rt.Signal("o-1", "approval", exec.Payload{"ok": true}))
	out, err := rig2.await("o-1")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("approved", false))
}

func TestReplay_DetectsNondeterministicLogic(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterActivity("step-a", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	rig.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		if _, err := ctx.Execute("step-a", nil, exec.RetryPolicy{}); err != nil {
			return nil, err
		}
		ctx.AwaitSignal("go", 0)
		return nil, nil
	})
	rig.run()
	require.NoError(t, rig.rt.StartExecution("wf", "nd-1", nil))

	// Restart with altered logic that issues a different first command.
	rig2 := rig.reopen()
	rig2.rt.RegisterActivity("step-b", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	rig2.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		if _, err := ctx.Execute("step-b", nil, exec.RetryPolicy{}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	rig2.run()
	require.NoError(t, rig2.rt.StartExecution("wf", "nd-1", nil))

	_, err := rig2.await("nd-1")
	require.Error(t, err)
	assert.True(t, exec.IsNondeterminism(err))
}

func TestTerminalKey_Rejected(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("noop", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("noop", "k-1", nil))
	_, err := rig.await("k-1")
	require.NoError(t, err)

	err = rig.rt.StartExecution("noop", "k-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completed")
}

func TestQuery_ServedWhileParked(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("tracked", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		phase := "started"
		ctx.SetQueryHandler("phase", func() exec.Payload {
			return exec.Payload{"phase": phase}
		})
		ctx.AwaitSignal("go", 0)
		phase = "finishing"
		return nil, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("tracked", "q-1", nil))
	out, err := rig.rt.Query("q-1", "phase")
	require.NoError(t, err)
	assert.Equal(t, "started", out.StringOr("phase", ""))

	state, err := rig.rt.Query("q-1", "status")
	require.NoError(t, err)
	assert.Equal(t, "running", state.StringOr("status", ""))

	_, err = rig.rt.Query("q-1", "no-such-query")
	require.Error(t, err)

	_, err = rig.rt.Query("missing", "status")
	require.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestRNG_SeededByKeyIsStable(t *testing.T) {
	draw := func(rig *testRig, key string) int64 {
		rig.t.Helper()
		require.NoError(t, rig.rt.StartExecution("roller", key, nil))
		out, err := rig.await(key)
		require.NoError(t, err)
		return out.IntOr("roll", -1)
	}

	rig := newRig(t)
	rig.rt.RegisterWorkflow("roller", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		return exec.Payload{"roll": int64(ctx.RNG().NextInt(0, 1000))}, nil
	})
	rig.run()

	a := draw(rig, "roll-a")
	b := draw(rig, "roll-b")
	assert.NotEqual(t, a, b, "different keys seed different streams")

	want := exec.NewRNGFromString("roll-a").NextInt(0, 1000)
	assert.Equal(t, int64(want), a)
}

func TestDetached_FailureDoesNotPropagate(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterActivity("notify", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, exec.NewAppError("unavailable", "smtp down")
	})
	rig.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		ctx.ExecuteDetached("notify", exec.Payload{"to": "ops"})
		return exec.Payload{"done": true}, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("wf", "dn-1", nil))
	out, err := rig.await("dn-1")
	require.NoError(t, err)
	assert.True(t, out.BoolOr("done", false))
}

func TestMarker_AppearsInHistory(t *testing.T) {
	rig := newRig(t)
	rig.rt.RegisterWorkflow("wf", func(ctx exec.Context, in exec.Payload) (exec.Payload, error) {
		ctx.RecordMarker("strategy-switch", exec.Payload{"from": "breadth", "to": "depth"})
		return nil, nil
	})
	rig.run()

	require.NoError(t, rig.rt.StartExecution("wf", "m-1", nil))
	_, err := rig.await("m-1")
	require.NoError(t, err)

	history, err := rig.st.ReadHistory(context.Background(), "m-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "marker", history[0].Kind)
	assert.Equal(t, "strategy-switch", history[0].Name)
	assert.Equal(t, "depth", history[0].Payload.StringOr("to", ""))
}
