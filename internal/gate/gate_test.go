package gate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/gate"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// hostWorkflow runs wf under a virtual-clock runtime and returns the
// runtime for signalling plus an await helper.
func hostWorkflow(t *testing.T, wf exec.Workflow) (*runtime.Runtime, func() (exec.Payload, error)) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/gate.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := runtime.New(st)
	rt.RegisterWorkflow("wf", wf)
	rt.RegisterActivity("notify", func(context.Context, exec.Payload) (exec.Payload, error) {
		return nil, nil
	})
	go rt.Run(context.Background())
	t.Cleanup(rt.Stop)

	require.NoError(t, rt.StartExecution("wf", "g-1", nil))
	return rt, func() (exec.Payload, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.AwaitResult(ctx, "g-1")
	}
}

func TestAwaitApproval_Approved(t *testing.T) {
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		res, err := gate.AwaitApproval(ctx, gate.ApprovalOptions{
			Slot: "approval", Timeout: 24 * time.Hour, NotifyTo: "ops",
		})
		if err != nil {
			return nil, err
		}
		return exec.Payload{"approved": res.Approved(), "by": res.By}, nil
	})

	require.NoError(t, rt.Signal("g-1", "approval", exec.Payload{
		"decision": "approve", "by": "casey",
	}))
	out, err := await()
	require.NoError(t, err)
	assert.True(t, out.BoolOr("approved", false))
	assert.Equal(t, "casey", out.StringOr("by", ""))
}

func TestAwaitApproval_TimeoutRejects(t *testing.T) {
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		res, err := gate.AwaitApproval(ctx, gate.ApprovalOptions{
			Slot: "approval", Timeout: 24 * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		return exec.Payload{"approved": res.Approved(), "timed_out": res.TimedOut}, nil
	})

	require.NoError(t, rt.AdvanceTime(24*time.Hour))
	out, err := await()
	require.NoError(t, err)
	assert.False(t, out.BoolOr("approved", true))
	assert.True(t, out.BoolOr("timed_out", false))
}

func TestAwaitApproval_MalformedDecisionRejects(t *testing.T) {
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		res, err := gate.AwaitApproval(ctx, gate.ApprovalOptions{
			Slot: "approval", Timeout: time.Hour,
		})
		if err != nil {
			return nil, err
		}
		return exec.Payload{"approved": res.Approved()}, nil
	})

	require.NoError(t, rt.Signal("g-1", "approval", exec.Payload{"decision": "maybe"}))
	out, err := await()
	require.NoError(t, err)
	assert.False(t, out.BoolOr("approved", true))
}

func TestAwaitReview_DefaultsToContinue(t *testing.T) {
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		res, err := gate.AwaitReview(ctx, gate.ReviewOptions{
			Slot: "review", Timeout: time.Hour,
		})
		if err != nil {
			return nil, err
		}
		return exec.Payload{"action": int64(res.Action)}, nil
	})

	require.NoError(t, rt.AdvanceTime(time.Hour))
	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(gate.ReviewContinue), out.IntOr("action", -1))
}

func TestAwaitReview_AdjustCarriesParams(t *testing.T) {
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		res, err := gate.AwaitReview(ctx, gate.ReviewOptions{
			Slot: "review", Timeout: time.Hour,
		})
		if err != nil {
			return nil, err
		}
		if res.Action != gate.ReviewAdjust {
			return nil, exec.NewAppError("test", "expected adjust")
		}
		return res.Params, nil
	})

	require.NoError(t, rt.Signal("g-1", "review", exec.Payload{
		"action": "adjust",
		"params": exec.Payload{"learning_rate_milli": int64(5)},
	}))
	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.IntOr("learning_rate_milli", 0))
}

func TestAwaitBudget_RaiseProceeds(t *testing.T) {
	ledger := gate.NewLedger(10_000)
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		crossed := ledger.Charge(12_000)
		if !crossed {
			return nil, exec.NewAppError("test", "expected crossing")
		}
		if err := gate.AwaitBudget(ctx, ledger, gate.BudgetOptions{Slot: "budget"}); err != nil {
			return nil, err
		}
		return exec.Payload{"ceiling": ledger.Ceiling()}, nil
	})

	require.NoError(t, rt.Signal("g-1", "budget", exec.Payload{
		"approve": true, "new_ceiling_milli": int64(50_000),
	}))
	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), out.IntOr("ceiling", 0))
}

func TestAwaitBudget_PlainApprovalContinuesUnderCeiling(t *testing.T) {
	ledger := gate.NewLedger(10_000)
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		ledger.Charge(12_000)
		if err := gate.AwaitBudget(ctx, ledger, gate.BudgetOptions{Slot: "budget"}); err != nil {
			return nil, err
		}
		// The gate fired once; further spend under the unchanged
		// ceiling must not re-fire it.
		crossed := ledger.Charge(3_000)
		return exec.Payload{"ceiling": ledger.Ceiling(), "refire": crossed}, nil
	})

	require.NoError(t, rt.Signal("g-1", "budget", exec.Payload{"approve": true}))
	out, err := await()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), out.IntOr("ceiling", 0), "ceiling unchanged")
	assert.False(t, out.BoolOr("refire", true))
}

func TestAwaitBudget_TimeoutCancelsWithReason(t *testing.T) {
	ledger := gate.NewLedger(10_000)
	rt, await := hostWorkflow(t, func(ctx exec.Context, _ exec.Payload) (exec.Payload, error) {
		ledger.Charge(12_000)
		if err := gate.AwaitBudget(ctx, ledger, gate.BudgetOptions{Slot: "budget"}); err != nil {
			return nil, err
		}
		return nil, nil
	})

	require.NoError(t, rt.AdvanceTime(gate.DefaultBudgetTimeout))
	_, err := await()
	require.True(t, exec.IsCanceled(err))
	assert.Equal(t, exec.ReasonBudgetExceeded, exec.CancelReason(err))
}

func TestLedger_FiresOncePerCrossing(t *testing.T) {
	l := gate.NewLedger(1_000)

	assert.False(t, l.Charge(600))
	assert.True(t, l.Charge(600), "crossing fires")
	assert.False(t, l.Charge(600), "already fired, stays quiet")

	l.Raise(5_000)
	assert.False(t, l.Charge(2_000))
	assert.True(t, l.Charge(2_000), "re-armed gate fires on the next crossing")
	assert.Equal(t, int64(5_800), l.Spent())
}

func TestLedger_RaiseNeverLowers(t *testing.T) {
	l := gate.NewLedger(5_000)
	l.Raise(2_000)
	assert.Equal(t, int64(5_000), l.Ceiling())

	l0 := gate.NewLedger(0)
	assert.False(t, l0.Charge(1_000_000), "zero ceiling means unlimited")
}
