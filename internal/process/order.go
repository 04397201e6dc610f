package process

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/gate"
	"github.com/roach88/helmsman/internal/saga"
)

// Order process statuses surfaced through the state query.
const (
	OrderPending          = "pending"
	OrderAwaitingApproval = "awaiting_approval"
	OrderCompleting       = "completing"
	OrderCompensating     = "compensating"
	OrderCompleted        = "completed"
	OrderFailed           = "failed"
	OrderCancelled        = "cancelled"
)

// DefaultApprovalThresholdCents is the order amount at or above which a
// human approval is required.
const DefaultApprovalThresholdCents = 500_000

// defaultApprovalTimeout bounds how long an approval gate waits when no
// configured timeout overrides it.
const defaultApprovalTimeout = 24 * time.Hour

// completionWindow is the bounded tail during which a completed-forward
// order can still be cancelled and rolled back.
const completionWindow = time.Hour

var orderRetry = exec.RetryPolicy{
	Initial:     time.Second,
	Backoff:     2.0,
	Ceiling:     time.Minute,
	MaxAttempts: 3,
	NonRetryable: []string{
		"validation", "out-of-stock", "payment-declined",
	},
}

type orderState struct {
	status       string
	steps        []string
	correlations exec.Payload
	reason       string
}

func (s *orderState) record() exec.Payload {
	steps := make([]any, len(s.steps))
	for i, name := range s.steps {
		steps[i] = name
	}
	out := exec.Payload{
		"status":          s.status,
		"completed_steps": steps,
		"correlations":    s.correlations.Clone(),
	}
	if s.reason != "" {
		out["reason"] = s.reason
	}
	return out
}

// Order fulfills one order: reserve inventory, gate on approval for large
// amounts, charge payment, create the shipment, then hold a bounded
// cancellation window before committing. Any failure or cancellation
// before commitment compensates completed steps in reverse order.
func Order(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
	return runOrder(ctx, input, DefaultTimeouts())
}

func runOrder(ctx exec.Context, input exec.Payload, timeouts Timeouts) (exec.Payload, error) {
	amount, err := input.Int("amount_cents")
	if err != nil {
		return nil, exec.NewAppError("validation", "%v", err)
	}
	threshold := input.IntOr("approval_threshold_cents", DefaultApprovalThresholdCents)

	state := &orderState{status: OrderPending, correlations: exec.Payload{}}
	ctx.SetQueryHandler("state", state.record)

	s := saga.New(
		saga.Step{
			Name: "reserve",
			Execute: func(ctx exec.Context, _ *saga.Saga) (exec.Payload, error) {
				out, err := ctx.Execute("reserve-inventory", exec.Payload{
					"order_key": ctx.Key(),
					"sku":       input.StringOr("sku", ""),
					"quantity":  input.IntOr("quantity", 1),
				}, orderRetry)
				if err != nil {
					return nil, err
				}
				state.steps = append(state.steps, "reserve")
				state.correlations["reservation_id"] = out.StringOr("reservation_id", "")
				return out, nil
			},
			Compensate: func(ctx exec.Context, out exec.Payload) error {
				_, err := ctx.Execute("release-inventory", exec.Payload{
					"reservation_id": out.StringOr("reservation_id", ""),
				}, orderRetry)
				return err
			},
		},
		saga.Step{
			Name: "approval",
			Execute: func(ctx exec.Context, _ *saga.Saga) (exec.Payload, error) {
				if amount < threshold {
					return exec.Payload{"required": false}, nil
				}
				state.status = OrderAwaitingApproval
				res, err := gate.AwaitApproval(ctx, gate.ApprovalOptions{
					Slot:     "approval",
					Timeout:  timeouts.Approval,
					NotifyTo: "approvers",
					Subject:  "order approval required",
					Body:     ctx.Key(),
				})
				if err != nil {
					return nil, err
				}
				if !res.Approved() {
					// Timeout and explicit rejection take the same path.
					return nil, exec.NewAppError("approval-rejected",
						"order %s not approved", ctx.Key())
				}
				state.status = OrderPending
				return exec.Payload{"required": true, "by": res.By}, nil
			},
		},
		saga.Step{
			Name: "charge",
			Execute: func(ctx exec.Context, _ *saga.Saga) (exec.Payload, error) {
				out, err := ctx.Execute("charge-payment", exec.Payload{
					"order_key":    ctx.Key(),
					"amount_cents": amount,
				}, orderRetry)
				if err != nil {
					return nil, err
				}
				state.steps = append(state.steps, "charge")
				state.correlations["charge_id"] = out.StringOr("charge_id", "")
				return out, nil
			},
			Compensate: func(ctx exec.Context, out exec.Payload) error {
				_, err := ctx.Execute("refund-payment", exec.Payload{
					"charge_id": out.StringOr("charge_id", ""),
				}, orderRetry)
				return err
			},
		},
		saga.Step{
			Name: "ship",
			Execute: func(ctx exec.Context, _ *saga.Saga) (exec.Payload, error) {
				out, err := ctx.Execute("create-shipment", exec.Payload{
					"order_key": ctx.Key(),
					"address":   input.StringOr("address", ""),
				}, orderRetry)
				if err != nil {
					return nil, err
				}
				state.steps = append(state.steps, "ship")
				state.correlations["shipment_id"] = out.StringOr("shipment_id", "")
				return out, nil
			},
			Compensate: func(ctx exec.Context, out exec.Payload) error {
				_, err := ctx.Execute("cancel-shipment", exec.Payload{
					"shipment_id": out.StringOr("shipment_id", ""),
				}, orderRetry)
				return err
			},
		},
	)

	s.BeforeRollback(func() { state.status = OrderCompensating })

	if err := s.Run(ctx); err != nil {
		if exec.IsCanceled(err) {
			state.status = OrderCancelled
			state.reason = exec.CancelReason(err)
		} else {
			state.status = OrderFailed
			state.reason = err.Error()
		}
		return nil, err
	}

	// Bounded cancellation window before the order commits.
	state.status = OrderCompleting
	tail := ctx.AwaitSignal("cancel", completionWindow)
	if tail.Outcome != exec.WaitTimedOut {
		reason := tail.Payload.StringOr("reason", exec.ReasonUserRequest)
		if tail.Outcome == exec.WaitCancelled {
			reason = ctx.CancelReason()
		}
		state.status = OrderCompensating
		s.Rollback(ctx)
		state.status = OrderCancelled
		state.reason = reason
		ctx.ExecuteDetached("notify", exec.Payload{
			"to": "customer", "subject": "order cancelled", "body": ctx.Key(),
		})
		return nil, &exec.CanceledError{Reason: reason}
	}

	state.status = OrderCompleted
	ctx.ExecuteDetached("notify", exec.Payload{
		"to": "customer", "subject": "order shipped", "body": ctx.Key(),
	})
	return exec.Payload{
		"status":       OrderCompleted,
		"correlations": state.correlations.Clone(),
	}, nil
}
