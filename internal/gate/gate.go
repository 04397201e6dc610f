// Package gate implements human decision points: approval gates, training
// review gates, and the budget gate with its cost ledger.
//
// Every gate is a bounded wait on a named decision slot with a kind-
// specific default applied on timeout. Decisions arrive as signal
// payloads and are parsed into closed variant types at this boundary;
// orchestration logic never matches on raw decision strings.
package gate

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
)

// ApprovalAction is the outcome of an approval gate.
type ApprovalAction int

const (
	// ApprovalRejected is the fail-closed default: an unanswered or
	// malformed decision never lets the process proceed.
	ApprovalRejected ApprovalAction = iota
	ApprovalApproved
)

// ApprovalResult carries the parsed decision.
type ApprovalResult struct {
	Action   ApprovalAction
	By       string
	Comment  string
	TimedOut bool
}

// Approved reports whether the gate opened.
func (r ApprovalResult) Approved() bool {
	return r.Action == ApprovalApproved
}

// ApprovalOptions configures one approval gate.
type ApprovalOptions struct {
	Slot    string
	Timeout time.Duration
	// NotifyTo, when set, sends a best-effort notification before
	// suspending so an approver knows a decision is pending.
	NotifyTo string
	Subject  string
	Body     string
}

// AwaitApproval suspends until a decision arrives on the slot or the
// timeout elapses. Timeout and malformed payloads resolve to rejection;
// a cancellation observed while waiting returns CanceledError.
func AwaitApproval(ctx exec.Context, opt ApprovalOptions) (ApprovalResult, error) {
	notify(ctx, opt.NotifyTo, opt.Subject, opt.Body)

	res := ctx.AwaitSignal(opt.Slot, opt.Timeout)
	switch res.Outcome {
	case exec.WaitCancelled:
		return ApprovalResult{}, &exec.CanceledError{Reason: ctx.CancelReason()}
	case exec.WaitTimedOut:
		ctx.Logger().Info("approval gate timed out, rejecting", "slot", opt.Slot)
		return ApprovalResult{TimedOut: true}, nil
	}

	out := ApprovalResult{
		By:      res.Payload.StringOr("by", ""),
		Comment: res.Payload.StringOr("comment", ""),
	}
	// Two accepted shapes: {"decision": "approve"|"reject"} and the
	// boolean form {"approved": true|false}.
	switch res.Payload.StringOr("decision", "") {
	case "approve":
		out.Action = ApprovalApproved
	case "reject":
		out.Action = ApprovalRejected
	default:
		if res.Payload.BoolOr("approved", false) {
			out.Action = ApprovalApproved
		} else {
			ctx.Logger().Warn("unapproved or malformed decision, rejecting",
				"slot", opt.Slot)
		}
	}
	return out, nil
}

// ReviewAction is the outcome of a training review gate.
type ReviewAction int

const (
	// ReviewContinue is the default: an unanswered review never stalls a
	// training run.
	ReviewContinue ReviewAction = iota
	ReviewAdjust
	ReviewStop
)

// ReviewResult carries the parsed review decision. Params is set only
// for ReviewAdjust.
type ReviewResult struct {
	Action ReviewAction
	Params exec.Payload
}

// ReviewOptions configures one review gate.
type ReviewOptions struct {
	Slot     string
	Timeout  time.Duration
	NotifyTo string
	Subject  string
	Body     string
}

// AwaitReview suspends until a review decision arrives or the timeout
// elapses. The timeout default is continue.
func AwaitReview(ctx exec.Context, opt ReviewOptions) (ReviewResult, error) {
	notify(ctx, opt.NotifyTo, opt.Subject, opt.Body)

	res := ctx.AwaitSignal(opt.Slot, opt.Timeout)
	switch res.Outcome {
	case exec.WaitCancelled:
		return ReviewResult{}, &exec.CanceledError{Reason: ctx.CancelReason()}
	case exec.WaitTimedOut:
		ctx.Logger().Info("review gate timed out, continuing", "slot", opt.Slot)
		return ReviewResult{Action: ReviewContinue}, nil
	}

	switch res.Payload.StringOr("action", "") {
	case "adjust":
		params, err := res.Payload.Object("params")
		if err != nil {
			ctx.Logger().Warn("adjust decision without params, continuing", "slot", opt.Slot)
			return ReviewResult{Action: ReviewContinue}, nil
		}
		return ReviewResult{Action: ReviewAdjust, Params: params}, nil
	case "stop":
		return ReviewResult{Action: ReviewStop}, nil
	case "continue":
		return ReviewResult{Action: ReviewContinue}, nil
	default:
		ctx.Logger().Warn("malformed review decision, continuing",
			"slot", opt.Slot, "action", res.Payload.StringOr("action", ""))
		return ReviewResult{Action: ReviewContinue}, nil
	}
}

func notify(ctx exec.Context, to, subject, body string) {
	if to == "" {
		return
	}
	ctx.ExecuteDetached("notify", exec.Payload{
		"to": to, "subject": subject, "body": body,
	})
}
