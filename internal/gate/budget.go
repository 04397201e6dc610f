package gate

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
)

// DefaultBudgetTimeout bounds how long a run waits for a budget decision.
const DefaultBudgetTimeout = time.Hour

// Ledger is an append-only accumulator of cost in milliunits with a
// ceiling. It is plain in-process state owned by one execution; its
// contents are reconstructed identically on replay because every charge
// derives from recorded activity outcomes.
type Ledger struct {
	ceilingMilli int64
	spentMilli   int64
	armed        bool
}

// NewLedger creates a ledger with the given ceiling. A zero or negative
// ceiling means unlimited.
func NewLedger(ceilingMilli int64) *Ledger {
	return &Ledger{ceilingMilli: ceilingMilli, armed: true}
}

// Charge appends cost and reports whether this charge crossed the
// ceiling. The crossing fires at most once until Raise re-arms it, so a
// sequence of charges past the ceiling triggers a single gate.
func (l *Ledger) Charge(costMilli int64) bool {
	l.spentMilli += costMilli
	if !l.armed || l.ceilingMilli <= 0 || l.spentMilli <= l.ceilingMilli {
		return false
	}
	l.armed = false
	return true
}

// Raise replaces the ceiling with a higher one and re-arms the gate.
// A value at or below the current ceiling is ignored: an approval can
// extend a budget, never retroactively shrink it.
func (l *Ledger) Raise(newCeilingMilli int64) {
	if newCeilingMilli <= l.ceilingMilli {
		return
	}
	l.ceilingMilli = newCeilingMilli
	l.armed = true
}

// Spent returns the accumulated cost in milliunits.
func (l *Ledger) Spent() int64 { return l.spentMilli }

// Ceiling returns the current ceiling in milliunits.
func (l *Ledger) Ceiling() int64 { return l.ceilingMilli }

// BudgetOptions configures one budget gate.
type BudgetOptions struct {
	Slot     string
	Timeout  time.Duration // defaults to DefaultBudgetTimeout
	NotifyTo string
}

// AwaitBudget suspends after a ceiling crossing until an operator either
// approves or declines. An approval carrying a higher ceiling raises the
// ledger and re-arms the gate; an approval without one resumes under the
// current ceiling with the gate left disarmed. A decline or timeout
// cancels the run with reason budget-exceeded, surfaced as the returned
// CanceledError.
func AwaitBudget(ctx exec.Context, l *Ledger, opt BudgetOptions) error {
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultBudgetTimeout
	}
	notify(ctx, opt.NotifyTo, "budget exceeded",
		"spent beyond ceiling, awaiting decision")

	res := ctx.AwaitSignal(opt.Slot, timeout)
	switch res.Outcome {
	case exec.WaitCancelled:
		return &exec.CanceledError{Reason: ctx.CancelReason()}
	case exec.WaitTimedOut:
		ctx.Logger().Info("budget gate timed out, stopping run",
			"slot", opt.Slot, "spent_milli", l.Spent(), "ceiling_milli", l.Ceiling())
		return &exec.CanceledError{Reason: exec.ReasonBudgetExceeded}
	}

	if !res.Payload.BoolOr("approve", false) {
		ctx.Logger().Info("budget increase declined, stopping run",
			"slot", opt.Slot, "spent_milli", l.Spent())
		return &exec.CanceledError{Reason: exec.ReasonBudgetExceeded}
	}
	if newCeiling := res.Payload.IntOr("new_ceiling_milli", 0); newCeiling > l.Ceiling() {
		l.Raise(newCeiling)
		ctx.Logger().Info("budget raised", "ceiling_milli", l.Ceiling())
		return nil
	}
	// An approval without a raise continues under the current ceiling;
	// the gate stays disarmed, so it will not re-fire at this ceiling.
	ctx.Logger().Info("budget approved without raise, continuing",
		"slot", opt.Slot, "ceiling_milli", l.Ceiling())
	return nil
}
