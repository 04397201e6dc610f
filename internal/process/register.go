package process

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/gate"
	"github.com/roach88/helmsman/internal/runtime"
)

// Timeouts carries the gate timeouts applied to every registered
// process definition. Approval covers the order approval and the
// refactor-plan gate; Budget covers the analysis budget gate.
type Timeouts struct {
	Approval time.Duration
	Budget   time.Duration
}

// DefaultTimeouts returns the timeouts used when no configuration
// overrides them.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Approval: defaultApprovalTimeout,
		Budget:   gate.DefaultBudgetTimeout,
	}
}

// Register wires every process definition, including the analysis child
// definitions, into a runtime with the default gate timeouts.
func Register(rt *runtime.Runtime) {
	RegisterWith(rt, DefaultTimeouts())
}

// RegisterWith wires every process definition into a runtime with the
// given gate timeouts.
func RegisterWith(rt *runtime.Runtime, t Timeouts) {
	if t.Approval <= 0 {
		t.Approval = defaultApprovalTimeout
	}
	if t.Budget <= 0 {
		t.Budget = gate.DefaultBudgetTimeout
	}
	rt.RegisterWorkflow("order", func(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
		return runOrder(ctx, input, t)
	})
	rt.RegisterWorkflow("training", Training)
	rt.RegisterWorkflow("analysis", func(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
		return runAnalysis(ctx, input, t)
	})
	rt.RegisterWorkflow("module-analysis", ModuleAnalysis)
	rt.RegisterWorkflow("deep-dive", DeepDive)
}
