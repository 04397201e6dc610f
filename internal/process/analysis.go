package process

import (
	"time"

	"github.com/roach88/helmsman/internal/coord"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/gate"
)

// Analysis process statuses surfaced through the state query.
const (
	AnalysisRunning        = "running"
	AnalysisBudgetExceeded = "budget_exceeded"
	AnalysisCompleted      = "completed"
	AnalysisFailed         = "failed"
	AnalysisCancelled      = "cancelled"
)

// Adaptive strategy names. The loop starts broad and narrows as the
// score profile demands.
const (
	StrategyBreadth  = "breadth"
	StrategyDepth    = "depth"
	StrategyTargeted = "targeted"
)

const (
	// iterationDelay rate-limits the adaptive loop's external calls.
	iterationDelay = 2 * time.Second
	// deepDiveSeverity is the scan severity that qualifies a file for a
	// sequential deep-dive child.
	deepDiveSeverity = 8
	// scoreScale is the milliunit ceiling of each quality component.
	scoreScale = 1000
)

type analysisState struct {
	status        string
	filesDone     int64
	findings      int64
	strategy      string
	ledger        *gate.Ledger
	severeFiles   []string
	planApproved  bool
	budgetTimeout time.Duration
}

func (s *analysisState) record() exec.Payload {
	severe := make([]any, len(s.severeFiles))
	for i, f := range s.severeFiles {
		severe[i] = f
	}
	return exec.Payload{
		"status":        s.status,
		"files_done":    s.filesDone,
		"findings":      s.findings,
		"strategy":      s.strategy,
		"cost_milli":    s.ledger.Spent(),
		"ceiling_milli": s.ledger.Ceiling(),
		"severe_files":  severe,
		"plan_approved": s.planApproved,
	}
}

// charge appends cost to the ledger and, on a ceiling crossing, holds at
// the budget gate until an operator raises the budget or the run is
// cancelled with reason budget-exceeded. The check runs after every
// costed step, never batched.
func (s *analysisState) charge(ctx exec.Context, costMilli int64) error {
	if !s.ledger.Charge(costMilli) {
		return nil
	}
	s.status = AnalysisBudgetExceeded
	if err := gate.AwaitBudget(ctx, s.ledger, gate.BudgetOptions{
		Slot:     "budget",
		Timeout:  s.budgetTimeout,
		NotifyTo: "finops",
	}); err != nil {
		return err
	}
	s.status = AnalysisRunning
	return nil
}

// Analysis analyses a codebase: budget-gated file scanning, parallel
// per-module child analyses, a sequential deep-dive chain over severe
// files, an adaptive strategy loop, and a refactor-plan approval gate.
func Analysis(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
	return runAnalysis(ctx, input, DefaultTimeouts())
}

func runAnalysis(ctx exec.Context, input exec.Payload, timeouts Timeouts) (exec.Payload, error) {
	files, err := input.Strings("files")
	if err != nil {
		return nil, exec.NewAppError("validation", "%v", err)
	}

	state := &analysisState{
		status:        AnalysisRunning,
		strategy:      StrategyBreadth,
		ledger:        gate.NewLedger(input.IntOr("budget_milli", 0)),
		budgetTimeout: timeouts.Budget,
	}
	ctx.SetQueryHandler("state", state.record)

	fail := func(err error) (exec.Payload, error) {
		switch {
		case exec.CancelReason(err) == exec.ReasonBudgetExceeded:
			state.status = AnalysisBudgetExceeded
		case exec.IsCanceled(err):
			state.status = AnalysisCancelled
		default:
			state.status = AnalysisFailed
		}
		return nil, err
	}

	// Phase 1: scan every file under the budget gate.
	for _, path := range files {
		if ctx.Cancelled() {
			return fail(&exec.CanceledError{Reason: ctx.CancelReason()})
		}
		out, err := ctx.Execute("scan-file", exec.Payload{
			"path": path, "strategy": state.strategy,
		}, exec.RetryPolicy{})
		if err != nil {
			return fail(err)
		}
		state.filesDone++
		state.findings += out.IntOr("issues", 0)
		if out.IntOr("max_severity", 0) >= deepDiveSeverity {
			state.severeFiles = append(state.severeFiles, path)
		}
		if err := state.charge(ctx, out.IntOr("cost_milli", 0)); err != nil {
			return fail(err)
		}
	}

	// Phase 2: independent module analyses in parallel. A failed module
	// does not sink the run; its findings are simply absent.
	modules, _ := input.Strings("modules")
	if len(modules) > 0 {
		specs := make([]coord.ChildSpec, len(modules))
		for i, m := range modules {
			specs[i] = coord.ChildSpec{
				Workflow: "module-analysis",
				Suffix:   "mod-" + m,
				Input:    exec.Payload{"module": m},
			}
		}
		results, err := coord.RunParallel(ctx, specs)
		if err != nil {
			return fail(err)
		}
		for _, r := range results {
			if r.Err != nil {
				ctx.Logger().Warn("module analysis failed, proceeding with partial results",
					"module", r.Suffix, "error", r.Err)
				continue
			}
			state.findings += r.Output.IntOr("issues", 0)
			if err := state.charge(ctx, r.Output.IntOr("cost_milli", 0)); err != nil {
				return fail(err)
			}
		}
	}

	// Phase 3: deep dives are dependent work; each next dive launches
	// only while the prior one kept finding issues.
	if len(state.severeFiles) > 0 {
		specs := make([]coord.ChildSpec, len(state.severeFiles))
		for i, path := range state.severeFiles {
			specs[i] = coord.ChildSpec{
				Workflow: "deep-dive",
				Suffix:   "dive-" + path,
				Input:    exec.Payload{"path": path},
			}
		}
		dives, err := coord.RunSequential(ctx, specs, func(_ int, prior coord.ChildResult) bool {
			return prior.Err == nil && prior.Output.IntOr("issues", 0) > 0
		})
		if err != nil {
			return fail(err)
		}
		for _, d := range dives {
			if d.Err != nil {
				continue
			}
			state.findings += d.Output.IntOr("issues", 0)
			if err := state.charge(ctx, d.Output.IntOr("cost_milli", 0)); err != nil {
				return fail(err)
			}
		}
	}

	// Phase 4: adaptive strategy loop with quality-driven early exit.
	if err := adaptiveLoop(ctx, state, files, input); err != nil {
		return fail(err)
	}

	// Phase 5: propose a refactor plan when there is anything to fix.
	if state.findings > 0 {
		plan, err := ctx.Execute("propose-refactor-plan", exec.Payload{
			"analysis_key": ctx.Key(),
			"findings":     state.findings,
		}, exec.RetryPolicy{})
		if err != nil {
			return fail(err)
		}
		approval, err := gate.AwaitApproval(ctx, gate.ApprovalOptions{
			Slot:     "plan",
			Timeout:  timeouts.Approval,
			NotifyTo: "maintainers",
			Subject:  "refactor plan approval",
			Body:     plan.StringOr("summary", ""),
		})
		if err != nil {
			return fail(err)
		}
		state.planApproved = approval.Approved()
	}

	state.status = AnalysisCompleted
	return exec.Payload{
		"files_scanned": state.filesDone,
		"findings":      state.findings,
		"cost_milli":    state.ledger.Spent(),
		"strategy":      state.strategy,
		"plan_approved": state.planApproved,
	}, nil
}

// adaptiveLoop runs up to max_depth extra scan passes, scoring coverage,
// novelty, and depth in milliunits after each pass. It exits early once
// quality clears the threshold, and records every strategy switch as a
// history marker so replay walks the identical strategy sequence.
func adaptiveLoop(ctx exec.Context, state *analysisState, files []string, input exec.Payload) error {
	maxDepth := input.IntOr("max_depth", 0)
	if maxDepth <= 0 || len(files) == 0 {
		return nil
	}
	threshold := input.IntOr("quality_threshold_milli", 700)

	seen := make(map[string]bool, len(files))
	for depth := int64(1); depth <= maxDepth; depth++ {
		if ctx.Cancelled() {
			return &exec.CanceledError{Reason: ctx.CancelReason()}
		}

		path := files[ctx.RNG().NextInt(0, len(files)-1)]
		out, err := ctx.Execute("scan-file", exec.Payload{
			"path": path, "strategy": state.strategy,
		}, exec.RetryPolicy{})
		if err != nil {
			return err
		}
		issues := out.IntOr("issues", 0)
		state.findings += issues
		if err := state.charge(ctx, out.IntOr("cost_milli", 0)); err != nil {
			return err
		}
		seen[path] = true

		coverage := int64(len(seen)) * scoreScale / int64(len(files))
		novelty := min(issues*250, scoreScale)
		depthScore := depth * scoreScale / maxDepth
		quality := (coverage + novelty + depthScore) / 3

		if quality >= threshold {
			ctx.RecordMarker("quality-met", exec.Payload{
				"depth": depth, "quality_milli": quality,
			})
			return nil
		}

		next := state.strategy
		switch {
		case coverage < 400:
			next = StrategyBreadth
		case novelty < 300:
			next = StrategyDepth
		default:
			next = StrategyTargeted
		}
		if next != state.strategy {
			ctx.RecordMarker("strategy-switch", exec.Payload{
				"from": state.strategy, "to": next, "depth": depth,
			})
			state.strategy = next
		}

		if depth < maxDepth {
			if err := ctx.Sleep(iterationDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// ModuleAnalysis is the child definition for one module: a single
// depth-strategy scan whose cost the parent charges to its own ledger.
func ModuleAnalysis(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
	module, err := input.String("module")
	if err != nil {
		return nil, exec.NewAppError("validation", "%v", err)
	}
	out, err := ctx.Execute("scan-file", exec.Payload{
		"path": module, "strategy": StrategyDepth,
	}, exec.RetryPolicy{})
	if err != nil {
		return nil, err
	}
	return exec.Payload{
		"module":     module,
		"issues":     out.IntOr("issues", 0),
		"cost_milli": out.IntOr("cost_milli", 0),
	}, nil
}

// DeepDive is the child definition for one severe file: a targeted scan
// pass over the flagged path.
func DeepDive(ctx exec.Context, input exec.Payload) (exec.Payload, error) {
	path, err := input.String("path")
	if err != nil {
		return nil, exec.NewAppError("validation", "%v", err)
	}
	out, err := ctx.Execute("scan-file", exec.Payload{
		"path": path, "strategy": StrategyTargeted,
	}, exec.RetryPolicy{})
	if err != nil {
		return nil, err
	}
	return exec.Payload{
		"path":       path,
		"issues":     out.IntOr("issues", 0),
		"cost_milli": out.IntOr("cost_milli", 0),
	}, nil
}
