package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/helmsman/internal/exec"
)

// snapshot projects a scenario run into a canonical-JSON-safe map. The
// trace carries decision structure only, so a golden file stays stable
// across payload additions.
func snapshot(s *Scenario, res *Result) map[string]any {
	trace := make([]any, len(res.Trace))
	for i, ev := range res.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"kind":    ev.Kind,
			"name":    ev.Name,
			"outcome": ev.Outcome,
		}
		if ev.ErrClass != "" {
			m["err_class"] = ev.ErrClass
		}
		if ev.Attempts > 1 {
			m["attempts"] = int64(ev.Attempts)
		}
		trace[i] = m
	}
	out := map[string]any{
		"scenario": s.Name,
		"workflow": s.Workflow,
		"key":      s.Key,
		"status":   string(res.Status),
		"trace":    trace,
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	return out
}

// RunGolden executes a scenario, fails the test on any expectation or
// assertion failure, and compares the trace snapshot against
// testdata/golden/<name>.golden. Regenerate with go test -update.
func RunGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	res, err := Run(s)
	if err != nil {
		t.Fatalf("scenario %s: %v", s.Name, err)
	}
	for _, f := range res.Failures {
		t.Errorf("scenario %s: %s", s.Name, f)
	}

	data, err := exec.MarshalCanonical(snapshot(s, res))
	if err != nil {
		t.Fatalf("marshal trace snapshot: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return res
}
