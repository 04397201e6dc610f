package activity

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/helmsman/internal/exec"
)

// ScanResult is the outcome of scanning one file.
type ScanResult struct {
	Issues      int64
	MaxSeverity int64 // 0..10
	CostMilli   int64
}

// Scanner analyses source files and proposes refactor plans.
type Scanner interface {
	ScanFile(ctx context.Context, path, strategy string) (ScanResult, error)
	ProposePlan(ctx context.Context, key string, findings int64) (planID, summary string, err error)
}

// AnalysisActivities builds the analysis process's activity set.
func AnalysisActivities(sc Scanner) Registry {
	return Registry{
		"scan-file": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			path, err := in.String("path")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			res, err := sc.ScanFile(ctx, path, in.StringOr("strategy", "breadth"))
			if err != nil {
				return nil, err
			}
			return exec.Payload{
				"issues":       res.Issues,
				"max_severity": res.MaxSeverity,
				"cost_milli":   res.CostMilli,
			}, nil
		},
		"propose-refactor-plan": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("analysis_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			id, summary, err := sc.ProposePlan(ctx, key, in.IntOr("findings", 0))
			if err != nil {
				return nil, err
			}
			return exec.Payload{"plan_id": id, "summary": summary}, nil
		},
	}
}

// MemScanner simulates scanning deterministically: every result derives
// from a stable hash of the file path, so identical inputs always yield
// identical findings and costs.
type MemScanner struct {
	mu       sync.Mutex
	failures map[string]int // path -> remaining failures
}

func NewMemScanner() *MemScanner {
	return &MemScanner{failures: make(map[string]int)}
}

// FailPath makes the next n scans of a path fail with a retryable error.
func (m *MemScanner) FailPath(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = n
}

func (m *MemScanner) ScanFile(_ context.Context, path, strategy string) (ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures[path] > 0 {
		m.failures[path]--
		return ScanResult{}, exec.NewAppError("unavailable", "scanner worker lost %s", path)
	}
	h := exec.SeedFromString(path)
	res := ScanResult{
		Issues:      h % 4,
		MaxSeverity: h % 10,
		CostMilli:   500 + h%500,
	}
	// Deeper strategies surface more issues at a higher cost per file.
	switch strategy {
	case "depth":
		res.Issues += h % 2
		res.CostMilli *= 2
	case "targeted":
		res.Issues += h % 3
		res.CostMilli *= 3
	}
	return res, nil
}

func (m *MemScanner) ProposePlan(_ context.Context, key string, findings int64) (string, string, error) {
	return "plan-" + key, fmt.Sprintf("refactor plan covering %d findings", findings), nil
}
