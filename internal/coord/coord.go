// Package coord fans work out to child executions and collects their
// results. Children are isolated: one child's failure reaches the parent
// only as a value in its result slot, never as a thrown error, so the
// parent decides the aggregate outcome.
package coord

import (
	"fmt"

	"github.com/roach88/helmsman/internal/exec"
)

// ChildSpec names one child execution to launch.
type ChildSpec struct {
	Workflow string
	Suffix   string
	Input    exec.Payload
}

// ChildResult is one child's terminal outcome.
type ChildResult struct {
	Suffix string
	Key    string
	Output exec.Payload
	Err    error
}

// RunParallel launches every child, then awaits them all in launch order.
// The returned error is reserved for launch failures; per-child failures
// are delivered in the results. Awaiting in a fixed order keeps the
// parent's history deterministic regardless of child completion order.
func RunParallel(ctx exec.Context, specs []ChildSpec) ([]ChildResult, error) {
	handles := make([]exec.Child, len(specs))
	for i, spec := range specs {
		h, err := ctx.StartChild(spec.Workflow, spec.Suffix, spec.Input)
		if err != nil {
			return nil, fmt.Errorf("launch child %s: %w", spec.Suffix, err)
		}
		handles[i] = h
	}

	results := make([]ChildResult, len(specs))
	for i, h := range handles {
		out, err := h.Await()
		results[i] = ChildResult{
			Suffix: specs[i].Suffix,
			Key:    h.Key(),
			Output: out,
			Err:    err,
		}
	}
	return results, nil
}

// RunSequential runs children one at a time. After each child, proceed
// decides from its result whether the next child launches; returning
// false ends the chain. The first child always runs.
func RunSequential(ctx exec.Context, specs []ChildSpec, proceed func(i int, prior ChildResult) bool) ([]ChildResult, error) {
	var results []ChildResult
	for i, spec := range specs {
		if i > 0 && !proceed(i, results[i-1]) {
			break
		}
		h, err := ctx.StartChild(spec.Workflow, spec.Suffix, spec.Input)
		if err != nil {
			return results, fmt.Errorf("launch child %s: %w", spec.Suffix, err)
		}
		out, cerr := h.Await()
		results = append(results, ChildResult{
			Suffix: spec.Suffix,
			Key:    h.Key(),
			Output: out,
			Err:    cerr,
		})
	}
	return results, nil
}

// Failed filters the results down to the children that failed.
func Failed(results []ChildResult) []ChildResult {
	var out []ChildResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
