package harness

import (
	"fmt"
	"reflect"
)

// Assertion validates the recorded trace. Type selects the check:
//
//	trace_contains: at least one event matches kind/name/outcome
//	trace_absent:   no event matches kind/name/outcome
//	trace_count:    exactly Count events match kind/name/outcome
//	trace_order:    the first match of Name happens before the first
//	                match of After
type Assertion struct {
	Type    string `yaml:"type"`
	Kind    string `yaml:"kind,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
	After   string `yaml:"after,omitempty"`
}

func (a Assertion) matches(ev TraceEvent) bool {
	if a.Kind != "" && ev.Kind != a.Kind {
		return false
	}
	if a.Name != "" && ev.Name != a.Name {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	return true
}

func checkAssertions(assertions []Assertion, trace []TraceEvent) []string {
	var failures []string
	for i, a := range assertions {
		if msg := checkAssertion(a, trace); msg != "" {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, msg))
		}
	}
	return failures
}

func checkAssertion(a Assertion, trace []TraceEvent) string {
	count := 0
	for _, ev := range trace {
		if a.matches(ev) {
			count++
		}
	}
	switch a.Type {
	case "trace_contains":
		if count == 0 {
			return fmt.Sprintf("no event matches kind=%q name=%q outcome=%q", a.Kind, a.Name, a.Outcome)
		}
	case "trace_absent":
		if count > 0 {
			return fmt.Sprintf("%d events match kind=%q name=%q outcome=%q, want none", count, a.Kind, a.Name, a.Outcome)
		}
	case "trace_count":
		if count != a.Count {
			return fmt.Sprintf("%d events match kind=%q name=%q outcome=%q, want %d", count, a.Kind, a.Name, a.Outcome, a.Count)
		}
	case "trace_order":
		first, second := -1, -1
		for i, ev := range trace {
			if first < 0 && ev.Name == a.Name {
				first = i
			}
			if second < 0 && ev.Name == a.After {
				second = i
			}
		}
		switch {
		case first < 0:
			return fmt.Sprintf("event %q never recorded", a.Name)
		case second < 0:
			return fmt.Sprintf("event %q never recorded", a.After)
		case first >= second:
			return fmt.Sprintf("%q recorded at %d, not before %q at %d", a.Name, first, a.After, second)
		}
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	return ""
}

func checkExpect(e *Expect, res *Result) []string {
	if e == nil {
		return nil
	}
	var failures []string
	if e.Status != "" && string(res.Status) != e.Status {
		failures = append(failures, fmt.Sprintf("status %q, want %q", res.Status, e.Status))
	}
	if len(e.Output) > 0 {
		want, err := toPayload(e.Output)
		if err != nil {
			return append(failures, fmt.Sprintf("expect output: %v", err))
		}
		for k, v := range want {
			got, ok := res.Output[k]
			if !ok {
				failures = append(failures, fmt.Sprintf("output missing key %q", k))
				continue
			}
			if !reflect.DeepEqual(got, v) {
				failures = append(failures, fmt.Sprintf("output[%q] = %v, want %v", k, got, v))
			}
		}
	}
	return failures
}
