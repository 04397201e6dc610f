package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
workflow: order
key: k
asserts: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsFloatsInInput(t *testing.T) {
	path := writeScenario(t, `
name: floats
workflow: order
key: k
input:
  amount_cents: 99.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestLoad_RejectsAmbiguousStep(t *testing.T) {
	path := writeScenario(t, `
name: ambiguous
workflow: order
key: k
steps:
  - signal: approval
    advance: 1h
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestLoad_ParsesStepsAndInput(t *testing.T) {
	path := writeScenario(t, `
name: ok
workflow: order
key: k
input:
  amount_cents: 10000
  tags: [a, b]
steps:
  - signal: approval
    payload:
      approved: true
  - advance: 24h
  - cancel: operator-abort
`)
	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.Steps, 3)

	input, err := toPayload(s.Input)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), input.IntOr("amount_cents", 0))
	tags, err := input.Strings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)
}

func TestAssertions_Evaluate(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Kind: "activity", Name: "reserve-inventory", Outcome: "ok"},
		{Seq: 2, Kind: "activity", Name: "charge-payment", Outcome: "error", ErrClass: "payment-declined"},
		{Seq: 3, Kind: "activity", Name: "release-inventory", Outcome: "ok"},
	}

	pass := []Assertion{
		{Type: "trace_contains", Kind: "activity", Name: "charge-payment", Outcome: "error"},
		{Type: "trace_absent", Kind: "signal"},
		{Type: "trace_count", Kind: "activity", Count: 3},
		{Type: "trace_order", Name: "reserve-inventory", After: "release-inventory"},
	}
	assert.Empty(t, checkAssertions(pass, trace))

	fail := []Assertion{
		{Type: "trace_contains", Name: "create-shipment"},
		{Type: "trace_order", Name: "release-inventory", After: "reserve-inventory"},
		{Type: "bogus"},
	}
	assert.Len(t, checkAssertions(fail, trace), 3)
}
