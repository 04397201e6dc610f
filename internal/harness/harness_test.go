package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			res := RunGolden(t, s)
			assert.True(t, res.Passed(), "failures: %v", res.Failures)
		})
	}
}

func TestRun_SameScriptSameTrace(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "scenarios", "order-small-completes.yaml"))
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Output, second.Output)
}

func TestRun_UnfinishedScenarioReportsParkedInput(t *testing.T) {
	old := resultTimeout
	resultTimeout = 200 * time.Millisecond
	t.Cleanup(func() { resultTimeout = old })

	s := &Scenario{
		Name:     "stuck",
		Workflow: "order",
		Key:      "ord-stuck",
		Input: map[string]any{
			"amount_cents": 1_000_000, // parks at the approval gate
			"sku":          "widget",
		},
	}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
}
