package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/helmsman/internal/exec"
)

// Scenario is a scripted execution: one workflow start followed by a
// sequence of external inputs, with assertions over the recorded
// decision trace and the final output.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Workflow is the registered workflow to start.
	Workflow string `yaml:"workflow"`

	// Key is the execution key. Keys seed the execution's RNG, so a
	// scenario's key pins its random draws.
	Key string `yaml:"key"`

	// Input is the start payload. Integers decode as int64; floats are
	// rejected at load time, matching the payload model.
	Input map[string]any `yaml:"input,omitempty"`

	// Steps are applied in order after the execution first parks.
	Steps []Step `yaml:"steps,omitempty"`

	// Expect validates the terminal state after the run.
	Expect *Expect `yaml:"expect,omitempty"`

	// Assertions validate the recorded trace.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one external input. Exactly one field is set.
type Step struct {
	// Signal delivers a payload to a slot.
	Signal  string         `yaml:"signal,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Advance moves the virtual clock forward, firing due timers. The
	// value is a Go duration string such as "90s" or "24h".
	Advance string `yaml:"advance,omitempty"`

	// Cancel requests cancellation with a reason.
	Cancel string `yaml:"cancel,omitempty"`
}

// Expect validates how the execution ended.
type Expect struct {
	// Status is the expected terminal status.
	Status string `yaml:"status"`

	// Output is a subset match over the result payload. Only listed
	// keys are compared.
	Output map[string]any `yaml:"output,omitempty"`
}

// Load reads a scenario from a YAML file. Unknown fields are an error;
// a typo in a scenario silently weakening its assertions is worse than a
// load failure.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in a directory, sorted by name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := Load(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Workflow == "" {
		return fmt.Errorf("workflow is required")
	}
	if s.Key == "" {
		return fmt.Errorf("key is required")
	}
	if _, err := toPayload(s.Input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	for i, step := range s.Steps {
		set := 0
		if step.Signal != "" {
			set++
		}
		if step.Advance != "" {
			set++
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("step %d: bad advance: %w", i, err)
			}
		}
		if step.Cancel != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of signal, advance, cancel", i)
		}
		if _, err := toPayload(step.Payload); err != nil {
			return fmt.Errorf("step %d payload: %w", i, err)
		}
	}
	return nil
}

// toPayload converts YAML-decoded values into the payload model:
// integers widen to int64, floats are rejected.
func toPayload(m map[string]any) (exec.Payload, error) {
	if m == nil {
		return nil, nil
	}
	p := make(exec.Payload, len(m))
	for k, v := range m {
		cv, err := toPayloadValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		p[k] = cv
	}
	return p, nil
}

func toPayloadValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return nil, fmt.Errorf("floats are not allowed; use milliunits or cents")
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			ce, err := toPayloadValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	case map[string]any:
		return toPayload(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
