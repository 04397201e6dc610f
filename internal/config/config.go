// Package config loads the server configuration from YAML and validates
// it against a CUE schema before anything touches the values. A config
// file that decodes but carries a typo'd clock mode or a negative
// timeout fails at startup, not mid-run.
package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// schema constrains the raw YAML document. Every field is optional;
// defaults fill the gaps after validation.
const schema = `
#Config: {
	server?: {
		addr?: string & !=""
	}
	db?: {
		path?: string & !=""
	}
	// wall maps waits onto real time; virtual time only moves when the
	// operator advances it.
	clock?: "wall" | "virtual"
	log?: {
		level?: "debug" | "info" | "warn" | "error"
	}
	gates?: {
		approval_timeout?: string & !=""
		budget_timeout?:   string & !=""
	}
}
`

// Config is the validated server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	Clock  string       `yaml:"clock"`
	Log    LogConfig    `yaml:"log"`
	Gates  GatesConfig  `yaml:"gates"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// GatesConfig carries operator-tunable gate timeouts as duration
// strings. Zero values keep the per-gate defaults.
type GatesConfig struct {
	ApprovalTimeout string `yaml:"approval_timeout"`
	BudgetTimeout   string `yaml:"budget_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		DB:     DBConfig{Path: "helmsman.db"},
		Clock:  "wall",
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads, validates, and decodes a YAML config file. Fields absent
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML config document.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.ApprovalTimeout(); err != nil {
		return nil, fmt.Errorf("gates.approval_timeout: %w", err)
	}
	if _, err := cfg.BudgetTimeout(); err != nil {
		return nil, fmt.Errorf("gates.budget_timeout: %w", err)
	}
	return cfg, nil
}

// validate unifies the raw document with the schema and reports every
// constraint violation, not just the first.
func validate(raw map[string]any) error {
	if raw == nil {
		// Empty document: all defaults.
		return nil
	}
	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Config"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schemaVal.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}

// ApprovalTimeout returns the configured approval gate timeout, or zero
// when unset.
func (c *Config) ApprovalTimeout() (time.Duration, error) {
	return parseDuration(c.Gates.ApprovalTimeout)
}

// BudgetTimeout returns the configured budget gate timeout, or zero when
// unset.
func (c *Config) BudgetTimeout() (time.Duration, error) {
	return parseDuration(c.Gates.BudgetTimeout)
}

// VirtualClock reports whether the runtime should run on manual time.
func (c *Config) VirtualClock() bool {
	return c.Clock == "virtual"
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
