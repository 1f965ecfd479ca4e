package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OutputStrategy selects how multi-value outputs leave the extracted
// function.
type OutputStrategy string

const (
	// OutputTuple returns outputs as a multi-value result list.
	OutputTuple OutputStrategy = "tuple"
	// OutputPointers passes outputs as pointer parameters instead.
	OutputPointers OutputStrategy = "pointers"
)

// EarlyExitPolicy selects how interior exits are surfaced.
type EarlyExitPolicy string

const (
	// EarlyExitNormalize rewrites interior exits through a done flag the
	// caller replays. The only supported policy for mixed-exit selections.
	EarlyExitNormalize EarlyExitPolicy = "normalize"
	// EarlyExitPreserve forwards exits directly when every path exits the
	// same way, avoiding the flag.
	EarlyExitPreserve EarlyExitPolicy = "preserve"
)

// Policy holds the user-tunable knobs for code generation.
type Policy struct {
	OutputStrategy OutputStrategy  `yaml:"output_strategy"`
	EarlyExit      EarlyExitPolicy `yaml:"early_exit"`
	// ContextParam is the name given to the context parameter added for
	// suspension-bearing extractions.
	ContextParam string `yaml:"context_param"`
}

// DefaultPolicy returns the policy used when no config file is present.
func DefaultPolicy() Policy {
	return Policy{
		OutputStrategy: OutputTuple,
		EarlyExit:      EarlyExitPreserve,
		ContextParam:   "ctx",
	}
}

const configFileName = ".methodlift.yml"

// LoadPolicy looks for .methodlift.yml in dir and each parent directory,
// falling back to defaults when none exists.
func LoadPolicy(dir string) (Policy, error) {
	policy := DefaultPolicy()

	path, err := findConfig(dir)
	if err != nil || path == "" {
		return policy, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := policy.validate(); err != nil {
		return DefaultPolicy(), fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

func findConfig(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(abs, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", nil
		}
		abs = parent
	}
}

func (p Policy) validate() error {
	switch p.OutputStrategy {
	case OutputTuple, OutputPointers, "":
	default:
		return fmt.Errorf("unknown output_strategy %q", p.OutputStrategy)
	}
	switch p.EarlyExit {
	case EarlyExitNormalize, EarlyExitPreserve, "":
	default:
		return fmt.Errorf("unknown early_exit %q", p.EarlyExit)
	}
	return nil
}

// normalized fills zero values with defaults so callers can hand-build a
// partial Policy.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.OutputStrategy == "" {
		p.OutputStrategy = def.OutputStrategy
	}
	if p.EarlyExit == "" {
		p.EarlyExit = def.EarlyExit
	}
	if p.ContextParam == "" {
		p.ContextParam = def.ContextParam
	}
	return p
}
