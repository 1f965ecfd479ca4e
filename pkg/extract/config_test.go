package extract

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyDefaults(t *testing.T) {
	policy, err := LoadPolicy(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if policy != DefaultPolicy() {
		t.Errorf("policy = %+v, want defaults", policy)
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	cfg := "output_strategy: pointers\nearly_exit: normalize\ncontext_param: c\n"
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(dir)
	if err != nil {
		t.Fatal(err)
	}
	if policy.OutputStrategy != OutputPointers {
		t.Errorf("output strategy = %q", policy.OutputStrategy)
	}
	if policy.EarlyExit != EarlyExitNormalize {
		t.Errorf("early exit = %q", policy.EarlyExit)
	}
	if policy.ContextParam != "c" {
		t.Errorf("context param = %q", policy.ContextParam)
	}
}

func TestLoadPolicyFromParentDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("output_strategy: pointers\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(sub)
	if err != nil {
		t.Fatal(err)
	}
	if policy.OutputStrategy != OutputPointers {
		t.Errorf("output strategy = %q, want pointers", policy.OutputStrategy)
	}
}

func TestLoadPolicyPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("early_exit: normalize\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(dir)
	if err != nil {
		t.Fatal(err)
	}
	if policy.OutputStrategy != OutputTuple {
		t.Errorf("output strategy = %q, want tuple default", policy.OutputStrategy)
	}
	if policy.EarlyExit != EarlyExitNormalize {
		t.Errorf("early exit = %q", policy.EarlyExit)
	}
}

func TestLoadPolicyRejectsUnknownValues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("output_strategy: registers\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(dir)
	if err == nil {
		t.Fatal("unknown strategy must error")
	}
	if policy != DefaultPolicy() {
		t.Errorf("invalid config must fall back to defaults, got %+v", policy)
	}
}

func TestLoadPolicyRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte("output_strategy: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPolicy(dir); err == nil {
		t.Fatal("malformed yaml must error")
	}
}

func TestNormalizedFillsZeroValues(t *testing.T) {
	p := Policy{OutputStrategy: OutputPointers}.normalized()
	if p.OutputStrategy != OutputPointers {
		t.Errorf("explicit value overwritten: %q", p.OutputStrategy)
	}
	if p.EarlyExit != EarlyExitPreserve || p.ContextParam != "ctx" {
		t.Errorf("zero values not filled: %+v", p)
	}
}
