package extract

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func mustSnapshot(t *testing.T, src string) *source.Snapshot {
	t.Helper()
	snap, err := source.NewSnapshot("input.go", []byte(src), 1)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func mustValidate(t *testing.T, src string, startLine, endLine int) *AnalysisContext {
	t.Helper()
	snap := mustSnapshot(t, src)
	ctx, err := NewSelectionValidator(snap).Validate(types.Selection{
		Path: "input.go", StartLine: startLine, EndLine: endLine,
	})
	if err != nil {
		t.Fatalf("validate lines %d-%d: %v", startLine, endLine, err)
	}
	return ctx
}

// runPipeline drives validation through signature inference, the shared
// prefix of most engine tests.
func runPipeline(t *testing.T, src string, startLine, endLine int, name string, policy Policy) (*AnalysisContext, *types.ControlFlowSummary, []types.VariableFlowFact, *types.ExtractedSignature, error) {
	t.Helper()
	snap := mustSnapshot(t, src)
	actx, err := NewSelectionValidator(snap).Validate(types.Selection{
		Path: "input.go", StartLine: startLine, EndLine: endLine,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	flow, err := NewControlFlowClassifier(snap).Classify(actx)
	if err != nil {
		return actx, nil, nil, nil, err
	}
	facts, err := NewDataFlowAnalyzer(snap).Analyze(actx)
	if err != nil {
		return actx, flow, nil, nil, err
	}
	sig, err := NewSignatureInferencer(snap, policy).Infer(actx, flow, facts, name)
	return actx, flow, facts, sig, err
}

// preview runs a full end-to-end request against a temp workspace.
func preview(t *testing.T, src string, startLine, endLine int, name string) *types.Response {
	t.Helper()
	return request(t, src, startLine, endLine, name, types.Preview)
}

func request(t *testing.T, src string, startLine, endLine int, name string, mode types.Mode) *types.Response {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "input.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	store := source.NewDocumentStore(dir, testLogger())
	orch := NewOrchestrator(store, DefaultPolicy(), testLogger())
	return orch.Extract(context.Background(), types.Request{
		Path:      "input.go",
		StartLine: startLine,
		EndLine:   endLine,
		Name:      name,
		Mode:      mode,
	})
}

func factByName(facts []types.VariableFlowFact, name string) (types.VariableFlowFact, bool) {
	for _, f := range facts {
		if f.Name == name {
			return f, true
		}
	}
	return types.VariableFlowFact{}, false
}

func wantErrorKind(t *testing.T, err error, kind types.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", kind)
	}
	ee, ok := types.AsExtractError(err)
	if !ok {
		t.Fatalf("expected ExtractError, got %T: %v", err, err)
	}
	if ee.Kind != kind {
		t.Fatalf("error kind = %s, want %s (%v)", ee.Kind, kind, err)
	}
}
