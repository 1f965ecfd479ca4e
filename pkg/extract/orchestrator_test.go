package extract

import (
	"context"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

func TestPreviewStraightLine(t *testing.T) {
	resp := preview(t, calcSrc, 4, 5, "compute")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	for _, want := range []string{
		"func compute(a int, b int) int",
		"x := a + b",
		"return y",
	} {
		if !strings.Contains(resp.GeneratedMethod, want) {
			t.Errorf("generated method missing %q:\n%s", want, resp.GeneratedMethod)
		}
	}
	if resp.CallSiteReplacement != "y := compute(a, b)" {
		t.Errorf("call site = %q", resp.CallSiteReplacement)
	}
	if resp.NewVersion != 1 {
		t.Errorf("preview must not bump the version, got %d", resp.NewVersion)
	}
}

func TestPreviewEarlyReturn(t *testing.T) {
	resp := preview(t, findSrc, 4, 8, "scan")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	for _, want := range []string{
		"func scan(items []int, target int) (int, bool, bool)",
		"return i, true, true",
		"return 0, false, false",
	} {
		if !strings.Contains(resp.GeneratedMethod, want) {
			t.Errorf("generated method missing %q:\n%s", want, resp.GeneratedMethod)
		}
	}
	for _, want := range []string{
		"ret0, ret1, done := scan(items, target)",
		"if done {",
		"return ret0, ret1",
	} {
		if !strings.Contains(resp.CallSiteReplacement, want) {
			t.Errorf("call site missing %q:\n%s", want, resp.CallSiteReplacement)
		}
	}
}

func TestPreviewExpression(t *testing.T) {
	resp := preview(t, exprSrc, 5, 5, "product")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	if !strings.Contains(resp.GeneratedMethod, "func product(a int, b int, c int) int") {
		t.Errorf("generated method:\n%s", resp.GeneratedMethod)
	}
	if !strings.Contains(resp.GeneratedMethod, "return a + b*c") {
		t.Errorf("generated method:\n%s", resp.GeneratedMethod)
	}
	if resp.CallSiteReplacement != "product(a, b, c)" {
		t.Errorf("call site = %q", resp.CallSiteReplacement)
	}
}

func TestPreviewCarriesExpansionWarning(t *testing.T) {
	resp := preview(t, branchSrc, 5, 6, "label")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	if len(resp.Warnings) == 0 {
		t.Fatal("expected an auto-expansion warning")
	}
}

func TestPreviewErrorCode(t *testing.T) {
	resp := preview(t, calcSrc, 5, 4, "compute")
	if resp.Success {
		t.Fatal("inverted range must fail")
	}
	if resp.ErrorCode != "IncompleteSelection" {
		t.Errorf("code = %q, want IncompleteSelection", resp.ErrorCode)
	}
	if resp.ErrorDetail == "" {
		t.Error("detail must name the problem")
	}
}

func TestPreviewBranchGuardedWrite(t *testing.T) {
	// x is overwritten only when flag holds, so it must survive as a
	// parameter of the extracted function.
	resp := preview(t, condWriteSrc, 4, 7, "clamp")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	if !strings.Contains(resp.GeneratedMethod, "func clamp(flag bool, x int) int") {
		t.Errorf("generated method:\n%s", resp.GeneratedMethod)
	}
	if resp.CallSiteReplacement != "y := clamp(flag, x)" {
		t.Errorf("call site = %q", resp.CallSiteReplacement)
	}
}

func TestPreviewAliasedVariable(t *testing.T) {
	// The caller still reads x through p, so the mutation must travel back.
	resp := preview(t, aliasSrc, 6, 7, "advance")
	if !resp.Success {
		t.Fatalf("preview failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	for _, want := range []string{
		"func advance() int",
		"var x int",
		"return x",
	} {
		if !strings.Contains(resp.GeneratedMethod, want) {
			t.Errorf("generated method missing %q:\n%s", want, resp.GeneratedMethod)
		}
	}
	if resp.CallSiteReplacement != "x = advance()" {
		t.Errorf("call site = %q", resp.CallSiteReplacement)
	}
}

func TestVerifyRejectsEditsThatBreakResolution(t *testing.T) {
	snap := mustSnapshot(t, calcSrc)
	orch := NewOrchestrator(source.NewDocumentStore(t.TempDir(), testLogger()), DefaultPolicy(), testLogger())

	off := strings.Index(calcSrc, "a + b")
	if off < 0 {
		t.Fatal("fixture changed")
	}
	err := orch.verify(snap, []source.Edit{
		{Start: off, End: off + len("a + b"), Text: "a + q"},
	})
	wantErrorKind(t, err, types.InternalAnalysisFailure)
}

func TestVerifyAcceptsEquivalentEdit(t *testing.T) {
	snap := mustSnapshot(t, calcSrc)
	orch := NewOrchestrator(source.NewDocumentStore(t.TempDir(), testLogger()), DefaultPolicy(), testLogger())

	off := strings.Index(calcSrc, "a + b")
	if off < 0 {
		t.Fatal("fixture changed")
	}
	if err := orch.verify(snap, []source.Edit{
		{Start: off, End: off + len("a + b"), Text: "b + a"},
	}); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestApplyRewritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.go")
	if err := os.WriteFile(path, []byte(calcSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := source.NewDocumentStore(dir, testLogger())
	orch := NewOrchestrator(store, DefaultPolicy(), testLogger())

	resp := orch.Extract(context.Background(), types.Request{
		Path: "input.go", StartLine: 4, EndLine: 5, Name: "compute", Mode: types.Apply,
	})
	if !resp.Success {
		t.Fatalf("apply failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}
	if resp.NewVersion != 2 {
		t.Errorf("version = %d, want 2", resp.NewVersion)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(rewritten)
	for _, want := range []string{
		"y := compute(a, b)",
		"func compute(a int, b int) int",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rewritten file missing %q:\n%s", want, got)
		}
	}
	if _, err := parser.ParseFile(token.NewFileSet(), path, rewritten, 0); err != nil {
		t.Errorf("rewritten file does not parse: %v", err)
	}

	// A fresh snapshot of the rewritten file must analyze cleanly.
	snap, err := store.Snapshot("input.go")
	if err != nil {
		t.Fatalf("snapshot after apply: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("snapshot version = %d, want 2", snap.Version)
	}
}

func TestApplyInsertsAfterEnclosingFunction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.go")
	if err := os.WriteFile(path, []byte(findSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := source.NewDocumentStore(dir, testLogger())
	orch := NewOrchestrator(store, DefaultPolicy(), testLogger())

	resp := orch.Extract(context.Background(), types.Request{
		Path: "input.go", StartLine: 4, EndLine: 8, Name: "scan", Mode: types.Apply,
	})
	if !resp.Success {
		t.Fatalf("apply failed: %s: %s", resp.ErrorCode, resp.ErrorDetail)
	}

	rewritten, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(rewritten)
	if strings.Index(got, "func find") > strings.Index(got, "func scan") {
		t.Error("new function must follow the one it was extracted from")
	}
	if _, err := parser.ParseFile(token.NewFileSet(), path, rewritten, 0); err != nil {
		t.Errorf("rewritten file does not parse: %v\n%s", err, got)
	}
}

func TestCanceledRequest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "input.go"), []byte(calcSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := source.NewDocumentStore(dir, testLogger())
	orch := NewOrchestrator(store, DefaultPolicy(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := orch.Extract(ctx, types.Request{
		Path: "input.go", StartLine: 4, EndLine: 5, Name: "compute",
	})
	if resp.Success {
		t.Fatal("canceled request must fail")
	}
	if resp.ErrorCode != "InternalAnalysisFailure" {
		t.Errorf("code = %q", resp.ErrorCode)
	}
}

func TestPhaseString(t *testing.T) {
	phases := []Phase{
		PhaseIdle, PhaseValidating, PhaseAnalyzingFlow, PhaseInferringSignature,
		PhaseTransforming, PhaseGenerating, PhasePreviewing, PhaseApplying,
		PhaseDone, PhaseFailed,
	}
	seen := map[string]bool{}
	for _, p := range phases {
		s := p.String()
		if s == "" || s == "unknown" || seen[s] {
			t.Errorf("phase %d stringifies to %q", p, s)
		}
		seen[s] = true
	}
}

func TestFailedApplyLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.go")
	if err := os.WriteFile(path, []byte(calcSrc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := source.NewDocumentStore(dir, testLogger())
	orch := NewOrchestrator(store, DefaultPolicy(), testLogger())

	// "calc" collides with the enclosing function's own name.
	resp := orch.Extract(context.Background(), types.Request{
		Path: "input.go", StartLine: 4, EndLine: 5, Name: "calc", Mode: types.Apply,
	})
	if resp.Success {
		t.Fatal("colliding name must fail")
	}
	if resp.ErrorCode != "NameCollision" {
		t.Errorf("code = %q, want NameCollision", resp.ErrorCode)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != calcSrc {
		t.Error("failed apply must not modify the file")
	}
	if v := store.Version(path); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
}
