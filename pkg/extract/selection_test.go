package extract

import (
	"strings"
	"testing"

	"methodlift/pkg/types"
)

const calcSrc = `package p

func calc(a, b int) int {
	x := a + b
	y := x * 2
	return y
}
`

func TestValidateStatementRun(t *testing.T) {
	ctx := mustValidate(t, calcSrc, 4, 5)
	if len(ctx.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(ctx.Stmts))
	}
	if len(ctx.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", ctx.Warnings)
	}
	if ctx.Fn.Name.Name != "calc" {
		t.Errorf("enclosing function = %s, want calc", ctx.Fn.Name.Name)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		want       types.ErrorKind
	}{
		{"inverted range", 5, 4, types.IncompleteSelection},
		{"before file start", 0, 2, types.EmptySelection},
		{"past file end", 4, 99, types.EmptySelection},
		{"outside any function", 1, 2, types.EmptySelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := mustSnapshot(t, calcSrc)
			_, err := NewSelectionValidator(snap).Validate(types.Selection{
				Path: "input.go", StartLine: tt.start, EndLine: tt.end,
			})
			wantErrorKind(t, err, tt.want)
		})
	}
}

const branchSrc = `package p

func classify(n int) string {
	out := ""
	if n > 0 {
		out = "pos"
	} else {
		out = "neg"
	}
	return out
}
`

func TestAutoExpandPartialConditional(t *testing.T) {
	// Lines 5-6 cover the if header and only half of its body; the selection
	// grows to the whole conditional and says so.
	ctx := mustValidate(t, branchSrc, 5, 6)
	if len(ctx.Stmts) != 1 {
		t.Fatalf("got %d statements, want the whole if", len(ctx.Stmts))
	}
	if len(ctx.Warnings) != 1 || !strings.Contains(ctx.Warnings[0], "conditional") {
		t.Errorf("expected conditional auto-expansion warning, got %v", ctx.Warnings)
	}
}

func TestInnerStatementNoExpansion(t *testing.T) {
	ctx := mustValidate(t, branchSrc, 6, 6)
	if len(ctx.Stmts) != 1 || len(ctx.Warnings) != 0 {
		t.Fatalf("inner statement selection should not expand: stmts=%d warnings=%v",
			len(ctx.Stmts), ctx.Warnings)
	}
}

const labelSrc = `package p

func scan(items []int) int {
outer:
	for _, v := range items {
		for i := 0; i < v; i++ {
			if i == 3 {
				continue outer
			}
		}
	}
	return 0
}
`

func TestLabeledJumpAcrossBoundary(t *testing.T) {
	// The inner loop continues a label declared outside the selection.
	snap := mustSnapshot(t, labelSrc)
	_, err := NewSelectionValidator(snap).Validate(types.Selection{
		Path: "input.go", StartLine: 6, EndLine: 9,
	})
	wantErrorKind(t, err, types.UnsupportedJumpConstruct)
}

func TestLabelFullyInsideIsAllowed(t *testing.T) {
	// Selecting the whole labeled loop keeps label and jump together.
	ctx := mustValidate(t, labelSrc, 4, 11)
	if len(ctx.Stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(ctx.Stmts))
	}
}

const exprSrc = `package p

func total(a, b, c int) int {
	x :=
		a + b*c
	return x
}
`

func TestExpressionModeSelection(t *testing.T) {
	// Line 5 holds exactly the right-hand side expression, nothing else.
	ctx := mustValidate(t, exprSrc, 5, 5)
	if ctx.Expr == nil {
		t.Fatal("expected expression mode")
	}
	if len(ctx.Stmts) != 0 {
		t.Errorf("expression mode should carry no statements")
	}
}

const cleanupSrc = `package p

import "os"

func process(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
	}()
	return nil
}
`

func TestAutoExpandPartialDefer(t *testing.T) {
	// Lines 10-11 cut the deferred cleanup in half; the whole defer statement
	// is taken and flagged.
	ctx := mustValidate(t, cleanupSrc, 10, 11)
	if len(ctx.Stmts) != 1 {
		t.Fatalf("got %d statements, want the whole defer", len(ctx.Stmts))
	}
	if len(ctx.Warnings) != 1 || !strings.Contains(ctx.Warnings[0], "resource-scope") {
		t.Errorf("expected resource-scope auto-expansion warning, got %v", ctx.Warnings)
	}
}
