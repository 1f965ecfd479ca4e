package extract

import (
	"go/ast"
	"go/token"

	"methodlift/pkg/source"
)

// AnalysisContext is the immutable per-request view every phase consumes:
// the snapshot, the enclosing function, and the normalized selection. Phases
// return fresh result values and never write back into the context.
type AnalysisContext struct {
	Snap *source.Snapshot
	Fn   *ast.FuncDecl

	// Stmts is the contiguous sibling run in statement mode. In expression
	// mode Stmts is nil and Expr holds the single selected expression.
	Stmts []ast.Stmt
	Expr  ast.Expr

	Warnings []string
}

// Start returns the position where the selection begins.
func (c *AnalysisContext) Start() token.Pos {
	if c.Expr != nil {
		return c.Expr.Pos()
	}
	return c.Stmts[0].Pos()
}

// End returns the position just past the selection.
func (c *AnalysisContext) End() token.Pos {
	if c.Expr != nil {
		return c.Expr.End()
	}
	return c.Stmts[len(c.Stmts)-1].End()
}

// Contains reports whether pos falls inside the selection.
func (c *AnalysisContext) Contains(pos token.Pos) bool {
	return pos >= c.Start() && pos < c.End()
}
