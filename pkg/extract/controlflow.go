package extract

import (
	"go/ast"
	"go/token"
	gotypes "go/types"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// ControlFlowClassifier walks the validated node set once and produces the
// ControlFlowSummary consumed read-only by every later phase. Nothing after
// this point re-derives control-flow facts.
type ControlFlowClassifier struct {
	snap *source.Snapshot
}

func NewControlFlowClassifier(snap *source.Snapshot) *ControlFlowClassifier {
	return &ControlFlowClassifier{snap: snap}
}

// Classify collects every statement that can transfer control outside the
// selection and flags suspension and generator points.
func (c *ControlFlowClassifier) Classify(ctx *AnalysisContext) (*types.ControlFlowSummary, error) {
	sum := &types.ControlFlowSummary{EntryCount: 1}

	if ctx.Expr != nil {
		// A lone expression has exactly one exit: its value.
		sum.Exits = []types.ExitPoint{{Kind: types.ExitFallthrough, Pos: ctx.End()}}
		c.scanMarkers(ctx, ctx.Expr, sum)
		return sum, nil
	}

	w := &flowWalker{snap: c.snap, ctx: ctx, sum: sum}
	for _, stmt := range ctx.Stmts {
		w.walkStmt(stmt, 0, 0)
		if w.err != nil {
			return nil, w.err
		}
	}

	// The selection falls off its end unless the last statement terminates
	// every path. An unreachable terminal exit is harmless; a missing one is
	// not, so the check is conservative.
	if !terminates(ctx.Stmts[len(ctx.Stmts)-1]) || len(sum.Exits) == 0 {
		sum.Exits = append(sum.Exits, types.ExitPoint{Kind: types.ExitFallthrough, Pos: ctx.End()})
	}

	sum.HasMultipleExits = len(sum.Exits) > 1
	for _, e := range sum.Exits {
		if e.Kind != types.ExitFallthrough {
			sum.HasEarlyExit = true
		}
	}
	return sum, nil
}

// scanMarkers flags suspension and generator points in a node, skipping
// nested function literals, whose control flow belongs to someone else.
func (c *ControlFlowClassifier) scanMarkers(ctx *AnalysisContext, n ast.Node, sum *types.ControlFlowSummary) {
	ast.Inspect(n, func(node ast.Node) bool {
		switch nd := node.(type) {
		case *ast.FuncLit:
			return false
		case *ast.SendStmt, *ast.SelectStmt:
			sum.ContainsSuspensionPoint = true
		case *ast.UnaryExpr:
			if nd.Op == token.ARROW {
				sum.ContainsSuspensionPoint = true
			}
		case *ast.CallExpr:
			if c.isYieldCall(ctx, nd) {
				sum.ContainsGeneratorPoint = true
			}
		}
		return true
	})
}

// isYieldCall reports whether call invokes the enclosing function's yield
// parameter (range-over-func style func(...) bool).
func (c *ControlFlowClassifier) isYieldCall(ctx *AnalysisContext, call *ast.CallExpr) bool {
	ident, ok := call.Fun.(*ast.Ident)
	if !ok {
		return false
	}
	obj := c.snap.ObjectOf(ident)
	if obj == nil {
		return ident.Name == "yield"
	}
	v, ok := obj.(*gotypes.Var)
	if !ok || !paramOf(ctx.Fn, obj) {
		return false
	}
	sig, ok := v.Type().(*gotypes.Signature)
	if !ok {
		return false
	}
	res := sig.Results()
	if res.Len() != 1 {
		return false
	}
	basic, ok := res.At(0).Type().(*gotypes.Basic)
	return ok && basic.Kind() == gotypes.Bool
}

// paramOf reports whether obj is declared in fn's parameter list.
func paramOf(fn *ast.FuncDecl, obj gotypes.Object) bool {
	if fn.Type.Params == nil {
		return false
	}
	return obj.Pos() >= fn.Type.Params.Pos() && obj.Pos() < fn.Type.Params.End()
}

// flowWalker does the statement-level classification. loopDepth counts
// for/range statements inside the selection; breakDepth additionally counts
// switch and select, since an unlabeled break binds to any of them.
type flowWalker struct {
	snap *source.Snapshot
	ctx  *AnalysisContext
	sum  *types.ControlFlowSummary
	err  error
}

func (w *flowWalker) walkStmt(stmt ast.Stmt, loopDepth, breakDepth int) {
	if w.err != nil {
		return
	}
	switch s := stmt.(type) {
	case *ast.ReturnStmt:
		w.sum.Exits = append(w.sum.Exits, types.ExitPoint{
			Kind:    types.ExitReturn,
			Pos:     s.Pos(),
			End:     s.End(),
			Stmt:    s,
			Results: s.Results,
		})

	case *ast.BranchStmt:
		switch s.Tok {
		case token.BREAK:
			if s.Label == nil && breakDepth == 0 {
				w.sum.Exits = append(w.sum.Exits, types.ExitPoint{
					Kind: types.ExitLoopBreak, Pos: s.Pos(), End: s.End(), Stmt: s,
				})
			}
		case token.CONTINUE:
			if s.Label == nil && loopDepth == 0 {
				w.sum.Exits = append(w.sum.Exits, types.ExitPoint{
					Kind: types.ExitLoopContinue, Pos: s.Pos(), End: s.End(), Stmt: s,
				})
			}
		case token.FALLTHROUGH:
			// A fallthrough whose switch is outside the selection would jump
			// into a case clause the extracted function cannot reach.
			if breakDepth == 0 {
				w.err = &types.ExtractError{
					Kind:   types.UnsupportedJumpConstruct,
					Detail: "fallthrough targets a case clause outside the selection",
					Path:   w.snap.Path,
					Line:   w.snap.Line(s.Pos()),
				}
			}
		}

	case *ast.BlockStmt:
		for _, inner := range s.List {
			w.walkStmt(inner, loopDepth, breakDepth)
		}

	case *ast.IfStmt:
		w.scanExpr(s.Cond)
		if s.Init != nil {
			w.walkStmt(s.Init, loopDepth, breakDepth)
		}
		w.walkStmt(s.Body, loopDepth, breakDepth)
		if s.Else != nil {
			w.walkStmt(s.Else, loopDepth, breakDepth)
		}

	case *ast.ForStmt:
		if s.Init != nil {
			w.walkStmt(s.Init, loopDepth, breakDepth)
		}
		w.scanExpr(s.Cond)
		if s.Post != nil {
			w.walkStmt(s.Post, loopDepth+1, breakDepth+1)
		}
		w.walkStmt(s.Body, loopDepth+1, breakDepth+1)

	case *ast.RangeStmt:
		w.scanExpr(s.X)
		w.walkStmt(s.Body, loopDepth+1, breakDepth+1)

	case *ast.SwitchStmt:
		if s.Init != nil {
			w.walkStmt(s.Init, loopDepth, breakDepth)
		}
		w.scanExpr(s.Tag)
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CaseClause); ok {
				for _, e := range cc.List {
					w.scanExpr(e)
				}
				for _, inner := range cc.Body {
					w.walkStmt(inner, loopDepth, breakDepth+1)
				}
			}
		}

	case *ast.TypeSwitchStmt:
		if s.Init != nil {
			w.walkStmt(s.Init, loopDepth, breakDepth)
		}
		w.walkStmt(s.Assign, loopDepth, breakDepth)
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CaseClause); ok {
				for _, inner := range cc.Body {
					w.walkStmt(inner, loopDepth, breakDepth+1)
				}
			}
		}

	case *ast.SelectStmt:
		w.sum.ContainsSuspensionPoint = true
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CommClause); ok {
				if cc.Comm != nil {
					w.walkStmt(cc.Comm, loopDepth, breakDepth+1)
				}
				for _, inner := range cc.Body {
					w.walkStmt(inner, loopDepth, breakDepth+1)
				}
			}
		}

	case *ast.LabeledStmt:
		w.walkStmt(s.Stmt, loopDepth, breakDepth)

	case *ast.SendStmt:
		w.sum.ContainsSuspensionPoint = true
		w.scanExpr(s.Chan)
		w.scanExpr(s.Value)

	case *ast.DeferStmt:
		w.scanExpr(s.Call)

	case *ast.GoStmt:
		w.scanExpr(s.Call)

	case *ast.ExprStmt:
		w.scanExpr(s.X)

	case *ast.AssignStmt:
		for _, e := range s.Rhs {
			w.scanExpr(e)
		}
		for _, e := range s.Lhs {
			w.scanExpr(e)
		}

	case *ast.DeclStmt:
		if gd, ok := s.Decl.(*ast.GenDecl); ok {
			for _, spec := range gd.Specs {
				if vs, ok := spec.(*ast.ValueSpec); ok {
					for _, e := range vs.Values {
						w.scanExpr(e)
					}
				}
			}
		}

	case *ast.IncDecStmt:
		w.scanExpr(s.X)
	}
}

// scanExpr flags suspension/generator markers in an expression.
func (w *flowWalker) scanExpr(expr ast.Expr) {
	if expr == nil {
		return
	}
	c := &ControlFlowClassifier{snap: w.snap}
	c.scanMarkers(w.ctx, expr, w.sum)
}

// terminates reports whether stmt ends every control path, so no fallthrough
// exit is needed after it. Conservative: false on anything uncertain.
func terminates(stmt ast.Stmt) bool {
	switch s := stmt.(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.ExprStmt:
		if call, ok := s.X.(*ast.CallExpr); ok {
			if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				return true
			}
		}
	case *ast.BlockStmt:
		return len(s.List) > 0 && terminates(s.List[len(s.List)-1])
	case *ast.IfStmt:
		return s.Else != nil && terminates(s.Body) && terminates(s.Else)
	case *ast.LabeledStmt:
		return terminates(s.Stmt)
	}
	return false
}
