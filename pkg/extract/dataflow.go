package extract

import (
	"go/ast"
	"go/token"
	gotypes "go/types"
	"sort"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// DataFlowAnalyzer derives, for every variable the selection touches, whether
// its value flows in, whether the selection writes it, and whether anything
// after the selection still reads it. Roles fall out of those three bits.
type DataFlowAnalyzer struct {
	snap *source.Snapshot
}

func NewDataFlowAnalyzer(snap *source.Snapshot) *DataFlowAnalyzer {
	return &DataFlowAnalyzer{snap: snap}
}

// access is one classified touch of a variable, in source order.
type access struct {
	pos    token.Pos
	read   bool
	write  bool
	decl   bool
	addr   bool
	inside bool
	defer_ bool
}

// Analyze walks the enclosing function once and produces one fact per
// function-local variable the selection uses or declares. Package-level
// identifiers stay reachable from the extracted function and never appear.
func (a *DataFlowAnalyzer) Analyze(ctx *AnalysisContext) ([]types.VariableFlowFact, error) {
	accesses := map[gotypes.Object][]access{}
	cls := &accessClassifier{snap: a.snap, ctx: ctx, out: accesses}
	cls.walkStmt(bodyOf(ctx), false)

	unconditional := unconditionalWrites(ctx)

	var facts []types.VariableFlowFact
	for obj, accs := range accesses {
		sort.Slice(accs, func(i, j int) bool { return accs[i].pos < accs[j].pos })

		var usedInside, declaredInside, writtenInside, readAfter, flowsIn bool
		firstInsideSeen := false
		for _, ac := range accs {
			if ac.inside {
				usedInside = true
				if ac.decl {
					declaredInside = true
				}
				if ac.write {
					writtenInside = true
				}
				if !firstInsideSeen {
					firstInsideSeen = true
					// The incoming value matters when the first touch reads
					// it, even as part of a compound write.
					if ac.read && !ac.decl {
						flowsIn = true
					}
				} else if ac.read && !ac.decl && !overwrittenBefore(unconditional[obj.Name()], ac.pos) {
					flowsIn = true
				}
			} else if ac.pos >= ctx.End() || ac.defer_ || ac.addr {
				// An address taken anywhere outside keeps the variable
				// observable after the selection, even when the &x itself
				// precedes it.
				if ac.read {
					readAfter = true
				}
			}
		}
		if !usedInside {
			continue
		}
		if declaredInside {
			flowsIn = false
		}

		// A write reached only on some paths passes the incoming value
		// through on the others, so the value still flows in. Only a
		// top-level unconditional overwrite severs it.
		_, severed := unconditional[obj.Name()]
		if !severed && !flowsIn && !declaredInside && writtenInside && readAfter {
			flowsIn = true
		}

		// A named result written inside is observed by the function's own
		// return, even with no textual use after the selection.
		if !readAfter && writtenInside && isNamedResult(ctx.Fn, obj) {
			readAfter = true
		}

		facts = append(facts, types.VariableFlowFact{
			Name:           obj.Name(),
			Type:           a.snap.RenderType(obj.Type()),
			DeclPos:        obj.Pos(),
			DeclaredInside: declaredInside,
			FlowsIn:        flowsIn,
			WrittenInside:  writtenInside,
			ReadAfter:      readAfter,
		})
	}

	// Declaration order keeps parameter lists stable across runs.
	sort.Slice(facts, func(i, j int) bool { return facts[i].DeclPos < facts[j].DeclPos })
	return facts, nil
}

// overwrittenBefore reports whether an unconditional whole write precedes
// pos. Only then does a later read see the selection's own value rather than
// the incoming one; a write buried in a branch may be skipped at runtime.
func overwrittenBefore(write, pos token.Pos) bool {
	return write.IsValid() && write < pos
}

// unconditionalWrites collects, per name, where the first top-level statement
// fully overwriting the variable ends. Execution cannot bypass these; writes
// nested under a condition never qualify. The end position keeps reads within
// the overwriting statement itself (x = x + 1) ahead of the write.
func unconditionalWrites(ctx *AnalysisContext) map[string]token.Pos {
	writes := map[string]token.Pos{}
	note := func(ident *ast.Ident, end token.Pos) {
		if _, ok := writes[ident.Name]; !ok {
			writes[ident.Name] = end
		}
	}
	for _, stmt := range ctx.Stmts {
		switch s := stmt.(type) {
		case *ast.AssignStmt:
			if s.Tok != token.ASSIGN && s.Tok != token.DEFINE {
				continue
			}
			for _, lhs := range s.Lhs {
				if ident, ok := lhs.(*ast.Ident); ok {
					note(ident, s.End())
				}
			}
		case *ast.DeclStmt:
			if gd, ok := s.Decl.(*ast.GenDecl); ok {
				for _, spec := range gd.Specs {
					if vs, ok := spec.(*ast.ValueSpec); ok {
						for _, n := range vs.Names {
							note(n, s.End())
						}
					}
				}
			}
		}
	}
	return writes
}

// isNamedResult reports whether obj is one of fn's named results.
func isNamedResult(fn *ast.FuncDecl, obj gotypes.Object) bool {
	if fn.Type.Results == nil {
		return false
	}
	return obj.Pos() >= fn.Type.Results.Pos() && obj.Pos() < fn.Type.Results.End()
}

func bodyOf(ctx *AnalysisContext) *ast.BlockStmt {
	return ctx.Fn.Body
}

// accessClassifier records every touch of a function-local variable in the
// enclosing function, split into reads, writes, and declarations.
type accessClassifier struct {
	snap *source.Snapshot
	ctx  *AnalysisContext
	out  map[gotypes.Object][]access
}

func (c *accessClassifier) record(ident *ast.Ident, read, write, decl, inDefer bool) {
	c.add(ident, access{read: read, write: write, decl: decl, defer_: inDefer})
}

// recordAddr notes an address-of: the alias it creates can read or write the
// variable at any later point, so the touch carries an extra marker.
func (c *accessClassifier) recordAddr(ident *ast.Ident, inDefer bool) {
	c.add(ident, access{read: true, write: true, addr: true, defer_: inDefer})
}

func (c *accessClassifier) add(ident *ast.Ident, ac access) {
	if ident == nil || ident.Name == "_" {
		return
	}
	obj := c.snap.ObjectOf(ident)
	if obj == nil {
		return
	}
	v, ok := obj.(*gotypes.Var)
	if !ok || v.IsField() {
		return
	}
	// Only variables scoped to the enclosing function concern the boundary.
	if obj.Pos() < c.ctx.Fn.Pos() || obj.Pos() > c.ctx.Fn.End() {
		return
	}
	ac.pos = ident.Pos()
	ac.inside = c.ctx.Contains(ident.Pos())
	c.out[obj] = append(c.out[obj], ac)
}

func (c *accessClassifier) walkStmt(stmt ast.Stmt, inDefer bool) {
	if stmt == nil {
		return
	}
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		for _, rhs := range s.Rhs {
			c.walkExpr(rhs, inDefer)
		}
		for _, lhs := range s.Lhs {
			c.walkAssignTarget(lhs, s.Tok, inDefer)
		}

	case *ast.IncDecStmt:
		// x++ both reads and writes x.
		if ident, ok := s.X.(*ast.Ident); ok {
			c.record(ident, true, true, false, inDefer)
		} else {
			c.walkExpr(s.X, inDefer)
		}

	case *ast.DeclStmt:
		gd, ok := s.Decl.(*ast.GenDecl)
		if !ok {
			return
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for _, val := range vs.Values {
				c.walkExpr(val, inDefer)
			}
			for _, name := range vs.Names {
				c.record(name, false, true, true, inDefer)
			}
		}

	case *ast.ExprStmt:
		c.walkExpr(s.X, inDefer)

	case *ast.SendStmt:
		c.walkExpr(s.Chan, inDefer)
		c.walkExpr(s.Value, inDefer)

	case *ast.ReturnStmt:
		for _, r := range s.Results {
			c.walkExpr(r, inDefer)
		}

	case *ast.IfStmt:
		c.walkStmt(s.Init, inDefer)
		c.walkExpr(s.Cond, inDefer)
		c.walkStmt(s.Body, inDefer)
		c.walkStmt(s.Else, inDefer)

	case *ast.ForStmt:
		c.walkStmt(s.Init, inDefer)
		c.walkExpr(s.Cond, inDefer)
		c.walkStmt(s.Post, inDefer)
		c.walkStmt(s.Body, inDefer)

	case *ast.RangeStmt:
		c.walkExpr(s.X, inDefer)
		if s.Key != nil {
			c.walkAssignTarget(s.Key, s.Tok, inDefer)
		}
		if s.Value != nil {
			c.walkAssignTarget(s.Value, s.Tok, inDefer)
		}
		c.walkStmt(s.Body, inDefer)

	case *ast.SwitchStmt:
		c.walkStmt(s.Init, inDefer)
		c.walkExpr(s.Tag, inDefer)
		c.walkStmt(s.Body, inDefer)

	case *ast.TypeSwitchStmt:
		c.walkStmt(s.Init, inDefer)
		c.walkStmt(s.Assign, inDefer)
		c.walkStmt(s.Body, inDefer)

	case *ast.SelectStmt:
		c.walkStmt(s.Body, inDefer)

	case *ast.BlockStmt:
		for _, inner := range s.List {
			c.walkStmt(inner, inDefer)
		}

	case *ast.CaseClause:
		for _, e := range s.List {
			c.walkExpr(e, inDefer)
		}
		for _, inner := range s.Body {
			c.walkStmt(inner, inDefer)
		}

	case *ast.CommClause:
		c.walkStmt(s.Comm, inDefer)
		for _, inner := range s.Body {
			c.walkStmt(inner, inDefer)
		}

	case *ast.LabeledStmt:
		c.walkStmt(s.Stmt, inDefer)

	case *ast.DeferStmt:
		// Deferred calls run after everything, so their reads keep variables
		// live past any selection.
		c.walkExpr(s.Call, true)

	case *ast.GoStmt:
		c.walkExpr(s.Call, true)

	case *ast.BranchStmt:
		// no variable traffic
	}
}

// walkAssignTarget classifies the left side of an assignment. A plain ident
// under = or := is a pure write; writing through a selector, index, or star
// reads the base value first.
func (c *accessClassifier) walkAssignTarget(lhs ast.Expr, tok token.Token, inDefer bool) {
	switch t := lhs.(type) {
	case *ast.Ident:
		decl := tok == token.DEFINE && c.definesIdent(t)
		compound := tok != token.ASSIGN && tok != token.DEFINE
		c.record(t, compound, true, decl, inDefer)
	case *ast.SelectorExpr:
		if base, ok := t.X.(*ast.Ident); ok {
			c.record(base, true, true, false, inDefer)
		} else {
			c.walkExpr(t.X, inDefer)
		}
	case *ast.IndexExpr:
		if base, ok := t.X.(*ast.Ident); ok {
			c.record(base, true, true, false, inDefer)
		} else {
			c.walkExpr(t.X, inDefer)
		}
		c.walkExpr(t.Index, inDefer)
	case *ast.StarExpr:
		c.walkExpr(t.X, inDefer)
	default:
		c.walkExpr(lhs, inDefer)
	}
}

// definesIdent reports whether a := actually introduces this ident, rather
// than reusing a variable from an enclosing scope.
func (c *accessClassifier) definesIdent(ident *ast.Ident) bool {
	return c.snap.Info.Defs[ident] != nil
}

func (c *accessClassifier) walkExpr(expr ast.Expr, inDefer bool) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *ast.Ident:
		c.record(e, true, false, false, inDefer)
	case *ast.UnaryExpr:
		if e.Op == token.AND {
			if ident, ok := e.X.(*ast.Ident); ok {
				c.recordAddr(ident, inDefer)
				return
			}
		}
		c.walkExpr(e.X, inDefer)
	case *ast.FuncLit:
		// Captured variables behave like deferred reads and writes: the
		// closure may run at any later point.
		inner := &accessClassifier{snap: c.snap, ctx: c.ctx, out: c.out}
		inner.walkStmt(e.Body, true)
	case *ast.CallExpr:
		c.walkExpr(e.Fun, inDefer)
		for _, arg := range e.Args {
			c.walkExpr(arg, inDefer)
		}
	case *ast.SelectorExpr:
		c.walkExpr(e.X, inDefer)
	case *ast.IndexExpr:
		c.walkExpr(e.X, inDefer)
		c.walkExpr(e.Index, inDefer)
	case *ast.IndexListExpr:
		c.walkExpr(e.X, inDefer)
		for _, idx := range e.Indices {
			c.walkExpr(idx, inDefer)
		}
	case *ast.SliceExpr:
		c.walkExpr(e.X, inDefer)
		c.walkExpr(e.Low, inDefer)
		c.walkExpr(e.High, inDefer)
		c.walkExpr(e.Max, inDefer)
	case *ast.BinaryExpr:
		c.walkExpr(e.X, inDefer)
		c.walkExpr(e.Y, inDefer)
	case *ast.ParenExpr:
		c.walkExpr(e.X, inDefer)
	case *ast.StarExpr:
		c.walkExpr(e.X, inDefer)
	case *ast.TypeAssertExpr:
		c.walkExpr(e.X, inDefer)
	case *ast.CompositeLit:
		for _, el := range e.Elts {
			c.walkExpr(el, inDefer)
		}
	case *ast.KeyValueExpr:
		c.walkExpr(e.Value, inDefer)
	}
}
