package extract

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// SelectionValidator normalizes a requested line range to the minimal
// complete node set covering it and runs the ordered validation rules:
// in-one-function, structured-block auto-expansion, jump-target checks,
// single entry point.
type SelectionValidator struct {
	snap *source.Snapshot
}

func NewSelectionValidator(snap *source.Snapshot) *SelectionValidator {
	return &SelectionValidator{snap: snap}
}

// Validate resolves sel into an AnalysisContext or a typed validation error.
func (v *SelectionValidator) Validate(sel types.Selection) (*AnalysisContext, error) {
	if sel.StartLine > sel.EndLine {
		return nil, &types.ExtractError{
			Kind:   types.IncompleteSelection,
			Detail: fmt.Sprintf("start line %d is after end line %d", sel.StartLine, sel.EndLine),
			Path:   v.snap.Path,
			Line:   sel.StartLine,
		}
	}

	tf := v.snap.Fset.File(v.snap.File.Pos())
	if sel.StartLine < 1 || sel.EndLine > tf.LineCount() {
		return nil, &types.ExtractError{
			Kind:   types.EmptySelection,
			Detail: fmt.Sprintf("lines %d-%d outside file of %d lines", sel.StartLine, sel.EndLine, tf.LineCount()),
			Path:   v.snap.Path,
			Line:   sel.StartLine,
		}
	}
	startPos := tf.LineStart(sel.StartLine)
	var endPos token.Pos
	if sel.EndLine < tf.LineCount() {
		endPos = tf.LineStart(sel.EndLine+1) - 1
	} else {
		endPos = token.Pos(tf.Base() + tf.Size())
	}

	// Trim the range to its first and last non-blank characters so that
	// indentation and empty lines do not count as selected code.
	startPos, endPos = v.trimRange(startPos, endPos)
	if startPos >= endPos {
		return nil, &types.ExtractError{
			Kind:   types.EmptySelection,
			Detail: fmt.Sprintf("lines %d-%d contain no code", sel.StartLine, sel.EndLine),
			Path:   v.snap.Path,
			Line:   sel.StartLine,
		}
	}

	fn := v.enclosingFunc(startPos, endPos)
	if fn == nil {
		return nil, &types.ExtractError{
			Kind:   types.EmptySelection,
			Detail: "selection does not lie within a single function body",
			Path:   v.snap.Path,
			Line:   sel.StartLine,
		}
	}

	ctx := &AnalysisContext{Snap: v.snap, Fn: fn}

	// Expression mode: the range exactly covers one expression that is not a
	// whole statement of its own.
	if expr := v.exactExpression(fn, sel.StartLine, sel.EndLine); expr != nil {
		ctx.Expr = expr
		if err := v.checkJumps(ctx); err != nil {
			return nil, err
		}
		return ctx, nil
	}

	stmts, expanded, err := v.coverStatements(fn.Body.List, startPos, endPos)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, &types.ExtractError{
			Kind:   types.EmptySelection,
			Detail: "no statements in the selected range",
			Path:   v.snap.Path,
			Line:   sel.StartLine,
		}
	}
	ctx.Stmts = stmts
	if expanded != "" {
		ctx.Warnings = append(ctx.Warnings,
			fmt.Sprintf("selection auto-expanded to the enclosing %s block (lines %d-%d)",
				expanded, v.snap.Line(stmts[0].Pos()), v.snap.Line(stmts[len(stmts)-1].End())))
	}

	if err := v.checkJumps(ctx); err != nil {
		return nil, err
	}
	if err := v.checkSingleEntry(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// trimRange shrinks [start, end) past leading and trailing whitespace.
func (v *SelectionValidator) trimRange(start, end token.Pos) (token.Pos, token.Pos) {
	so, eo := v.snap.Offset(start), v.snap.Offset(end)
	if eo > len(v.snap.Content) {
		eo = len(v.snap.Content)
	}
	for so < eo && isBlank(v.snap.Content[so]) {
		so++
	}
	for eo > so && isBlank(v.snap.Content[eo-1]) {
		eo--
	}
	return start + token.Pos(so-v.snap.Offset(start)), end - token.Pos(v.snap.Offset(end)-eo)
}

// enclosingFunc returns the function declaration whose body contains the
// whole range, or nil.
func (v *SelectionValidator) enclosingFunc(start, end token.Pos) *ast.FuncDecl {
	for _, decl := range v.snap.File.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		if fn.Body.Lbrace < start && end <= fn.Body.Rbrace {
			return fn
		}
	}
	return nil
}

// exactExpression finds an expression whose line span matches the request
// exactly, preferring the outermost such node. Expressions that already form
// a complete expression statement stay in statement mode.
func (v *SelectionValidator) exactExpression(fn *ast.FuncDecl, startLine, endLine int) ast.Expr {
	var found ast.Expr
	wholeStmts := make(map[ast.Expr]bool)
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		if es, ok := n.(*ast.ExprStmt); ok {
			wholeStmts[es.X] = true
		}
		return true
	})
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		expr, ok := n.(ast.Expr)
		if !ok || found != nil {
			return found == nil
		}
		switch expr.(type) {
		case *ast.Ident, *ast.BasicLit, *ast.FuncLit:
			return true
		}
		if wholeStmts[expr] {
			return true
		}
		if v.snap.Line(expr.Pos()) == startLine && v.snap.Line(expr.End()-1) == endLine &&
			v.exprAlone(expr, startLine, endLine) {
			found = expr
			return false
		}
		return true
	})
	return found
}

// exprAlone reports whether expr is the only code on its line span, so a line
// selection unambiguously means that expression.
func (v *SelectionValidator) exprAlone(expr ast.Expr, startLine, endLine int) bool {
	tf := v.snap.Fset.File(v.snap.File.Pos())
	before := v.snap.Content[tf.Offset(tf.LineStart(startLine)):v.snap.Offset(expr.Pos())]
	var after []byte
	if endLine < tf.LineCount() {
		after = v.snap.Content[v.snap.Offset(expr.End()):tf.Offset(tf.LineStart(endLine+1) - 1)]
	} else {
		after = v.snap.Content[v.snap.Offset(expr.End()):]
	}
	return strings.TrimSpace(string(before)) == "" && strings.TrimSpace(string(after)) == ""
}

// coverStatements descends to the innermost statement list containing the
// range and returns the contiguous sibling run covering it. When the range
// partially overlaps a structured statement, the whole statement is taken and
// the block kind is reported for the auto-expansion warning.
func (v *SelectionValidator) coverStatements(list []ast.Stmt, start, end token.Pos) ([]ast.Stmt, string, error) {
	// Single statement containing the entire range: descend if an inner list
	// also contains it, otherwise the whole statement is the selection.
	for _, stmt := range list {
		if stmt.Pos() <= start && end <= stmt.End() {
			for _, inner := range innerStmtLists(stmt) {
				if len(inner) > 0 && inner[0].Pos() <= start && end <= inner[len(inner)-1].End() {
					return v.coverStatements(inner, start, end)
				}
			}
			kind := ""
			if stmt.Pos() < start || end < stmt.End() {
				kind = blockKind(stmt)
			}
			return []ast.Stmt{stmt}, kind, nil
		}
	}

	// Range spans several siblings: take every intersecting statement.
	var run []ast.Stmt
	expanded := ""
	for _, stmt := range list {
		if stmt.End() <= start || end <= stmt.Pos() {
			if len(run) > 0 {
				break
			}
			continue
		}
		if (stmt.Pos() < start || end < stmt.End()) && blockKind(stmt) != "" {
			expanded = blockKind(stmt)
		}
		run = append(run, stmt)
	}
	return run, expanded, nil
}

// innerStmtLists returns the statement lists nested directly inside stmt.
func innerStmtLists(stmt ast.Stmt) [][]ast.Stmt {
	var lists [][]ast.Stmt
	switch s := stmt.(type) {
	case *ast.BlockStmt:
		lists = append(lists, s.List)
	case *ast.IfStmt:
		lists = append(lists, s.Body.List)
		if s.Else != nil {
			lists = append(lists, innerStmtLists(s.Else)...)
		}
	case *ast.ForStmt:
		lists = append(lists, s.Body.List)
	case *ast.RangeStmt:
		lists = append(lists, s.Body.List)
	case *ast.SwitchStmt:
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CaseClause); ok {
				lists = append(lists, cc.Body)
			}
		}
	case *ast.TypeSwitchStmt:
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CaseClause); ok {
				lists = append(lists, cc.Body)
			}
		}
	case *ast.SelectStmt:
		for _, c := range s.Body.List {
			if cc, ok := c.(*ast.CommClause); ok {
				lists = append(lists, cc.Body)
			}
		}
	case *ast.LabeledStmt:
		lists = append(lists, innerStmtLists(s.Stmt)...)
	}
	return lists
}

// blockKind names the structured construct a statement represents, or "".
func blockKind(stmt ast.Stmt) string {
	switch s := stmt.(type) {
	case *ast.ForStmt, *ast.RangeStmt:
		return "loop"
	case *ast.IfStmt:
		return "conditional"
	case *ast.SwitchStmt, *ast.TypeSwitchStmt:
		return "switch"
	case *ast.SelectStmt:
		return "select"
	case *ast.BlockStmt:
		return "block"
	case *ast.DeferStmt:
		return "resource-scope"
	case *ast.LabeledStmt:
		return blockKind(s.Stmt)
	}
	return ""
}

// checkJumps enforces the label rules: no label inside the selection may be
// targeted from outside, and no goto or labeled branch inside may target a
// label outside.
func (v *SelectionValidator) checkJumps(ctx *AnalysisContext) error {
	inside := make(map[string]bool)  // labels declared in the selection
	outside := make(map[string]bool) // labels declared elsewhere in the function
	ast.Inspect(ctx.Fn.Body, func(n ast.Node) bool {
		if ls, ok := n.(*ast.LabeledStmt); ok {
			if ctx.Contains(ls.Pos()) {
				inside[ls.Label.Name] = true
			} else {
				outside[ls.Label.Name] = true
			}
		}
		return true
	})

	var jumpErr *types.ExtractError
	ast.Inspect(ctx.Fn.Body, func(n ast.Node) bool {
		if jumpErr != nil {
			return false
		}
		br, ok := n.(*ast.BranchStmt)
		if !ok || br.Label == nil {
			return true
		}
		name := br.Label.Name
		switch {
		case !ctx.Contains(br.Pos()) && inside[name]:
			jumpErr = &types.ExtractError{
				Kind:   types.UnsupportedJumpConstruct,
				Detail: fmt.Sprintf("label %q inside the selection is targeted from outside", name),
				Path:   v.snap.Path,
				Line:   v.snap.Line(br.Pos()),
			}
		case ctx.Contains(br.Pos()) && outside[name]:
			jumpErr = &types.ExtractError{
				Kind:   types.UnsupportedJumpConstruct,
				Detail: fmt.Sprintf("%s %q jumps to a label outside the selection", br.Tok, name),
				Path:   v.snap.Path,
				Line:   v.snap.Line(br.Pos()),
			}
		}
		return jumpErr == nil
	})
	return errOrNil(jumpErr)
}

// checkSingleEntry verifies the normalized statements are one consecutive
// sibling run, the structural guarantee behind entryCount == 1.
func (v *SelectionValidator) checkSingleEntry(ctx *AnalysisContext) error {
	for i := 1; i < len(ctx.Stmts); i++ {
		if ctx.Stmts[i].Pos() < ctx.Stmts[i-1].End() {
			return &types.ExtractError{
				Kind:   types.MultipleEntryPoints,
				Detail: "selection resolves to overlapping statement runs",
				Path:   v.snap.Path,
				Line:   v.snap.Line(ctx.Stmts[i].Pos()),
			}
		}
	}
	return nil
}

func errOrNil(err *types.ExtractError) error {
	if err == nil {
		return nil
	}
	return err
}
