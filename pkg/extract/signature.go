package extract

import (
	"fmt"
	"go/ast"
	"go/token"
	gotypes "go/types"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// SignatureInferencer combines flow facts with the control-flow summary to
// produce the extracted function's full signature, or a typed rejection when
// no coherent signature exists.
type SignatureInferencer struct {
	snap   *source.Snapshot
	policy Policy
}

func NewSignatureInferencer(snap *source.Snapshot, policy Policy) *SignatureInferencer {
	return &SignatureInferencer{snap: snap, policy: policy.normalized()}
}

// Infer builds the signature for the requested name. It is the phase that
// owns the error taxonomy around naming, outputs, and construct mixes.
func (inf *SignatureInferencer) Infer(ctx *AnalysisContext, flow *types.ControlFlowSummary, facts []types.VariableFlowFact, name string) (*types.ExtractedSignature, error) {
	if err := inf.checkName(ctx, name); err != nil {
		return nil, err
	}
	if flow.ContainsSuspensionPoint && flow.ContainsGeneratorPoint {
		return nil, types.Errf(types.UnsupportedCombination,
			"selection mixes channel operations with yield calls; extract one concern at a time")
	}

	sig := &types.ExtractedSignature{
		Name:         name,
		NeedsContext: flow.ContainsSuspensionPoint,
		Generator:    flow.ContainsGeneratorPoint,
	}

	// The receiver travels as a receiver, never as a parameter.
	recvName := ""
	if ctx.Fn.Recv != nil && len(ctx.Fn.Recv.List) > 0 && len(ctx.Fn.Recv.List[0].Names) > 0 {
		recvName = ctx.Fn.Recv.List[0].Names[0].Name
	}

	for _, f := range facts {
		if f.Name == recvName && recvName != "" {
			continue
		}
		switch f.Role() {
		case types.RoleByValue, types.RoleByRef:
			sig.Params = append(sig.Params, types.Parameter{
				Name: f.Name, Type: f.Type, Role: f.Role(),
			})
		}
		switch f.Role() {
		case types.RoleByRef, types.RoleOutput:
			sig.Returns = append(sig.Returns, types.ReturnValue{Name: f.Name, Type: f.Type})
		}
	}

	if ctx.Expr != nil {
		rendered := inf.snap.TypeOf(ctx.Expr)
		if rendered == "" {
			return nil, types.Errf(types.InternalAnalysisFailure,
				"could not resolve the type of the selected expression")
		}
		sig.Returns = []types.ReturnValue{{Type: rendered}}
	}

	if sig.NeedsContext && !hasContextParam(sig.Params) {
		sig.Params = append([]types.Parameter{
			{Name: inf.policy.ContextParam, Type: "context.Context"},
		}, sig.Params...)
	}

	inf.applyReturnStrategy(sig, flow)

	if err := inf.checkExits(ctx, flow, sig); err != nil {
		return nil, err
	}

	inf.bindReceiver(ctx, sig)
	return sig, nil
}

func hasContextParam(params []types.Parameter) bool {
	for _, p := range params {
		if p.Type == "context.Context" {
			return true
		}
	}
	return false
}

// applyReturnStrategy picks how outputs leave the extracted function.
func (inf *SignatureInferencer) applyReturnStrategy(sig *types.ExtractedSignature, flow *types.ControlFlowSummary) {
	switch {
	case len(sig.Returns) == 0:
		sig.Strategy = types.ReturnNone
	case len(sig.Returns) == 1:
		sig.Strategy = types.ReturnSingle
	case inf.policy.OutputStrategy == OutputPointers:
		sig.Strategy = types.ReturnOutParams
	default:
		sig.Strategy = types.ReturnAggregate
	}

	if sig.Strategy == types.ReturnOutParams {
		// Outputs move into the parameter list as pointers; the return list
		// keeps only control-flow plumbing added later.
		for _, r := range sig.Returns {
			sig.Params = append(sig.Params, types.Parameter{
				Name: r.Name, Type: r.Type, Role: types.RoleOutput, Pointer: true,
			})
		}
		sig.Returns = nil
	}
}

// checkExits validates the early-exit shape and wires the replay machinery
// into the signature when interior exits survive extraction.
func (inf *SignatureInferencer) checkExits(ctx *AnalysisContext, flow *types.ControlFlowSummary, sig *types.ExtractedSignature) error {
	var hasReturn, hasBreak, hasContinue, hasFallthrough bool
	for _, e := range flow.Exits {
		switch e.Kind {
		case types.ExitReturn:
			hasReturn = true
		case types.ExitLoopBreak:
			hasBreak = true
		case types.ExitLoopContinue:
			hasContinue = true
		case types.ExitFallthrough:
			hasFallthrough = true
		}
	}

	if hasBreak && hasContinue {
		return types.Errf(types.UnsupportedJumpConstruct,
			"selection exits its loop by both break and continue; extract a smaller region")
	}
	if (hasBreak || hasContinue) && hasReturn {
		return types.Errf(types.UnsupportedJumpConstruct,
			"selection mixes return with loop exits that target code outside it")
	}

	switch {
	case hasBreak:
		sig.ReplayKind = types.ExitLoopBreak
	case hasContinue:
		sig.ReplayKind = types.ExitLoopContinue
	case hasReturn:
		sig.ReplayKind = types.ExitReturn
	}

	if hasReturn {
		results, err := inf.funcResults(ctx)
		if err != nil {
			return err
		}
		if err := inf.checkReturnShapes(ctx, flow, results); err != nil {
			return err
		}

		anyBare, allBare := bareShape(flow)
		switch {
		case anyBare && !allBare:
			return types.Errf(types.UnsupportedCombination,
				"selection mixes bare returns with value-carrying returns")
		case allBare:
			// Bare returns rely on the enclosing function's named results.
			// Those travel back as ordinary outputs and the caller replays a
			// bare return, so nothing is forwarded.
			sig.BareReturn = true
		default:
			sig.FuncResults = results
		}
	}

	// Any exit that can also be skipped needs the done flag so the caller
	// knows whether to replay it. Loop exits always need it: their target
	// loop stays at the call site, so a break or continue cannot remain in
	// the extracted body.
	sig.EarlyExit = (hasReturn && hasFallthrough) || hasBreak || hasContinue
	if inf.policy.EarlyExit == EarlyExitNormalize && (hasReturn || hasBreak || hasContinue) {
		sig.EarlyExit = true
	}
	if sig.Generator && (hasReturn || hasBreak || hasContinue) {
		sig.EarlyExit = true
	}
	if hasReturn && !hasFallthrough &&
		len(sig.Returns) > 0 && inf.policy.OutputStrategy != OutputPointers {
		// Every path returns, so any values the suffix would read are
		// unreachable. Drop those outputs; under bare returns the named
		// results stay, since the replayed return reads them.
		if sig.BareReturn {
			sig.Returns = filterNamedResults(ctx.Fn, sig.Returns)
		} else {
			sig.Returns = nil
		}
		switch len(sig.Returns) + len(sig.FuncResults) {
		case 0:
			sig.Strategy = types.ReturnNone
		case 1:
			sig.Strategy = types.ReturnSingle
		default:
			sig.Strategy = types.ReturnAggregate
		}
	}
	return nil
}

// filterNamedResults keeps only the outputs that are named results of the
// enclosing function.
func filterNamedResults(fn *ast.FuncDecl, returns []types.ReturnValue) []types.ReturnValue {
	names := make(map[string]bool)
	if fn.Type.Results != nil {
		for _, field := range fn.Type.Results.List {
			for _, n := range field.Names {
				names[n.Name] = true
			}
		}
	}
	var kept []types.ReturnValue
	for _, r := range returns {
		if names[r.Name] {
			kept = append(kept, r)
		}
	}
	return kept
}

// bareShape reports whether any, and whether all, interior returns are bare.
func bareShape(flow *types.ControlFlowSummary) (anyBare, allBare bool) {
	allBare = true
	seen := false
	for _, e := range flow.Exits {
		if e.Kind != types.ExitReturn {
			continue
		}
		seen = true
		if len(e.Results) == 0 {
			anyBare = true
		} else {
			allBare = false
		}
	}
	return anyBare, seen && allBare
}

// funcResults renders the enclosing function's result types, which interior
// returns must reproduce.
func (inf *SignatureInferencer) funcResults(ctx *AnalysisContext) ([]types.ReturnValue, error) {
	var out []types.ReturnValue
	if ctx.Fn.Type.Results == nil {
		return out, nil
	}
	for _, field := range ctx.Fn.Type.Results.List {
		rendered := inf.snap.TypeOf(field.Type)
		if rendered == "" {
			return nil, types.Errf(types.InternalAnalysisFailure,
				"could not resolve result type of %s", ctx.Fn.Name.Name)
		}
		if len(field.Names) == 0 {
			out = append(out, types.ReturnValue{Type: rendered})
			continue
		}
		for _, n := range field.Names {
			out = append(out, types.ReturnValue{Name: n.Name, Type: rendered})
		}
	}
	return out, nil
}

// checkReturnShapes verifies every interior return matches the enclosing
// function's result arity and types.
func (inf *SignatureInferencer) checkReturnShapes(ctx *AnalysisContext, flow *types.ControlFlowSummary, results []types.ReturnValue) error {
	named := len(results) > 0 && results[0].Name != ""
	for _, e := range flow.Exits {
		if e.Kind != types.ExitReturn {
			continue
		}
		if len(e.Results) == 0 {
			if len(results) > 0 && !named {
				return &types.ExtractError{
					Kind:   types.TypeMismatchOnReturn,
					Detail: fmt.Sprintf("bare return inside the selection but %s has unnamed results", ctx.Fn.Name.Name),
					Path:   inf.snap.Path,
					Line:   inf.snap.Line(e.Pos),
				}
			}
			continue
		}
		if len(e.Results) != len(results) {
			// A single call expression can satisfy multiple results.
			if len(e.Results) == 1 {
				if _, ok := e.Results[0].(*ast.CallExpr); ok {
					continue
				}
			}
			return &types.ExtractError{
				Kind:   types.TypeMismatchOnReturn,
				Detail: fmt.Sprintf("return has %d values, %s returns %d", len(e.Results), ctx.Fn.Name.Name, len(results)),
				Path:   inf.snap.Path,
				Line:   inf.snap.Line(e.Pos),
			}
		}
		for i, expr := range e.Results {
			got := inf.snap.ResolvedType(expr)
			if got == nil {
				continue
			}
			want := inf.snap.ResolvedType(resultFieldAt(ctx.Fn, i))
			if want == nil {
				continue
			}
			if !gotypes.AssignableTo(got, want) && !isUntypedConvertible(got, want) {
				return &types.ExtractError{
					Kind:   types.TypeMismatchOnReturn,
					Detail: fmt.Sprintf("return value %d has type %s, want %s", i+1, inf.snap.RenderType(got), results[i].Type),
					Path:   inf.snap.Path,
					Line:   inf.snap.Line(e.Pos),
				}
			}
		}
	}
	return nil
}

// resultFieldAt maps a flat result index to its type expression, accounting
// for fields that declare several names.
func resultFieldAt(fn *ast.FuncDecl, i int) ast.Expr {
	if fn.Type.Results == nil {
		return nil
	}
	idx := 0
	for _, field := range fn.Type.Results.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		if i < idx+n {
			return field.Type
		}
		idx += n
	}
	return nil
}

func isUntypedConvertible(got, want gotypes.Type) bool {
	basic, ok := got.(*gotypes.Basic)
	if !ok {
		return false
	}
	return basic.Info()&gotypes.IsUntyped != 0 && gotypes.ConvertibleTo(got, want)
}

// checkName enforces identifier validity and collision freedom in every
// scope the new function will be visible in.
func (inf *SignatureInferencer) checkName(ctx *AnalysisContext, name string) error {
	if !token.IsIdentifier(name) {
		return types.Errf(types.NameCollision, "%q is not a valid identifier", name)
	}
	if token.IsKeyword(name) {
		return types.Errf(types.NameCollision, "%q is a reserved word", name)
	}
	if name == ctx.Fn.Name.Name {
		return types.Errf(types.NameCollision, "%q is the name of the enclosing function", name)
	}
	if inf.snap.Pkg != nil {
		if obj := inf.snap.Pkg.Scope().Lookup(name); obj != nil {
			return types.Errf(types.NameCollision, "%q is already declared at package level", name)
		}
	}
	for _, decl := range inf.snap.File.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.Name == name && sameReceiverType(d, ctx.Fn) {
				return types.Errf(types.NameCollision, "%q is already declared in this file", name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch sp := spec.(type) {
				case *ast.ValueSpec:
					for _, n := range sp.Names {
						if n.Name == name {
							return types.Errf(types.NameCollision, "%q is already declared in this file", name)
						}
					}
				case *ast.TypeSpec:
					if sp.Name.Name == name {
						return types.Errf(types.NameCollision, "%q is already declared in this file", name)
					}
				}
			}
		}
	}
	return nil
}

// sameReceiverType reports whether two declarations would collide: both
// plain functions, or methods on the same receiver type.
func sameReceiverType(a, b *ast.FuncDecl) bool {
	return receiverTypeName(a) == receiverTypeName(b)
}

func receiverTypeName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	t := fn.Recv.List[0].Type
	if star, ok := t.(*ast.StarExpr); ok {
		t = star.X
	}
	if ident, ok := t.(*ast.Ident); ok {
		return ident.Name
	}
	return ""
}

// bindReceiver decides whether the extracted function becomes a method on
// the same receiver or a free function. It is a method exactly when the
// enclosing function is a method and the selection touches the receiver.
func (inf *SignatureInferencer) bindReceiver(ctx *AnalysisContext, sig *types.ExtractedSignature) {
	if ctx.Fn.Recv == nil || len(ctx.Fn.Recv.List) == 0 {
		sig.Static = true
		return
	}
	recv := ctx.Fn.Recv.List[0]
	if len(recv.Names) == 0 || recv.Names[0].Name == "_" {
		sig.Static = true
		return
	}
	recvObj := inf.snap.ObjectOf(recv.Names[0])
	used := false
	visit := func(n ast.Node) bool {
		ident, ok := n.(*ast.Ident)
		if !ok {
			return true
		}
		if ident.Name == recv.Names[0].Name {
			if recvObj == nil || inf.snap.ObjectOf(ident) == recvObj {
				used = true
			}
		}
		return true
	}
	for _, stmt := range ctx.Stmts {
		ast.Inspect(stmt, visit)
	}
	if ctx.Expr != nil {
		ast.Inspect(ctx.Expr, visit)
	}
	if !used {
		sig.Static = true
		return
	}
	sig.Receiver = inf.snap.Text(recv.Pos(), recv.End())
}
