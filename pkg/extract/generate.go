package extract

import (
	"fmt"
	"go/format"
	"go/parser"
	"go/token"
	"strings"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// MethodGenerator renders the new function declaration and proves it parses
// before anything touches the document.
type MethodGenerator struct {
	snap *source.Snapshot
}

func NewMethodGenerator(snap *source.Snapshot) *MethodGenerator {
	return &MethodGenerator{snap: snap}
}

// Render assembles the declaration and runs it through gofmt. An unparseable
// result aborts the request rather than producing broken code.
func (g *MethodGenerator) Render(sig *types.ExtractedSignature, body *TransformedBody) (string, error) {
	var b strings.Builder
	b.WriteString("func ")
	if sig.Receiver != "" {
		b.WriteString("(" + sig.Receiver + ") ")
	}
	b.WriteString(sig.Name)
	b.WriteString("(")
	b.WriteString(renderParams(sig, body))
	b.WriteString(")")
	if results := renderResults(sig); results != "" {
		b.WriteString(" " + results)
	}
	b.WriteString(" {\n")
	b.WriteString(body.Text)
	b.WriteString("\n}")

	formatted, err := format.Source([]byte(b.String()))
	if err != nil {
		return "", &types.ExtractError{
			Kind:   types.InternalAnalysisFailure,
			Detail: fmt.Sprintf("generated function does not parse: %v\n%s", err, b.String()),
			Path:   g.snap.Path,
			Cause:  err,
		}
	}
	if err := checkParses("package p\n\n" + string(formatted)); err != nil {
		return "", &types.ExtractError{
			Kind:   types.InternalAnalysisFailure,
			Detail: fmt.Sprintf("generated function does not parse: %v", err),
			Path:   g.snap.Path,
			Cause:  err,
		}
	}
	return string(formatted), nil
}

func renderParams(sig *types.ExtractedSignature, body *TransformedBody) string {
	var parts []string
	for _, p := range sig.Params {
		if p.Pointer {
			parts = append(parts, fmt.Sprintf("%s *%s", body.PointerParams[p.Name], p.Type))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", p.Name, p.Type))
	}
	return strings.Join(parts, ", ")
}

// renderResults prints the result list, types only. Named results would
// collide with the body's own declarations of the same variables.
func renderResults(sig *types.ExtractedSignature) string {
	var parts []string
	for _, r := range sig.Returns {
		parts = append(parts, r.Type)
	}
	for _, r := range sig.FuncResults {
		parts = append(parts, r.Type)
	}
	if sig.EarlyExit {
		parts = append(parts, "bool")
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "(" + strings.Join(parts, ", ") + ")"
	}
}

func checkParses(src string) error {
	_, err := parser.ParseFile(token.NewFileSet(), "generated.go", src, 0)
	return err
}

// CallSiteGenerator renders the statements that replace the selection.
type CallSiteGenerator struct {
	snap   *source.Snapshot
	policy Policy
}

func NewCallSiteGenerator(snap *source.Snapshot, policy Policy) *CallSiteGenerator {
	return &CallSiteGenerator{snap: snap, policy: policy.normalized()}
}

// CallSite is the rendered replacement plus what the orchestrator must know
// to splice it in.
type CallSite struct {
	// Text is the replacement, lines joined by newlines without indentation.
	Text string
	// NeedsContextImport is set when the replacement references
	// context.Background and the file may not import context yet.
	NeedsContextImport bool
}

// Render builds the call-site replacement for the selection.
func (g *CallSiteGenerator) Render(ctx *AnalysisContext, sig *types.ExtractedSignature, body *TransformedBody, facts []types.VariableFlowFact) (*CallSite, error) {
	site := &CallSite{}
	byName := map[string]types.VariableFlowFact{}
	for _, f := range facts {
		byName[f.Name] = f
	}

	call := g.callExpr(ctx, sig, byName, site)

	if ctx.Expr != nil {
		site.Text = call
		return site, g.check(site, true)
	}

	var lines []string

	// Outputs under the pointers strategy must exist before their address is
	// taken; declare the ones whose declaration moved into the new function.
	for _, p := range sig.Params {
		if p.Pointer && byName[p.Name].DeclaredInside {
			lines = append(lines, fmt.Sprintf("var %s %s", p.Name, p.Type))
		}
	}

	var lhs []string
	var newDecls [][2]string // name, type — LHS names the call introduces
	anyExisting := false
	for _, r := range sig.Returns {
		lhs = append(lhs, r.Name)
		if byName[r.Name].DeclaredInside {
			newDecls = append(newDecls, [2]string{r.Name, r.Type})
		} else {
			anyExisting = true
		}
	}
	var retNames []string
	if sig.EarlyExit && len(sig.FuncResults) > 0 {
		for i, r := range sig.FuncResults {
			name := freshName(fmt.Sprintf("ret%d", i), byName, sig)
			retNames = append(retNames, name)
			lhs = append(lhs, name)
			newDecls = append(newDecls, [2]string{name, r.Type})
		}
	}
	if sig.EarlyExit {
		lhs = append(lhs, body.DoneVar)
		newDecls = append(newDecls, [2]string{body.DoneVar, "bool"})
	}

	switch {
	case len(lhs) == 0:
		lines = append(lines, call)
	case !anyExisting:
		lines = append(lines, strings.Join(lhs, ", ")+" := "+call)
	case len(newDecls) == 0:
		lines = append(lines, strings.Join(lhs, ", ")+" = "+call)
	default:
		// Mixing existing and new names under := would shadow variables
		// declared in enclosing blocks. Declare the new ones first.
		for _, d := range newDecls {
			lines = append(lines, fmt.Sprintf("var %s %s", d[0], d[1]))
		}
		lines = append(lines, strings.Join(lhs, ", ")+" = "+call)
	}

	// Replay: when every path exits, the exit follows unconditionally;
	// otherwise it is guarded by the done flag.
	if sig.EarlyExit {
		lines = append(lines, "if "+body.DoneVar+" {")
		lines = append(lines, "\t"+g.replay(sig, retNames))
		lines = append(lines, "}")
	} else if sig.ReplayKind == types.ExitReturn {
		if sig.BareReturn {
			lines = append(lines, "return")
		} else if len(sig.FuncResults) > 0 {
			// return name(...) forwards the results directly.
			lines = lines[:len(lines)-1]
			lines = append(lines, "return "+call)
		} else {
			lines = append(lines, "return")
		}
	}

	site.Text = strings.Join(lines, "\n")
	return site, g.check(site, false)
}

func (g *CallSiteGenerator) replay(sig *types.ExtractedSignature, retNames []string) string {
	switch sig.ReplayKind {
	case types.ExitReturn:
		if sig.BareReturn || len(retNames) == 0 {
			return "return"
		}
		return "return " + strings.Join(retNames, ", ")
	case types.ExitLoopBreak:
		return "break"
	case types.ExitLoopContinue:
		return "continue"
	default:
		return "return"
	}
}

// callExpr renders the call itself, receiver and arguments included.
func (g *CallSiteGenerator) callExpr(ctx *AnalysisContext, sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact, site *CallSite) string {
	var args []string
	for _, p := range sig.Params {
		switch {
		case p.Pointer:
			args = append(args, "&"+p.Name)
		case p.Type == "context.Context" && byName[p.Name].Name == "":
			// Synthesized context parameter: pass the enclosing function's
			// context when it has one, Background otherwise.
			if arg := g.enclosingContextArg(ctx); arg != "" {
				args = append(args, arg)
			} else {
				args = append(args, "context.Background()")
				site.NeedsContextImport = true
			}
		default:
			args = append(args, p.Name)
		}
	}

	callee := sig.Name
	if sig.Receiver != "" {
		if recv := receiverName(ctx); recv != "" {
			callee = recv + "." + sig.Name
		}
	}
	return callee + "(" + strings.Join(args, ", ") + ")"
}

// enclosingContextArg returns the name of the enclosing function's
// context.Context parameter, if it declares one.
func (g *CallSiteGenerator) enclosingContextArg(ctx *AnalysisContext) string {
	if ctx.Fn.Type.Params == nil {
		return ""
	}
	for _, field := range ctx.Fn.Type.Params.List {
		if g.snap.TypeOf(field.Type) != "context.Context" {
			continue
		}
		for _, n := range field.Names {
			if n.Name != "_" {
				return n.Name
			}
		}
	}
	return ""
}

func receiverName(ctx *AnalysisContext) string {
	if ctx.Fn.Recv == nil || len(ctx.Fn.Recv.List) == 0 || len(ctx.Fn.Recv.List[0].Names) == 0 {
		return ""
	}
	return ctx.Fn.Recv.List[0].Names[0].Name
}

// check proves the replacement parses as Go before it reaches the document.
func (g *CallSiteGenerator) check(site *CallSite, expr bool) error {
	src := "package p\n\nfunc _() {\nfor {\n" + site.Text + "\n}\n}"
	if expr {
		src = "package p\n\nvar _ = " + site.Text
	}
	if err := checkParses(src); err != nil {
		return &types.ExtractError{
			Kind:   types.InternalAnalysisFailure,
			Detail: fmt.Sprintf("call-site replacement does not parse: %v\n%s", err, site.Text),
			Path:   g.snap.Path,
			Cause:  err,
		}
	}
	return nil
}
