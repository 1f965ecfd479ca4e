package extract

import (
	"fmt"
	"sort"
	"strings"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// MethodBodyTransformer turns the selected source text into the body of the
// new function. The original statements are kept verbatim; only the exit
// statements are spliced, plus a prologue and terminal return where needed.
// Variable names inside the body never change.
type MethodBodyTransformer struct {
	snap   *source.Snapshot
	policy Policy
}

func NewMethodBodyTransformer(snap *source.Snapshot, policy Policy) *MethodBodyTransformer {
	return &MethodBodyTransformer{snap: snap, policy: policy.normalized()}
}

// TransformedBody is the rendered function body plus the names the call-site
// generator needs to agree on.
type TransformedBody struct {
	// Text holds the statements between the braces, unformatted. The
	// generator runs the whole declaration through gofmt.
	Text string
	// DoneVar is the trailing flag's name, empty when no flag is generated.
	DoneVar string
	// PointerParams maps output names to their pointer parameter names under
	// the pointers output strategy.
	PointerParams map[string]string
}

type splice struct {
	start, end int // offsets relative to the body slice
	text       string
}

// Transform builds the new function's body for the inferred signature.
func (t *MethodBodyTransformer) Transform(ctx *AnalysisContext, flow *types.ControlFlowSummary, sig *types.ExtractedSignature, facts []types.VariableFlowFact) (*TransformedBody, error) {
	if ctx.Expr != nil {
		return &TransformedBody{Text: "return " + t.snap.Text(ctx.Expr.Pos(), ctx.Expr.End())}, nil
	}

	out := &TransformedBody{}
	byName := map[string]types.VariableFlowFact{}
	for _, f := range facts {
		byName[f.Name] = f
	}

	if sig.EarlyExit {
		out.DoneVar = freshName("done", byName, sig)
	}

	pointers := t.policy.OutputStrategy == OutputPointers
	if pointers {
		out.PointerParams = map[string]string{}
		for _, p := range sig.Params {
			if p.Pointer {
				out.PointerParams[p.Name] = freshName(p.Name+"Out", byName, sig)
			}
		}
	}

	base := t.snap.Offset(ctx.Start())
	body := t.snap.Text(ctx.Start(), ctx.End())

	var splices []splice
	for _, e := range flow.Exits {
		if e.Kind == types.ExitFallthrough {
			continue
		}
		repl, rewrite := t.exitText(e, sig, byName, out)
		if !rewrite {
			continue
		}
		splices = append(splices, splice{
			start: t.snap.Offset(e.Pos) - base,
			end:   t.snap.Offset(e.End) - base,
			text:  repl,
		})
	}
	body = applySplices(body, splices)

	var b strings.Builder
	for _, line := range t.prologue(sig, byName, out) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(body)
	if terminal := t.terminal(flow, sig, byName, out); terminal != "" {
		b.WriteString("\n")
		b.WriteString(terminal)
	}
	out.Text = b.String()
	return out, nil
}

// exitText renders the replacement for one interior exit statement. The
// second result is false when the statement can stay as written.
func (t *MethodBodyTransformer) exitText(e types.ExitPoint, sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact, out *TransformedBody) (string, bool) {
	outVals := t.outputValuesAt(e, sig, byName)

	if !sig.EarlyExit {
		// Uniform exits: value-carrying returns forward unchanged; bare
		// returns need rewriting only when the new function gained results.
		if e.Kind == types.ExitReturn && sig.BareReturn && len(outVals) > 0 {
			return t.withEpilogue(sig, byName, out, "return "+strings.Join(outVals, ", ")), true
		}
		if e.Kind == types.ExitReturn && len(out.PointerParams) > 0 {
			orig := "return"
			if len(e.Results) > 0 {
				orig = "return " + t.snap.Text(e.Results[0].Pos(), e.Results[len(e.Results)-1].End())
			}
			return t.withEpilogue(sig, byName, out, orig), true
		}
		return "", false
	}

	parts := outVals
	if e.Kind == types.ExitReturn && !sig.BareReturn && len(e.Results) > 0 {
		parts = append(parts, t.snap.Text(e.Results[0].Pos(), e.Results[len(e.Results)-1].End()))
	} else if e.Kind != types.ExitReturn {
		for _, r := range sig.FuncResults {
			parts = append(parts, zeroFor(r.Type))
		}
	}
	parts = append(parts, "true")
	return t.withEpilogue(sig, byName, out, "return "+strings.Join(parts, ", ")), true
}

// withEpilogue prepends the pointer write-backs, when any, to a return
// statement so the caller observes the outputs before control leaves.
func (t *MethodBodyTransformer) withEpilogue(sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact, out *TransformedBody, ret string) string {
	if len(out.PointerParams) == 0 {
		return ret
	}
	var b strings.Builder
	for _, p := range sig.Params {
		if !p.Pointer {
			continue
		}
		b.WriteString(fmt.Sprintf("*%s = %s; ", out.PointerParams[p.Name], p.Name))
	}
	b.WriteString(ret)
	return b.String()
}

// outputValuesAt renders the selection's output values as seen at an exit.
// An output declared later in the selection than the exit is not yet in
// scope there, so its zero value stands in; the caller never reads it on
// that path.
func (t *MethodBodyTransformer) outputValuesAt(e types.ExitPoint, sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact) []string {
	var vals []string
	for _, r := range sig.Returns {
		f, ok := byName[r.Name]
		if ok && f.DeclaredInside && e.Pos < f.DeclPos {
			vals = append(vals, zeroFor(r.Type))
			continue
		}
		vals = append(vals, r.Name)
	}
	return vals
}

// prologue declares outputs whose original declaration stays at the call
// site, and unpacks pointer parameters into plainly named locals so the body
// text keeps its names.
func (t *MethodBodyTransformer) prologue(sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact, out *TransformedBody) []string {
	var lines []string
	if len(out.PointerParams) > 0 {
		for _, p := range sig.Params {
			if !p.Pointer {
				continue
			}
			if p.Role == types.RoleByRef {
				lines = append(lines, fmt.Sprintf("%s := *%s", p.Name, out.PointerParams[p.Name]))
			} else {
				lines = append(lines, fmt.Sprintf("var %s %s", p.Name, p.Type))
			}
		}
		return lines
	}
	for _, r := range sig.Returns {
		f, ok := byName[r.Name]
		if !ok || f.DeclaredInside || f.Role() != types.RoleOutput {
			continue
		}
		lines = append(lines, fmt.Sprintf("var %s %s", r.Name, r.Type))
	}
	return lines
}

// terminal renders the return statement appended after the original
// statements, reached when the selection falls through its end.
func (t *MethodBodyTransformer) terminal(flow *types.ControlFlowSummary, sig *types.ExtractedSignature, byName map[string]types.VariableFlowFact, out *TransformedBody) string {
	fallsThrough := false
	for _, e := range flow.Exits {
		if e.Kind == types.ExitFallthrough {
			fallsThrough = true
		}
	}
	if !fallsThrough {
		return ""
	}

	var parts []string
	for _, r := range sig.Returns {
		parts = append(parts, r.Name)
	}
	if sig.EarlyExit {
		if !sig.BareReturn {
			for _, r := range sig.FuncResults {
				parts = append(parts, zeroFor(r.Type))
			}
		}
		parts = append(parts, "false")
	}
	if len(parts) == 0 && len(out.PointerParams) == 0 {
		return ""
	}
	ret := "return"
	if len(parts) > 0 {
		ret = "return " + strings.Join(parts, ", ")
	}
	return t.withEpilogue(sig, byName, out, ret)
}

func applySplices(body string, splices []splice) string {
	sort.Slice(splices, func(i, j int) bool { return splices[i].start > splices[j].start })
	for _, sp := range splices {
		if sp.start < 0 || sp.end > len(body) || sp.start > sp.end {
			continue
		}
		body = body[:sp.start] + sp.text + body[sp.end:]
	}
	return body
}

// freshName returns base, or base with a numeric suffix, avoiding every
// variable the signature and flow facts mention.
func freshName(base string, byName map[string]types.VariableFlowFact, sig *types.ExtractedSignature) string {
	taken := func(n string) bool {
		if _, ok := byName[n]; ok {
			return true
		}
		for _, p := range sig.Params {
			if p.Name == n {
				return true
			}
		}
		for _, r := range sig.Returns {
			if r.Name == n {
				return true
			}
		}
		return false
	}
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		cand := fmt.Sprintf("%s%d", base, i)
		if !taken(cand) {
			return cand
		}
	}
}

// zeroFor renders the zero value for a rendered type. The *new(T) fallback
// is valid for any type, named aliases included.
func zeroFor(t string) string {
	switch t {
	case "bool":
		return "false"
	case "string":
		return `""`
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
		"float32", "float64", "complex64", "complex128", "byte", "rune":
		return "0"
	case "error", "any":
		return "nil"
	}
	switch {
	case strings.HasPrefix(t, "*"),
		strings.HasPrefix(t, "[]"),
		strings.HasPrefix(t, "map["),
		strings.HasPrefix(t, "chan "),
		strings.HasPrefix(t, "chan<-"),
		strings.HasPrefix(t, "<-chan"),
		strings.HasPrefix(t, "func("),
		strings.HasPrefix(t, "func "),
		strings.HasPrefix(t, "interface"):
		return "nil"
	}
	return fmt.Sprintf("*new(%s)", t)
}
