package extract

import (
	"context"
	"fmt"
	"go/ast"
	"go/token"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"methodlift/pkg/source"
	"methodlift/pkg/types"
)

// Phase tracks where a request is in its pipeline. Transitions are strictly
// forward; a failed phase goes straight to PhaseFailed.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseAnalyzingFlow
	PhaseInferringSignature
	PhaseTransforming
	PhaseGenerating
	PhasePreviewing
	PhaseApplying
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseAnalyzingFlow:
		return "analyzing-flow"
	case PhaseInferringSignature:
		return "inferring-signature"
	case PhaseTransforming:
		return "transforming"
	case PhaseGenerating:
		return "generating"
	case PhasePreviewing:
		return "previewing"
	case PhaseApplying:
		return "applying"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Orchestrator drives one extraction request through validation, analysis,
// generation, and finally preview or apply. It holds no per-request state, so
// one Orchestrator serves concurrent requests.
type Orchestrator struct {
	store  *source.DocumentStore
	policy Policy
	logger *slog.Logger
}

func NewOrchestrator(store *source.DocumentStore, policy Policy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, policy: policy.normalized(), logger: logger}
}

// Extract runs one request to completion. Analysis runs against a single
// snapshot; in apply mode the write is rejected with StaleSnapshot if the
// document changed underneath it.
func (o *Orchestrator) Extract(ctx context.Context, req types.Request) *types.Response {
	requestID := uuid.New().String()
	log := o.logger.With("request_id", requestID, "file", req.Path, "mode", req.Mode.String())
	log.Info("extraction requested",
		"start_line", req.StartLine, "end_line", req.EndLine, "name", req.Name)

	result, err := o.run(ctx, req, requestID, log)
	if err != nil {
		ee, ok := types.AsExtractError(err)
		if !ok {
			ee = &types.ExtractError{
				Kind:   types.InternalAnalysisFailure,
				Detail: err.Error(),
				Path:   req.Path,
				Cause:  err,
			}
		}
		log.Warn("extraction failed", "phase", PhaseFailed.String(),
			"code", ee.Kind.String(), "detail", ee.Detail)
		return &types.Response{
			Success:     false,
			ErrorCode:   ee.Kind.String(),
			ErrorDetail: ee.Error(),
		}
	}

	resp := &types.Response{
		Success:             true,
		GeneratedMethod:     result.FunctionText,
		CallSiteReplacement: result.CallSiteReplacement,
		Warnings:            result.Warnings,
		NewVersion:          result.newVersion,
	}
	log.Info("extraction complete", "phase", PhaseDone.String(),
		"warnings", len(result.Warnings))
	return resp
}

type runResult struct {
	types.ExtractionResult
	newVersion int64
}

func (o *Orchestrator) run(ctx context.Context, req types.Request, requestID string, log *slog.Logger) (*runResult, error) {
	snap, err := o.store.Snapshot(req.Path)
	if err != nil {
		return nil, err
	}

	phase := func(p Phase) error {
		log.Debug("phase", "phase", p.String())
		if err := ctx.Err(); err != nil {
			return types.Errf(types.InternalAnalysisFailure, "request canceled: %v", err)
		}
		return nil
	}

	if err := phase(PhaseValidating); err != nil {
		return nil, err
	}
	validator := NewSelectionValidator(snap)
	actx, err := validator.Validate(types.Selection{
		Path:      req.Path,
		StartLine: req.StartLine,
		EndLine:   req.EndLine,
	})
	if err != nil {
		return nil, err
	}

	if err := phase(PhaseAnalyzingFlow); err != nil {
		return nil, err
	}
	flow, err := NewControlFlowClassifier(snap).Classify(actx)
	if err != nil {
		return nil, err
	}

	facts, err := NewDataFlowAnalyzer(snap).Analyze(actx)
	if err != nil {
		return nil, err
	}

	if err := phase(PhaseInferringSignature); err != nil {
		return nil, err
	}
	sig, err := NewSignatureInferencer(snap, o.policy).Infer(actx, flow, facts, req.Name)
	if err != nil {
		return nil, err
	}

	if err := phase(PhaseTransforming); err != nil {
		return nil, err
	}
	body, err := NewMethodBodyTransformer(snap, o.policy).Transform(actx, flow, sig, facts)
	if err != nil {
		return nil, err
	}

	if err := phase(PhaseGenerating); err != nil {
		return nil, err
	}
	funcText, err := NewMethodGenerator(snap).Render(sig, body)
	if err != nil {
		return nil, err
	}
	site, err := NewCallSiteGenerator(snap, o.policy).Render(actx, sig, body, facts)
	if err != nil {
		return nil, err
	}

	// Both fragments parse on their own; only splicing them back into the
	// file shows cross-scope breakage, like a reference to a variable that
	// stayed behind at the call site.
	edits := o.edits(snap, actx, site, funcText)
	if err := o.verify(snap, edits); err != nil {
		return nil, err
	}

	result := &runResult{
		ExtractionResult: types.ExtractionResult{
			RequestID:           requestID,
			FunctionText:        funcText,
			CallSiteReplacement: site.Text,
			Signature:           sig,
			Warnings:            actx.Warnings,
		},
		newVersion: snap.Version,
	}

	if req.Mode != types.Apply {
		if err := phase(PhasePreviewing); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := phase(PhaseApplying); err != nil {
		return nil, err
	}
	newVersion, err := o.store.Apply(req.Path, snap.Version, edits)
	if err != nil {
		return nil, err
	}
	result.newVersion = newVersion
	return result, nil
}

// edits builds the byte-range edits for apply mode: the call site replaces
// the selection, the function goes after the enclosing declaration, and an
// import of context is added when the call site introduced one.
func (o *Orchestrator) edits(snap *source.Snapshot, actx *AnalysisContext, site *CallSite, funcText string) []source.Edit {
	start := snap.Offset(actx.Start())
	end := snap.Offset(actx.End())

	indent := lineIndent(snap.Content, start)
	replacement := strings.ReplaceAll(site.Text, "\n", "\n"+indent)

	edits := []source.Edit{
		{Start: start, End: end, Text: replacement},
		{Start: snap.Offset(actx.Fn.End()), End: snap.Offset(actx.Fn.End()), Text: "\n\n" + funcText},
	}
	if site.NeedsContextImport && !importsPackage(snap.File, "context") {
		edits = append(edits, contextImportEdit(snap))
	}
	return edits
}

// verify type-checks the patched file and rejects edits that would introduce
// errors the original content did not have. The comparison is by message, so
// the noise a file-local check always produces cancels out.
func (o *Orchestrator) verify(snap *source.Snapshot, edits []source.Edit) error {
	patched, err := source.Patch(snap.Content, edits)
	if err != nil {
		return err
	}
	before := map[string]int{}
	for _, msg := range source.CheckErrors(snap.Path, snap.Content) {
		before[msg]++
	}
	for _, msg := range source.CheckErrors(snap.Path, patched) {
		if before[msg] > 0 {
			before[msg]--
			continue
		}
		return types.Errf(types.InternalAnalysisFailure,
			"generated code does not type-check: %s", msg)
	}
	return nil
}

// lineIndent returns the whitespace prefix of the line containing offset.
func lineIndent(content []byte, offset int) string {
	lineStart := offset
	for lineStart > 0 && content[lineStart-1] != '\n' {
		lineStart--
	}
	i := lineStart
	for i < len(content) && (content[i] == ' ' || content[i] == '\t') {
		i++
	}
	return string(content[lineStart:i])
}

func importsPackage(file *ast.File, path string) bool {
	for _, imp := range file.Imports {
		if strings.Trim(imp.Path.Value, `"`) == path {
			return true
		}
	}
	return false
}

// contextImportEdit inserts "context" into the file's first import group, or
// a new import declaration after the package clause when none exists.
func contextImportEdit(snap *source.Snapshot) source.Edit {
	for _, decl := range snap.File.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.IMPORT {
			continue
		}
		if gd.Lparen.IsValid() {
			off := snap.Offset(gd.Lparen) + 1
			return source.Edit{Start: off, End: off, Text: "\n\t\"context\""}
		}
		// Single-spec import without parens: insert a sibling declaration.
		off := snap.Offset(gd.End())
		return source.Edit{Start: off, End: off, Text: "\nimport \"context\""}
	}
	off := snap.Offset(snap.File.Name.End())
	return source.Edit{Start: off, End: off, Text: fmt.Sprintf("\n\nimport %q", "context")}
}
