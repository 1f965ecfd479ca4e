package types

import (
	"go/ast"
	"go/token"
)

// Mode selects whether a request only renders the generated code or also
// applies it to the document.
type Mode int

const (
	Preview Mode = iota
	Apply
)

func (m Mode) String() string {
	if m == Apply {
		return "apply"
	}
	return "preview"
}

// Request is the external request shape for one extraction.
type Request struct {
	Path      string
	StartLine int
	EndLine   int
	Name      string
	Mode      Mode
}

// Response is the external response shape. ErrorCode is empty on success.
type Response struct {
	Success             bool
	GeneratedMethod     string
	CallSiteReplacement string
	Warnings            []string
	ErrorCode           string
	ErrorDetail         string
	NewVersion          int64
}

// Selection is the normalized range targeted for extraction.
type Selection struct {
	Path      string
	StartLine int
	EndLine   int
}

// ExitKind tags how control leaves the selection at a given exit point.
type ExitKind int

const (
	ExitFallthrough ExitKind = iota
	ExitReturn
	ExitLoopBreak
	ExitLoopContinue
)

func (k ExitKind) String() string {
	switch k {
	case ExitFallthrough:
		return "fallthrough"
	case ExitReturn:
		return "return"
	case ExitLoopBreak:
		return "break"
	case ExitLoopContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// ExitPoint is one statement that transfers control outside the selection.
// For ExitReturn, Results holds the returned expressions (nil for a bare
// return) and Stmt the return statement itself.
type ExitPoint struct {
	Kind    ExitKind
	Pos     token.Pos
	End     token.Pos
	Stmt    ast.Stmt
	Results []ast.Expr
}

// ControlFlowSummary is computed once by the classifier and treated as
// read-only by every later phase.
type ControlFlowSummary struct {
	EntryCount              int
	Exits                   []ExitPoint
	HasMultipleExits        bool
	HasEarlyExit            bool
	ContainsSuspensionPoint bool
	ContainsGeneratorPoint  bool
}

// Role classifies how a variable crosses the selection boundary.
type Role int

const (
	// RoleByValue flows in and is either never written, or written but dead
	// afterwards.
	RoleByValue Role = iota
	// RoleByRef flows in, is written inside, and is read after: the caller
	// must observe the mutation.
	RoleByRef
	// RoleOutput is produced inside the selection and read after it.
	RoleOutput
	// RoleLocal is written inside and never read after; it stays private to
	// the extracted body.
	RoleLocal
)

func (r Role) String() string {
	switch r {
	case RoleByValue:
		return "by-value"
	case RoleByRef:
		return "by-reference"
	case RoleOutput:
		return "output"
	case RoleLocal:
		return "local"
	default:
		return "unknown"
	}
}

// VariableFlowFact records one variable's read/write relationship to the
// selection. Role derivation is total and mutually exclusive; the precedence
// order below is the tie-break (by-ref wins over output-only).
type VariableFlowFact struct {
	Name string
	Type string
	// DeclPos is where the variable is declared in the enclosing function.
	DeclPos token.Pos
	// DeclaredInside is true when the declaration itself sits in the selection.
	DeclaredInside bool
	FlowsIn        bool
	WrittenInside  bool
	ReadAfter      bool
}

// Role derives the variable's signature role from its flow facts.
func (f VariableFlowFact) Role() Role {
	switch {
	case f.FlowsIn && f.WrittenInside && f.ReadAfter:
		return RoleByRef
	case f.WrittenInside && f.ReadAfter && !f.FlowsIn:
		return RoleOutput
	case f.FlowsIn:
		return RoleByValue
	default:
		return RoleLocal
	}
}

// ReturnStrategy describes how the extracted function hands values back.
type ReturnStrategy int

const (
	ReturnNone ReturnStrategy = iota
	ReturnSingle
	ReturnAggregate
	ReturnOutParams
)

func (s ReturnStrategy) String() string {
	switch s {
	case ReturnNone:
		return "none"
	case ReturnSingle:
		return "single"
	case ReturnAggregate:
		return "aggregate"
	case ReturnOutParams:
		return "out-params"
	default:
		return "unknown"
	}
}

// Parameter is one extracted-function parameter.
type Parameter struct {
	Name string
	Type string
	Role Role
	// Pointer marks an out-parameter under the pointers output strategy.
	Pointer bool
}

// ReturnValue is one value in the extracted function's result list.
type ReturnValue struct {
	Name string
	Type string
}

// ExtractedSignature is the inferred declaration shape of the new function.
type ExtractedSignature struct {
	Name     string
	Receiver string // rendered receiver, e.g. "s *server"; empty when Static
	Params   []Parameter
	Returns  []ReturnValue
	Strategy ReturnStrategy

	Static bool
	// NeedsContext marks a suspension-bearing body: the extracted function
	// keeps its context parameter in front.
	NeedsContext bool
	// Generator marks a body that yields to an external consumer; the
	// extracted function propagates consumer stop through its done flag.
	Generator bool
	// EarlyExit is set when interior exits require a trailing done flag;
	// ReplayKind says what the caller replays when the flag is true.
	EarlyExit  bool
	ReplayKind ExitKind
	// FuncResults are the enclosing function's result types, forwarded when
	// interior returns escape through the extracted function.
	FuncResults []ReturnValue
	// BareReturn is set when every interior return is bare: the enclosing
	// function's named results carry the values, and the caller replays a
	// bare return instead of forwarding results.
	BareReturn bool
}

// ExtractionResult is the terminal output of one request.
type ExtractionResult struct {
	RequestID           string
	FunctionText        string
	CallSiteReplacement string
	Signature           *ExtractedSignature
	Warnings            []string
}
