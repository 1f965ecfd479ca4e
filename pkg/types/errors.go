package types

import (
	"errors"
	"fmt"
)

// ExtractError represents a failure of an extraction request. Every error the
// engine surfaces carries a Kind from the fixed taxonomy below so callers can
// react without parsing messages.
type ExtractError struct {
	Kind   ErrorKind
	Detail string
	Path   string
	Line   int
	Cause  error
}

func (e *ExtractError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: %s: %s", e.Path, e.Line, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ExtractError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may resubmit without changing the
// request. StaleSnapshot is the only retryable condition: re-snapshot and try
// again. Everything else is terminal until the input changes.
func (e *ExtractError) Retryable() bool {
	return e.Kind == StaleSnapshot
}

type ErrorKind int

const (
	EmptySelection ErrorKind = iota
	IncompleteSelection
	MultipleEntryPoints
	UnsupportedJumpConstruct
	TypeMismatchOnReturn
	NameCollision
	UnsupportedCombination
	StaleSnapshot
	InternalAnalysisFailure
)

func (k ErrorKind) String() string {
	switch k {
	case EmptySelection:
		return "EmptySelection"
	case IncompleteSelection:
		return "IncompleteSelection"
	case MultipleEntryPoints:
		return "MultipleEntryPoints"
	case UnsupportedJumpConstruct:
		return "UnsupportedJumpConstruct"
	case TypeMismatchOnReturn:
		return "TypeMismatchOnReturn"
	case NameCollision:
		return "NameCollision"
	case UnsupportedCombination:
		return "UnsupportedCombination"
	case StaleSnapshot:
		return "StaleSnapshot"
	case InternalAnalysisFailure:
		return "InternalAnalysisFailure"
	default:
		return "Unknown"
	}
}

// Errf builds an ExtractError with a formatted detail message.
func Errf(kind ErrorKind, format string, args ...any) *ExtractError {
	return &ExtractError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	}
}

// AsExtractError unwraps err into an *ExtractError if one is in the chain.
func AsExtractError(err error) (*ExtractError, bool) {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
