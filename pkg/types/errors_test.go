package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{EmptySelection, "EmptySelection"},
		{IncompleteSelection, "IncompleteSelection"},
		{MultipleEntryPoints, "MultipleEntryPoints"},
		{UnsupportedJumpConstruct, "UnsupportedJumpConstruct"},
		{TypeMismatchOnReturn, "TypeMismatchOnReturn"},
		{NameCollision, "NameCollision"},
		{UnsupportedCombination, "UnsupportedCombination"},
		{StaleSnapshot, "StaleSnapshot"},
		{InternalAnalysisFailure, "InternalAnalysisFailure"},
		{ErrorKind(99), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractErrorMessage(t *testing.T) {
	err := &ExtractError{
		Kind:   NameCollision,
		Detail: `"run" is already declared in this file`,
		Path:   "main.go",
		Line:   12,
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "main.go:12:") {
		t.Errorf("message missing location prefix: %q", msg)
	}
	if !strings.Contains(msg, "NameCollision") {
		t.Errorf("message missing kind: %q", msg)
	}

	bare := Errf(EmptySelection, "nothing selected")
	if got := bare.Error(); got != "EmptySelection: nothing selected" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	for kind := EmptySelection; kind <= InternalAnalysisFailure; kind++ {
		err := &ExtractError{Kind: kind}
		want := kind == StaleSnapshot
		if got := err.Retryable(); got != want {
			t.Errorf("Retryable() for %s = %v, want %v", kind, got, want)
		}
	}
}

func TestAsExtractError(t *testing.T) {
	inner := Errf(StaleSnapshot, "document changed")
	wrapped := fmt.Errorf("apply failed: %w", inner)

	ee, ok := AsExtractError(wrapped)
	if !ok {
		t.Fatal("expected to find ExtractError in chain")
	}
	if ee.Kind != StaleSnapshot {
		t.Errorf("Kind = %s, want StaleSnapshot", ee.Kind)
	}

	if _, ok := AsExtractError(errors.New("plain")); ok {
		t.Error("plain error should not match")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &ExtractError{Kind: InternalAnalysisFailure, Detail: "write failed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}
