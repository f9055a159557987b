// Package distrierr defines the error taxonomy shared across the
// orchestrator, planner, and tool dispatch layers.
//
// Callers (the orchestrator's execute path, the step executor's replanning
// decision) branch on error kind programmatically, so each error carries a
// Kind tag alongside the usual %w-wrappable chain.
package distrierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its place in the taxonomy. The string value
// doubles as the error code carried on terminal RunError events.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not_found"
	AlreadyExists   Kind = "already_exists"
	Planning        Kind = "planning"
	ToolExecution   Kind = "tool_execution"
	LLM             Kind = "llm"
	Session         Kind = "session"
	External        Kind = "external"
	Cancelled       Kind = "canceled"
	MaxIterations   Kind = "max_iterations"
	NotImplemented  Kind = "not_implemented"
)

// Error is a Kind-tagged, wrap-chain-preserving error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a Kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the Unwrap chain. Returns ""
// if no *Error is found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's Kind (anywhere in its chain) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
