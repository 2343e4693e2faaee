// Package apperrors implements the error taxonomy used across the research
// runtime: Transient, MalformedResponse, ResourceExhausted, Fatal and
// Cancelled. Every component-level error should be wrapped into one of
// these kinds so the Orchestrator can decide retry vs. surface vs. abort
// without inspecting error strings.
package apperrors

import (
	"context"
	"errors"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Kind classifies an error for the Orchestrator's propagation policy.
type Kind int

const (
	// Transient errors are retried with backoff by the caller (network,
	// rate limits, provider timeouts).
	Transient Kind = iota
	// MalformedResponse covers JSON parse / schema mismatches from an LLM
	// call; callers get one auto-repair retry before surfacing.
	MalformedResponse
	// ResourceExhausted covers token budget or retry-cap exhaustion; it
	// triggers a plan-level downgrade rather than a hard abort.
	ResourceExhausted
	// Fatal covers invalid configuration or corrupt session logs; the
	// process aborts with a non-zero exit code.
	Fatal
	// Cancelled is not an error in the usual sense; it is propagated as a
	// terminal state carrying a CancelReason.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case MalformedResponse:
		return "malformed_response"
	case ResourceExhausted:
		return "resource_exhausted"
	case Fatal:
		return "fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and an optional phase label
// describing where in the pipeline it originated (e.g. "search/2/iter-1").
type Error struct {
	Kind  Kind
	Phase string
	cause error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return e.Kind.String() + " in " + e.Phase + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps cause as a classified error. Fatal errors carry a stack trace
// via cockroachdb/errors so operators can locate the corrupt state.
func New(kind Kind, phase string, cause error) *Error {
	if cause == nil {
		return nil
	}
	if kind == Fatal {
		cause = cockroacherrors.WithStack(cause)
	}
	return &Error{Kind: kind, Phase: phase, cause: cause}
}

// Wrapf builds a classified error from a format string, matching the
// ergonomics of cockroachdb/errors.Newf used elsewhere in the pack.
func Wrapf(kind Kind, phase string, cause error, format string, args ...interface{}) *Error {
	return New(kind, phase, cockroacherrors.Wrapf(cause, format, args...))
}

// As reports whether err is (or wraps) an *Error of the given Kind.
func As(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsCancellation reports whether err represents context cancellation,
// either as a raw context error or as a classified Cancelled error.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return As(err, Cancelled)
}

// CancelReason enumerates why a research run was cancelled.
type CancelReason int

const (
	ReasonUnknown CancelReason = iota
	ReasonUserInterrupt
	ReasonTimeout
	ReasonParentCancelled
	ReasonShutdown
)

func (r CancelReason) String() string {
	switch r {
	case ReasonUserInterrupt:
		return "UserInterrupt"
	case ReasonTimeout:
		return "Timeout"
	case ReasonParentCancelled:
		return "ParentCancelled"
	case ReasonShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
