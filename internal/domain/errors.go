package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes engine failures for programmatic handling.
type ErrorKind string

const (
	// ErrKindSelectorUnresolved - no candidate matched, pre- or post-healing
	ErrKindSelectorUnresolved ErrorKind = "SELECTOR_UNRESOLVED"
	// ErrKindAmbiguousMatch - more than one element matched and
	// disambiguation failed
	ErrKindAmbiguousMatch ErrorKind = "AMBIGUOUS_MATCH"
	// ErrKindActionTimeout - navigation, wait or action exceeded its budget
	ErrKindActionTimeout ErrorKind = "ACTION_TIMEOUT"
	// ErrKindAssertionMismatch - observed state contradicts the expectation
	ErrKindAssertionMismatch ErrorKind = "ASSERTION_MISMATCH"
	// ErrKindVisionVerificationFailed - the vision judge returned fail or
	// timed out
	ErrKindVisionVerificationFailed ErrorKind = "VISION_VERIFICATION_FAILED"
	// ErrKindFatalBrowserError - the browser session crashed or became
	// unusable
	ErrKindFatalBrowserError ErrorKind = "FATAL_BROWSER_ERROR"
	// ErrKindInvalidStep - a step failed the closed-union or parameter
	// contract
	ErrKindInvalidStep ErrorKind = "INVALID_STEP"
)

// EngineError is the structured error for all engine operations. It carries
// the failing step id and a human-readable reason so failures are
// diagnosable without re-running.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	StepID  int       `json:"step_id,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches engine errors by kind.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause attaches the underlying error.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithStep attaches the failing step id.
func (e *EngineError) WithStep(stepID int) *EngineError {
	e.StepID = stepID
	return e
}

// NewEngineError creates an error of the given kind.
func NewEngineError(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// Error constructors

func ErrSelectorUnresolved(selector string) *EngineError {
	return NewEngineError(ErrKindSelectorUnresolved, fmt.Sprintf("selector %q did not resolve", selector))
}

// ErrSelectorUnresolvedAfterHealing is the terminal healing failure; the
// message is part of the reporting contract.
func ErrSelectorUnresolvedAfterHealing(selector string) *EngineError {
	return NewEngineError(ErrKindSelectorUnresolved, "selector unresolved after healing").
		WithCause(fmt.Errorf("original selector %q", selector))
}

func ErrAmbiguousMatch(selector string, count int) *EngineError {
	return NewEngineError(ErrKindAmbiguousMatch, fmt.Sprintf("selector %q matched %d elements", selector, count))
}

func ErrActionTimeout(action Action, timeout time.Duration) *EngineError {
	return NewEngineError(ErrKindActionTimeout, fmt.Sprintf("action %s exceeded its %s budget", action, timeout))
}

func ErrAssertionMismatch(detail string) *EngineError {
	return NewEngineError(ErrKindAssertionMismatch, detail)
}

func ErrVisionVerificationFailed(reason string) *EngineError {
	return NewEngineError(ErrKindVisionVerificationFailed, reason)
}

// ErrVisionVerificationTimedOut is the bounded-timeout conversion; the
// message is part of the reporting contract.
func ErrVisionVerificationTimedOut() *EngineError {
	return NewEngineError(ErrKindVisionVerificationFailed, "vision verification timed out")
}

func ErrFatalBrowser(err error) *EngineError {
	return NewEngineError(ErrKindFatalBrowserError, "browser session unusable").WithCause(err)
}

func ErrInvalidStep(stepID int, detail string) *EngineError {
	return NewEngineError(ErrKindInvalidStep, detail).WithStep(stepID)
}

// ErrNotFound is the sentinel persistence layers wrap when a stored object
// is missing; errors.Is(err, ErrNotFound) holds across file, database and
// cache backends.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing stored object by resource and key.
func NotFoundError(resource string, key any) error {
	return fmt.Errorf("%s %v: %w", resource, key, ErrNotFound)
}

// Helpers

// AsEngineError converts err to an EngineError when possible.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// KindOf returns the error kind, or "" for non-engine errors.
func KindOf(err error) ErrorKind {
	if ee, ok := AsEngineError(err); ok {
		return ee.Kind
	}
	return ""
}

// IsAssertionFailure reports whether err is an assertion mismatch or a
// failed vision verification. Under a continue-on-assert policy these are
// the only failures execution may proceed past.
func IsAssertionFailure(err error) bool {
	switch KindOf(err) {
	case ErrKindAssertionMismatch, ErrKindVisionVerificationFailed:
		return true
	}
	return false
}

// IsFatal reports whether err must halt the run regardless of policy.
func IsFatal(err error) bool {
	return KindOf(err) == ErrKindFatalBrowserError
}

// FailureReason renders the human-readable reason stored on step results.
func FailureReason(err error) string {
	if ee, ok := AsEngineError(err); ok {
		return ee.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
