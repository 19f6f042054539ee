// Package domain holds the in-memory order/trade model: types, invariants,
// and the lifecycle transitions between them. It has no knowledge of I/O.
package domain

import "fmt"

// ValidationError signals a caller-fault, surfaced as HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Code returns the HTTP status this error maps to.
func (e *ValidationError) Code() int { return 400 }

// NotFoundError signals an unknown order_id or trade_id, HTTP 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Code() int { return 404 }

// StateConflictError signals an attempted mutation of a terminal-state
// order, or a re-settle of an already-settled trade. HTTP 400.
type StateConflictError struct {
	Reason string
}

func (e *StateConflictError) Error() string { return e.Reason }

func (e *StateConflictError) Code() int { return 400 }

// TimeoutError signals a command that exceeded its deadline while queued.
type TimeoutError struct {
	Reason string
}

func (e *TimeoutError) Error() string { return e.Reason }

func (e *TimeoutError) Code() int { return 408 }

// InternalError wraps an unexpected failure: repository unavailable, or an
// invariant violation caught at commit. HTTP 500.
type InternalError struct {
	Reason string
	Cause  error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("internal: %s", e.Reason)
}

func (e *InternalError) Code() int { return 500 }

func (e *InternalError) Unwrap() error { return e.Cause }

// CodedError is implemented by every error in the taxonomy above, so
// collaborators (HTTP handlers, the WebSocket hub) can map errors to a
// status code without a type switch per call site.
type CodedError interface {
	error
	Code() int
}
