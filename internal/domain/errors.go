// Package domain defines the core entities, ports, state-transition tables,
// and error taxonomy shared by every service in the system.
package domain

import (
	"errors"
	"fmt"
)

// Error kind sentinels (§7). Every error returned by a service wraps one of
// these so that HTTP handlers and worker loops can classify failures with
// errors.Is without inspecting strings.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for bad input, duplicates, or illegal state
	// transitions.
	ErrValidation = errors.New("validation error")
	// ErrExternalService is returned when the IDV provider responds with a
	// 4xx/5xx, a network failure, or an unparseable body.
	ErrExternalService = errors.New("external service error")
	// ErrExternalTimeout is returned when a provider call exceeds its
	// configured timeout.
	ErrExternalTimeout = errors.New("external service timeout")
	// ErrDatabaseUnavailable is returned when the store cannot be reached.
	ErrDatabaseUnavailable = errors.New("database unavailable")
	// ErrDatabaseInternal is returned for unexpected store errors.
	ErrDatabaseInternal = errors.New("database internal error")
	// ErrUnexpected is the catch-all for anything else.
	ErrUnexpected = errors.New("unexpected error")
)

// AppError carries a stable machine-readable code, a human message, and a
// trace id alongside the sentinel it wraps, matching the §6 error envelope.
type AppError struct {
	Kind      error
	Code      string
	Message   string
	TraceID   string
	Context   map[string]any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

// Unwrap allows errors.Is(err, domain.ErrNotFound) etc. to work.
func (e *AppError) Unwrap() error { return e.Kind }

// NewValidationError builds an AppError wrapping ErrValidation.
func NewValidationError(code, message, traceID string) *AppError {
	return &AppError{Kind: ErrValidation, Code: code, Message: message, TraceID: traceID}
}

// NewNotFoundError builds an AppError wrapping ErrNotFound.
func NewNotFoundError(code, message, traceID string) *AppError {
	return &AppError{Kind: ErrNotFound, Code: code, Message: message, TraceID: traceID}
}

// NewExternalServiceError builds an AppError wrapping ErrExternalService.
func NewExternalServiceError(code, message, traceID string) *AppError {
	return &AppError{Kind: ErrExternalService, Code: code, Message: message, TraceID: traceID}
}

// NewExternalTimeoutError builds an AppError wrapping ErrExternalTimeout.
func NewExternalTimeoutError(code, message, traceID string) *AppError {
	return &AppError{Kind: ErrExternalTimeout, Code: code, Message: message, TraceID: traceID}
}

// NewDatabaseUnavailableError builds an AppError wrapping ErrDatabaseUnavailable.
func NewDatabaseUnavailableError(message, traceID string) *AppError {
	return &AppError{Kind: ErrDatabaseUnavailable, Code: "database_unavailable", Message: message, TraceID: traceID}
}

// NewDatabaseInternalError builds an AppError wrapping ErrDatabaseInternal.
func NewDatabaseInternalError(message, traceID string) *AppError {
	return &AppError{Kind: ErrDatabaseInternal, Code: "database_internal", Message: message, TraceID: traceID}
}

// WrapUnexpected builds an AppError wrapping ErrUnexpected around err.
func WrapUnexpected(err error, traceID string) *AppError {
	return &AppError{Kind: ErrUnexpected, Code: "unexpected", Message: err.Error(), TraceID: traceID}
}

// InvalidStepTransitionError builds the binding workflow-guard error (§4.2).
func InvalidStepTransitionError(action, current string, allowed []string, traceID string) *AppError {
	return &AppError{
		Kind:    ErrValidation,
		Code:    "binding_invalid_step_transition",
		Message: fmt.Sprintf("action %q not allowed from step %q (allowed: %v)", action, current, allowed),
		TraceID: traceID,
		Context: map[string]any{"action": action, "current": current, "allowed": allowed},
	}
}

// InvalidStatusTransitionError builds the transaction workflow-guard error (§4.2).
func InvalidStatusTransitionError(action, current string, allowed []string, traceID string) *AppError {
	return &AppError{
		Kind:    ErrValidation,
		Code:    "transaction_invalid_status_transition",
		Message: fmt.Sprintf("action %q not allowed from status %q (allowed: %v)", action, current, allowed),
		TraceID: traceID,
		Context: map[string]any{"action": action, "current": current, "allowed": allowed},
	}
}
