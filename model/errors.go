package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrTemplateNotFound     = "TEMPLATE_NOT_FOUND"
	ErrTemplateNotPublished = "TEMPLATE_NOT_PUBLISHED"
	ErrDependencyCycle      = "DEPENDENCY_CYCLE"
	ErrUnknownRole          = "UNKNOWN_ROLE"
	ErrInstanceNotActive    = "INSTANCE_NOT_ACTIVE"
)

// ErrorEnvelope is the standard error shape surfaced by the engine and its
// HTTP transport. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewTemplateNotFoundError returns a TEMPLATE_NOT_FOUND error.
func NewTemplateNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTemplateNotFound, Message: msg}
}

// NewTemplateNotPublishedError returns a TEMPLATE_NOT_PUBLISHED error.
func NewTemplateNotPublishedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTemplateNotPublished, Message: msg}
}

// NewDependencyCycleError returns a DEPENDENCY_CYCLE error. A cyclic task
// graph is a fatal configuration error, never silently truncated.
func NewDependencyCycleError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDependencyCycle, Message: msg}
}

// NewUnknownRoleError returns an UNKNOWN_ROLE error.
func NewUnknownRoleError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnknownRole, Message: msg}
}

// NewInstanceNotActiveError returns an INSTANCE_NOT_ACTIVE error.
func NewInstanceNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceNotActive, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
