package model

import "fmt"

// ErrorCode classifies failures surfaced by the control plane.
type ErrorCode string

const (
	ErrRejectedByState  ErrorCode = "REJECTED_BY_STATE"
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrResourceConflict ErrorCode = "RESOURCE_CONFLICT"
	ErrRemoteCallFailed ErrorCode = "REMOTE_CALL_FAILED"
	ErrInternal         ErrorCode = "INTERNAL_INCONSISTENCY"
)

// APIError is a structured error returned by every lifecycle command.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a failure tied to a specific field or resource id.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates a VALIDATION_FAILED error with details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidationFailed, Message: msg, Details: details}
}

// NewStateError reports a lifecycle command rejected by the current obsState.
func NewStateError(command string, state ObsState) *APIError {
	return &APIError{
		Code:    ErrRejectedByState,
		Message: fmt.Sprintf("%s not permitted in obsState %s", command, state),
	}
}

// NewConflictError aggregates per-id resource conflicts.
func NewConflictError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrResourceConflict, Message: msg, Details: details}
}

// NewRemoteError reports a failed call to a fleet node.
func NewRemoteError(node, command string, err error) *APIError {
	return &APIError{
		Code:    ErrRemoteCallFailed,
		Message: fmt.Sprintf("%s on %s failed: %v", command, node, err),
	}
}

// NewInternalError reports an invariant violation. The subarray routes to
// FAULT when it sees this code; only Restart recovers.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}
