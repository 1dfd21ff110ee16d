package models

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized error codes for the system
type ErrorCode string

const (
	// Authentication and authorization
	ErrorCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeTokenExpired     ErrorCode = "TOKEN_EXPIRED"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Resources
	ErrorCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrorCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrorCodeConflict      ErrorCode = "CONFLICT"

	// Validation
	ErrorCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorCodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	ErrorCodeOutOfRange       ErrorCode = "OUT_OF_RANGE"

	// External services
	ErrorCodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	ErrorCodeAgentFailed     ErrorCode = "AGENT_FAILED"
	ErrorCodeUpstreamError   ErrorCode = "UPSTREAM_ERROR"

	// System
	ErrorCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrorCodeVectorError   ErrorCode = "VECTOR_STORE_ERROR"
	ErrorCodeCacheError    ErrorCode = "CACHE_ERROR"
	ErrorCodeTimeout       ErrorCode = "TIMEOUT"

	// Domain
	ErrorCodeDecryptionFailed ErrorCode = "DECRYPTION_FAILED"
	ErrorCodePrivacyViolation ErrorCode = "PRIVACY_VIOLATION"
	ErrorCodeBudgetExhausted  ErrorCode = "BUDGET_EXHAUSTED"
)

// ErrorResponse is the wire shape for API errors.
type ErrorResponse struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Error implements the error interface
func (e *ErrorResponse) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewErrorResponse creates a new error response
func NewErrorResponse(code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails adds details to the error
func (e *ErrorResponse) WithDetails(details string) *ErrorResponse {
	e.Details = details
	return e
}

// WithRequestID adds a request id for tracing
func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// NewNotFoundError creates a not found error for a resource
func NewNotFoundError(resourceType, resourceID string) *ErrorResponse {
	e := NewErrorResponse(ErrorCodeNotFound, fmt.Sprintf("%s not found", resourceType))
	e.Metadata = map[string]interface{}{"resource_type": resourceType, "resource_id": resourceID}
	return e
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, issue string) *ErrorResponse {
	e := NewErrorResponse(ErrorCodeValidation, fmt.Sprintf("validation failed for field '%s'", field))
	e.Details = issue
	e.Metadata = map[string]interface{}{"field": field}
	return e
}
