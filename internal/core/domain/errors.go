package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeAnnotation indicates a message carried an annotation the
	// filter refuses to rewrite.
	ErrorTypeAnnotation ErrorType = "annotation"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMalformedFragment ErrorCode = "malformed_fragment"
	ErrorCodeDuplicateIdentity ErrorCode = "duplicate_identity"
	ErrorCodeCorruptEndMarker  ErrorCode = "corrupt_end_marker"
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrorCodeUnknownPipeline   ErrorCode = "unknown_pipeline"
)

// APIError is the canonical error returned to HTTP clients.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeAnnotation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}
