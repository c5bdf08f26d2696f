package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// Authentication errors (401xx)
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Resource errors (404xx). Not-found and not-owned are deliberately the
	// same code so existence is never leaked.
	ErrChatbotNotFound  ErrorCode = "40401"
	ErrDocumentNotFound ErrorCode = "40402"

	// Quota errors (503xx)
	ErrQuotaExhausted ErrorCode = "50302"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrConfigMissing       ErrorCode = "50002"
	ErrUpstreamUnavailable ErrorCode = "50301"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Invalid or missing credentials",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrChatbotNotFoundError = &APIError{
		Code:       ErrChatbotNotFound,
		Message:    "Chatbot not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrDocumentNotFoundError = &APIError{
		Code:       ErrDocumentNotFound,
		Message:    "Document not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrQuotaExhaustedError = &APIError{
		Code:       ErrQuotaExhausted,
		Message:    "This chatbot is temporarily unavailable due to high message volume. Please try again later.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "An internal error occurred. Please try again later.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrConfigMissingError = &APIError{
		Code:       ErrConfigMissing,
		Message:    "Server configuration error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrUpstreamUnavailableError = &APIError{
		Code:       ErrUpstreamUnavailable,
		Message:    "Upstream service unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}
