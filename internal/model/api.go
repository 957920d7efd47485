package model

import "time"

// APIResponse is the standard success envelope for every HTTP endpoint.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope for every HTTP endpoint.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries correlation metadata present on every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail is the body of an APIError.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes, one per category in the error handling design.
const (
	ErrCodeInvalidInput         = "invalid_input"
	ErrCodeNotFound             = "not_found"
	ErrCodeDependencyUnavailable = "dependency_unavailable"
	ErrCodeConstraintExhausted  = "constraint_exhausted"
	ErrCodeConflict             = "conflict"
	ErrCodeInternalError        = "internal_error"
)
