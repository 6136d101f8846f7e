package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// State-machine error codes. These are always surfaced to the caller
// unmodified; none of them leaves a workflow in a partially mutated state.
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrNotPausable       ErrorCode = "NOT_PAUSABLE"
	ErrNotResumable      ErrorCode = "NOT_RESUMABLE"
	ErrWorkflowNotFound  ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrCancelled         ErrorCode = "CANCELLED"
)

// Persistence error codes.
const (
	ErrSnapshotNotFound  ErrorCode = "SNAPSHOT_NOT_FOUND"
	ErrDuplicateSnapshot ErrorCode = "DUPLICATE_SNAPSHOT"
	ErrStorageFailure    ErrorCode = "STORAGE_FAILURE"
)

// Degradation codes. These are recorded in snapshots or resume briefs
// rather than propagated; pause and resume never fail because of them.
const (
	ErrExtractionDegraded ErrorCode = "EXTRACTION_DEGRADED"
	ErrGitStateDivergence ErrorCode = "GIT_STATE_DIVERGENCE"
	ErrForcedPauseTimeout ErrorCode = "FORCED_PAUSE_TIMEOUT"
)

// LLM boundary error codes.
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrSchemaValidation   ErrorCode = "SCHEMA_VALIDATION"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithWorkflow attaches the workflow id the error relates to.
func (e *Error) WithWorkflow(id string) *Error {
	e.WorkflowID = id
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
