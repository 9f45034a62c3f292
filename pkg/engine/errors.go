package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, a repository host that is briefly unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by a fetch backend.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a runtime state conflict.
	// Examples: a module changed state while a cycle was operating on it.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed repository, unsatisfiable requirement, permission denied.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the failure category (see the ErrCode constants).
	Code string `json:"code,omitempty"`

	// Resource is the module, feature or location that caused the error.
	Resource string `json:"resource,omitempty"`

	// Operation is the cycle step being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if inner := e.unwrapMessage(); inner != "" {
		msg = msg + ": " + inner
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Class, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError reports a malformed repository, an unsatisfiable
// feature constraint or an unresolved feature dependency.
func NewConfigurationError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeConfiguration)
}

// NewResolutionError reports that no consistent artifact set exists.
func NewResolutionError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeResolution)
}

// NewFetchError reports an artifact or repository that could not be downloaded.
// Transient causes keep their class so callers can retry.
func NewFetchError(location string, err error) *EngineError {
	class := ErrorClassPermanent
	if IsTransient(err) {
		class = ErrorClassTransient
	} else if IsThrottled(err) {
		class = ErrorClassThrottled
	}
	return &EngineError{
		Class:    class,
		Message:  "fetch failed",
		Code:     ErrCodeFetch,
		Resource: location,
		Err:      err,
	}
}

// NewExecutionError reports a runtime mutation failure. The runtime may be
// in a mixed state afterwards.
func NewExecutionError(step Step, module string, err error) *EngineError {
	return NewPermanentError("execution failed", err).
		WithCode(ErrCodeExecution).
		WithOperation(string(step)).
		WithResource(module)
}

// NewNotFoundError reports a module or location that does not exist.
func NewNotFoundError(resource string) *EngineError {
	return NewPermanentError("not found", nil).
		WithCode(ErrCodeNotFound).
		WithResource(resource)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// HasCode reports whether err carries the given error code anywhere in its chain.
func HasCode(err error, code string) bool {
	var e *EngineError
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the code of the outermost EngineError in err, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPreMutation reports whether err was raised before the runtime was
// touched. Such failures guarantee the installed module set is unchanged.
func IsPreMutation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfiguration, ErrCodeFeatureNotFound, ErrCodeResolution,
		ErrCodeFetch, ErrCodePolicyDenied, ErrCodeValidation:
		return true
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"

	// Reconciliation taxonomy.
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeFeatureNotFound = "FEATURE_NOT_FOUND"
	ErrCodeResolution      = "RESOLUTION_ERROR"
	ErrCodeFetch           = "FETCH_ERROR"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodePolicyDenied    = "POLICY_DENIED"
)
