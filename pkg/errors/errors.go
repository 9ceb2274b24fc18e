package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures of the networking core. None of them is
// fatal; the code decides how the caller reacts.
type ErrorCode string

const (
	// ErrCodeSetup covers signaling and negotiation failures. The connection
	// is torn down and not retried.
	ErrCodeSetup ErrorCode = "SETUP"
	// ErrCodeSend is a failed send to one peer. The loop carries on.
	ErrCodeSend ErrorCode = "SEND"
	// ErrCodeDecode is a malformed inbound payload. The message is dropped.
	ErrCodeDecode ErrorCode = "DECODE"
	// ErrCodeStale flags input older than the staleness threshold.
	ErrCodeStale ErrorCode = "STALE"
	// ErrCodeConfig is an invalid configuration.
	ErrCodeConfig ErrorCode = "CONFIG"
	// ErrCodeUnavailable is a dependency that is not ready yet.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrCodeInternal    ErrorCode = "INTERNAL"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// LogFields flattens the error into zap key/value pairs.
func (e *AppError) LogFields() []interface{} {
	fields := []interface{}{"error_code", string(e.Code), "error", e.Error()}
	for k, v := range e.Context {
		fields = append(fields, k, v)
	}
	return fields
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func NewSetupError(op string, cause error) *AppError {
	return WrapError(cause, ErrCodeSetup, op)
}

func NewSendError(op string, cause error) *AppError {
	return WrapError(cause, ErrCodeSend, op)
}

func NewDecodeError(op string, cause error) *AppError {
	return WrapError(cause, ErrCodeDecode, op)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
