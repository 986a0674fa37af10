package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of scribe failure.
type ErrorCode string

const (
	ErrDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE" // 503
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION" // 409
	ErrUploadFailure     ErrorCode = "UPLOAD_FAILURE"     // 502
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"       // 401
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// ScribeError is a structured error with a code, an HTTP status and details.
type ScribeError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *ScribeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScribeError) Unwrap() error { return e.Cause }

// NewDeviceUnavailable reports that no input stream could be obtained.
func NewDeviceUnavailable(cause error) *ScribeError {
	return &ScribeError{
		Code:    ErrDeviceUnavailable,
		Status:  503,
		Message: "audio input device unavailable",
		Cause:   cause,
	}
}

// NewInvalidTransition reports a lifecycle operation issued from the wrong state.
func NewInvalidTransition(op, from string) *ScribeError {
	return &ScribeError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("cannot %s while %s", op, from),
		Details: map[string]any{"operation": op, "state": from},
	}
}

// NewUploadFailure reports a transport or backend error during handoff.
// status is 0 when no HTTP response was received.
func NewUploadFailure(status int, body string, cause error) *ScribeError {
	msg := "transcription upload failed"
	if status > 0 {
		msg = fmt.Sprintf("transcription upload failed with HTTP %d", status)
	}
	details := map[string]any{}
	if status > 0 {
		details["status"] = status
	}
	if body != "" {
		details["body"] = body
	}
	return &ScribeError{
		Code:    ErrUploadFailure,
		Status:  502,
		Message: msg,
		Details: details,
		Cause:   cause,
	}
}

// NewUnauthorized reports a missing or expired access token.
func NewUnauthorized(msg string) *ScribeError {
	return &ScribeError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound reports an unknown recording or session.
func NewNotFound(kind, identifier string) *ScribeError {
	return &ScribeError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInvalidRequest reports bad caller input.
func NewInvalidRequest(msg string) *ScribeError {
	return &ScribeError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInternal wraps an unexpected error.
func NewInternal(err error) *ScribeError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ScribeError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// As returns the first ScribeError in err's chain.
func As(err error) (*ScribeError, bool) {
	var sErr *ScribeError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}

// Is checks whether err, or anything it wraps, is a ScribeError with code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := As(err); ok {
		return sErr.Code == code
	}
	return false
}

// StatusOf maps err to an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	if sErr, ok := As(err); ok && sErr.Status != 0 {
		return sErr.Status
	}
	return 500
}
