// Package errors defines the error taxonomy shared by the live editing
// subsystem. Every failure that crosses a boundary handler (HTTP request,
// websocket frame, background sweep) is a *LivedocError so the boundary can
// decide between rejecting the caller, dropping a frame, or logging.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodePathNotAllowed = "ERR_PATH_NOT_ALLOWED"
	ErrCodeMissingField   = "ERR_MISSING_FIELD"
	ErrCodeNotOpen        = "ERR_NOT_OPEN"
	ErrCodeRoomNotFound   = "ERR_ROOM_NOT_FOUND"
	ErrCodeUserNotFound   = "ERR_USER_NOT_FOUND"
	ErrCodeMalformedFrame = "ERR_MALFORMED_FRAME"
	ErrCodeUnknownFrame   = "ERR_UNKNOWN_FRAME"
	ErrCodeInvalidUpdate  = "ERR_INVALID_UPDATE"
	ErrCodeReadFailed     = "ERR_READ_FAILED"
	ErrCodeWriteFailed    = "ERR_WRITE_FAILED"
	ErrCodeRenderFailed   = "ERR_RENDER_FAILED"
	ErrCodeRoomClosed     = "ERR_ROOM_CLOSED"
	ErrCodeInternalError  = "ERR_INTERNAL"
)

// LivedocError is a structured error type with context.
type LivedocError struct {
	Type    ErrorType
	Code    string
	Message string
	Path    string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *LivedocError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *LivedocError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a LivedocError with the same type and code.
func (e *LivedocError) Is(target error) bool {
	var t *LivedocError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *LivedocError) WithContext(key string, value interface{}) *LivedocError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the resource path the error relates to.
func (e *LivedocError) WithPath(path string) *LivedocError {
	e.Path = path

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *LivedocError {
	return &LivedocError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *LivedocError {
	return &LivedocError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

// NewProtocolError creates a protocol error for a malformed or unknown frame.
func NewProtocolError(code, message string, cause error) *LivedocError {
	return &LivedocError{Type: ErrorTypeProtocol, Code: code, Message: message, Cause: cause}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *LivedocError {
	return &LivedocError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewRenderError creates a render pipeline error.
func NewRenderError(message string, cause error) *LivedocError {
	return &LivedocError{Type: ErrorTypeRender, Code: ErrCodeRenderFailed, Message: message, Cause: cause}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *LivedocError {
	return &LivedocError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// Helper functions for common errors

// ErrPathNotAllowed reports a path that escapes the configured content roots.
func ErrPathNotAllowed(path string) *LivedocError {
	return NewValidationError(ErrCodePathNotAllowed, "path is outside the content roots").WithPath(path)
}

// ErrMissingField reports a request missing a required field.
func ErrMissingField(field string) *LivedocError {
	return NewValidationError(ErrCodeMissingField, "missing required field: "+field).
		WithContext("field", field)
}

// ErrNotOpen reports an operation on a document that is not open.
func ErrNotOpen(path string) *LivedocError {
	return NewNotFoundError(ErrCodeNotOpen, "document is not open").WithPath(path)
}

// ErrRoomNotFound reports a join against a room that was never created.
func ErrRoomNotFound(path string) *LivedocError {
	return NewNotFoundError(ErrCodeRoomNotFound, "room not found").WithPath(path)
}

// ErrRoomClosed reports a join against a room that is shutting down.
func ErrRoomClosed(path string) *LivedocError {
	return NewValidationError(ErrCodeRoomClosed, "room is closing").WithPath(path)
}

// ErrUserNotFound reports a presence operation on an unknown user.
func ErrUserNotFound(userID string) *LivedocError {
	return NewNotFoundError(ErrCodeUserNotFound, "user not found: "+userID)
}

func errorType(err error) (ErrorType, bool) {
	var le *LivedocError
	if errors.As(err, &le) {
		return le.Type, true
	}
	return "", false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeValidation
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeNotFound
}

// IsProtocol checks if an error is a protocol error.
func IsProtocol(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeProtocol
}

// IsIO checks if an error is an I/O error.
func IsIO(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeIO
}

// IsRender checks if an error came from the render pipeline.
func IsRender(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeRender
}

// HTTPStatus maps an error to the status code a boundary handler responds with.
func HTTPStatus(err error) int {
	t, ok := errorType(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch t {
	case ErrorTypeValidation:
		if code := Code(err); code == ErrCodePathNotAllowed {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProtocol:
		return http.StatusBadRequest
	case ErrorTypeRender:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the error code of a LivedocError, or ErrCodeInternalError.
func Code(err error) string {
	var le *LivedocError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternalError
}
