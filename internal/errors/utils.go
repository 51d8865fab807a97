package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a LivedocError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *LivedocError {
	if err == nil {
		return nil
	}

	var le *LivedocError
	if errors.As(err, &le) {
		return &LivedocError{
			Type:    errType,
			Code:    code,
			Message: message,
			Path:    le.Path,
			Cause:   le,
			Context: le.Context,
		}
	}

	return &LivedocError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *LivedocError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WrapRender wraps an error raised by the render pipeline
func WrapRender(err error, message string) *LivedocError {
	return Wrap(err, ErrorTypeRender, ErrCodeRenderFailed, message)
}

// WrapProtocol wraps a decode failure as a protocol error
func WrapProtocol(err error, code, message string) *LivedocError {
	return Wrap(err, ErrorTypeProtocol, code, message)
}

// AsLivedoc returns the first LivedocError in err's chain.
func AsLivedoc(err error) (*LivedocError, bool) {
	var le *LivedocError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// GetErrorContext extracts context information from a LivedocError
func GetErrorContext(err error) map[string]interface{} {
	var le *LivedocError
	if errors.As(err, &le) {
		context := make(map[string]interface{})
		for k, v := range le.Context {
			context[k] = v
		}
		if le.Path != "" {
			context["path"] = le.Path
		}
		context["type"] = string(le.Type)
		context["code"] = le.Code
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	nonNilErrs := CollectErrors(errs...)
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	var messages []string
	for _, err := range nonNilErrs {
		messages = append(messages, err.Error())
	}

	return &LivedocError{
		Type:    ErrorTypeInternal,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNilErrs)),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
			"errors":      messages,
		},
	}
}
