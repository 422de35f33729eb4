// internal/errors/errors.go
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeError       ErrorType = "processing_error"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeAgent       ErrorType = "agent_error"
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// AppError is the error type services hand to the API layer.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // stable code surfaced to clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewAgentError reports a failure of the external generative agent: transport
// errors, refusals, or replies that could not be decoded at all.
func NewAgentError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeAgent, message, originalError)
}

// NewUnavailableError reports that a dependency, usually the LLM provider, is not configured.
func NewUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnavailable, message, originalError)
}

// TypeOf returns the type of the outermost AppError in err's chain, or "" if there is none.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

func IsConflictError(err error) bool {
	return TypeOf(err) == ErrorTypeConflict
}

func IsAgentError(err error) bool {
	return TypeOf(err) == ErrorTypeAgent
}

func IsUnavailableError(err error) bool {
	return TypeOf(err) == ErrorTypeUnavailable
}

// IsTimeoutError also matches a bare context deadline.
func IsTimeoutError(err error) bool {
	return TypeOf(err) == ErrorTypeTimeout || errors.Is(err, context.DeadlineExceeded)
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeAgent:
		return "AGENT_ERROR"
	case ErrorTypeUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError adds context to err. An existing AppError keeps its type and code.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
