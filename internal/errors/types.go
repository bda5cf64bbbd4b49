// Package errors provides the structured error types shared by the
// compile-cache-serve pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeSourceNotFound  = "ERR_SOURCE_NOT_FOUND"
	ErrCodeCompileFailed   = "ERR_COMPILE_FAILED"
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeInvalidPath     = "ERR_INVALID_PATH"
	ErrCodePathTraversal   = "ERR_PATH_TRAVERSAL"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeCommandRejected = "ERR_COMMAND_REJECTED"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// ErrNotFound is matched with errors.Is by every not-found error produced by
// a source store.
var ErrNotFound = &FilterError{Type: ErrorTypeNotFound, Code: ErrCodeSourceNotFound}

// FilterError is a structured error type with context.
type FilterError struct {
	Type    ErrorType
	Code    string
	Message string
	Key     string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *FilterError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Key != "" {
		parts = append(parts, "source:"+e.Key)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FilterError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *FilterError) Is(target error) bool {
	var t *FilterError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FilterError) WithContext(key string, value interface{}) *FilterError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithKey attaches the source key the error refers to.
func (e *FilterError) WithKey(key string) *FilterError {
	e.Key = key

	return e
}

// NewNotFoundError reports a missing source resource.
func NewNotFoundError(key string, cause error) *FilterError {
	return &FilterError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeSourceNotFound,
		Message: "source not found",
		Key:     key,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FilterError {
	return &FilterError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *FilterError {
	return &FilterError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FilterError {
	return &FilterError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FilterError {
	return &FilterError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CompileError is returned when the compiler rejects a source. It is never
// cached: the next request after the source is fixed compiles again.
type CompileError struct {
	Key      string
	Message  string
	Location Location
	Cause    error
}

// Error matches the message format clients see in a 500 response.
func (e *CompileError) Error() string {
	if e.Key == "" {
		return "Compilation error: " + e.Message
	}
	return fmt.Sprintf("Compilation error on file: %s %s", e.Key, e.Message)
}

// Unwrap returns the underlying compiler error.
func (e *CompileError) Unwrap() error {
	return e.Cause
}

// NewCompileError wraps a compiler failure for the given source key.
func NewCompileError(key string, cause error) *CompileError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	loc, _ := ParseCompileMessage(msg)
	return &CompileError{Key: key, Message: msg, Location: loc, Cause: cause}
}

// IsNotFound checks if an error reports a missing source.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCompileError checks if an error is a compiler rejection.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// IsIOError checks if an error is I/O related.
func IsIOError(err error) bool {
	var fe *FilterError
	if errors.As(err, &fe) {
		return fe.Type == ErrorTypeIO
	}

	return false
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ce *CompileError
	if errors.As(err, &ce) {
		h.logger.Warn(ctx, err, "Compile error occurred",
			"source", ce.Key, "line", ce.Location.Line, "column", ce.Location.Column)
		return
	}

	var fe *FilterError
	if errors.As(err, &fe) {
		switch fe.Type {
		case ErrorTypeNotFound, ErrorTypeValidation:
			h.logger.Warn(ctx, err, "Request error occurred",
				"type", fe.Type,
				"code", fe.Code,
				"source", fe.Key)
		default:
			h.logger.Error(ctx, err, "Error occurred",
				"type", fe.Type,
				"code", fe.Code,
				"source", fe.Key)
		}
		return
	}

	h.logger.Error(ctx, err, "Unhandled error occurred")
}
