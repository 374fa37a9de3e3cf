// Package errors provides structured error handling for sqlstream
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors, fatal at startup
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeCorruptState represents an unreadable watermark file, fatal at startup
	ErrorTypeCorruptState ErrorType = "corrupt_state"
	// ErrorTypeConnection represents connectivity errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeExtraction represents a failed extraction of a single table
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeTableInit represents a table that could not be initialized
	ErrorTypeTableInit ErrorType = "table_init"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeFormat represents record formatting errors
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeOversized represents a record above the sink's per-record limit
	ErrorTypeOversized ErrorType = "oversized_record"
	// ErrorTypeRateLimit represents throttled requests
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeDelivery represents records the sink did not accept
	ErrorTypeDelivery ErrorType = "delivery"
)

// DetailStage is the detail key marking where an error happened.
const DetailStage = "stage"

// StageStartup marks errors raised while the process is starting.
const StageStartup = "startup"

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value set on this error or any wrapped *Error
func (e *Error) Detail(key string) (interface{}, bool) {
	var err error = e
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return nil, false
		}
		if v, ok := se.Details[key]; ok {
			return v, true
		}
		err = se.Cause
	}
	return nil, false
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeConnection, ErrorTypeDelivery:
		return true
	default:
		return false
	}
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsFatal reports whether the error must terminate the process: configuration
// errors, corrupt watermark state and failed startup connectivity checks.
func IsFatal(err error) bool {
	if IsType(err, ErrorTypeConfig) && !IsType(err, ErrorTypeTableInit) {
		return true
	}
	if IsType(err, ErrorTypeCorruptState) {
		return true
	}
	var e *Error
	if IsType(err, ErrorTypeConnection) && errors.As(err, &e) {
		if stage, ok := e.Detail(DetailStage); ok && stage == StageStartup {
			return true
		}
	}
	return false
}

// TypeOf returns the outermost structured error type, or ErrorTypeInternal
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is and As are re-exported so callers need a single errors import
var (
	Is = errors.Is
	As = errors.As
)

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
