// Package errors provides structured error types for the compilation
// pipeline with stage context, machine-readable codes, and the
// Aborted-versus-Failed outcome distinction consumers rely on for
// exit codes and retry policy.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes pipeline errors.
type ErrorType string

const (
	// ErrorTypeAborted marks policy violations: a handler cancel flag or a
	// Critical validation finding. Never retried automatically.
	ErrorTypeAborted ErrorType = "aborted"
	// ErrorTypeValidation marks non-fatal validation problems.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeIO marks filesystem and lock infrastructure failures.
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeCompile marks failures of the external compiler collaborator.
	ErrorTypeCompile ErrorType = "compile"
	// ErrorTypeConfig marks workload configuration problems.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal marks bugs and invariant violations.
	ErrorTypeInternal ErrorType = "internal"
)

// PipelineError is a structured error carrying stage and code context.
type PipelineError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Stage   string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Stage != "" {
		parts = append(parts, "stage:"+e.Stage)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so callers can compare against sentinel
// constructors with errors.Is.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithStage attaches the pipeline stage the error surfaced in.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithContext adds a key/value pair of diagnostic context.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Error creation functions

// NewAborted creates a policy-violation error.
func NewAborted(code, message string) *PipelineError {
	return &PipelineError{Type: ErrorTypeAborted, Code: code, Message: message}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PipelineError {
	return &PipelineError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewIOError creates an I/O infrastructure error.
func NewIOError(code, message string, cause error) *PipelineError {
	return &PipelineError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewCompileError creates an external-compiler failure error.
func NewCompileError(code, message string, cause error) *PipelineError {
	return &PipelineError{Type: ErrorTypeCompile, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PipelineError {
	return &PipelineError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// IsAborted reports whether err represents a policy abort rather than an
// infrastructure failure.
func IsAborted(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeAborted
	}
	return false
}

// Stage extracts the stage name from a structured error, or "".
func Stage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// Common error codes.
const (
	ErrCodeCancelled        = "ERR_CANCELLED"
	ErrCodeCriticalFinding  = "ERR_CRITICAL_FINDING"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeSourceNotFound   = "ERR_SOURCE_NOT_FOUND"
	ErrCodeSourceRead       = "ERR_SOURCE_READ"
	ErrCodeLockTimeout      = "ERR_LOCK_TIMEOUT"
	ErrCodeLockIntegrity    = "ERR_LOCK_INTEGRITY"
	ErrCodeChunksFailed     = "ERR_CHUNKS_FAILED"
	ErrCodeCompilerNotFound = "ERR_COMPILER_NOT_FOUND"
	ErrCodeCompileFailed    = "ERR_COMPILE_FAILED"
	ErrCodeCompileTimeout   = "ERR_COMPILE_TIMEOUT"
	ErrCodeOutputMissing    = "ERR_OUTPUT_MISSING"
	ErrCodeOutputWrite      = "ERR_OUTPUT_WRITE"
	ErrCodeInternal         = "ERR_INTERNAL"
)
