// Package errors provides the unified error type and factory functions used by
// every layer of molgfn.  AppError is the single carrier for structured error
// information so that the CLI, the status API and the logs all report failures
// with the same code vocabulary.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Stack capture
// ─────────────────────────────────────────────────────────────────────────────

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call-stack string starting two frames above
// the caller (skipping captureStack itself and the factory function).
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// AppError
// ─────────────────────────────────────────────────────────────────────────────

// AppError is the structured error type used throughout molgfn.  It supports
// errors.Is / errors.As / errors.Unwrap across all layers.
//
// Usage:
//
//	return errors.New(errors.CodeUnsupportedDistribution, "unknown temperature distribution")
//	return errors.Wrap(err, errors.CodeOfflineDataLoad, "failed to read training graphs")
type AppError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is the primary human-readable description.
	Message string

	// Detail carries supplementary context (file names, shapes, values).
	Detail string

	// Cause is the underlying error, if any.
	Cause error

	// Stack is the call stack captured at construction.  It is not part of
	// Error() so that CLI output stays readable.
	Stack string
}

// Error implements the error interface.
// Format: "[<code>] <message>: <detail>: <cause>".  Empty segments are omitted.
func (e *AppError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a shallow copy of the receiver with Detail set.  It is
// safe to call on a nil pointer.
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithDetailf is WithDetail with fmt.Sprintf formatting.
func (e *AppError) WithDetailf(format string, args ...interface{}) *AppError {
	return e.WithDetail(fmt.Sprintf(format, args...))
}

// WithCause returns a shallow copy of the receiver with Cause set to err.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// Factories
// ─────────────────────────────────────────────────────────────────────────────

// New constructs a fresh AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf is New with fmt.Sprintf formatting of the message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError that wraps err.  A nil err yields nil so Wrap can
// be used inline.  When code is CodeUnknown and err already carries an
// AppError, the original code is preserved.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Inspection helpers
// ─────────────────────────────────────────────────────────────────────────────

// IsCode reports whether any error in err's chain is an *AppError with code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var ae *AppError
		if errors.As(err, &ae) {
			if ae.Code == code {
				return true
			}
			err = ae.Cause
			continue
		}
		return false
	}
	return false
}

// IsNotFound reports whether err's chain carries CodeNotFound.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// GetCode extracts the code of the first *AppError in err's chain.  A nil
// error yields CodeOK and a foreign error yields CodeUnknown.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name "errors" do not need a second import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// ─────────────────────────────────────────────────────────────────────────────
// Convenience factories
// ─────────────────────────────────────────────────────────────────────────────

// NotFound constructs a CodeNotFound AppError.
func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Stack: captureStack(1)}
}

// InvalidParam constructs a CodeInvalidParam AppError.
func InvalidParam(message string) *AppError {
	return &AppError{Code: CodeInvalidParam, Message: message, Stack: captureStack(1)}
}

// InvalidConfig constructs a CodeInvalidConfig AppError.  Configuration
// errors are raised at setup, before any trajectory is sampled.
func InvalidConfig(message string) *AppError {
	return &AppError{Code: CodeInvalidConfig, Message: message, Stack: captureStack(1)}
}

// Internal constructs a CodeInternal AppError.
func Internal(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Stack: captureStack(1)}
}

// Conflict constructs a CodeConflict AppError.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Stack: captureStack(1)}
}
