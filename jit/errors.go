package jit

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means no native code generator could be found.
	// It is fatal at startup.
	ErrBackendUnavailable = errors.New("jit backend unavailable")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("invalid jit configuration")
)

// CompileError is returned by a Backend that rejects a unit. It is absorbed
// into the unit's record and never reaches the caller of Runtime.Call.
type CompileError struct {
	Result CompileResult
	Op     string // offending instruction, if any
	Offset int    // its offset, or -1
	Err    error
}

// NewCompileError creates a CompileError not tied to an instruction.
func NewCompileError(result CompileResult, format string, args ...any) *CompileError {
	return &CompileError{Result: result, Offset: -1, Err: fmt.Errorf(format, args...)}
}

func (e *CompileError) Error() string {
	msg := e.Result.String()
	if e.Op != "" {
		msg += fmt.Sprintf(" at %s (offset %d)", e.Op, e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// resultOf maps a backend error to the result recorded for the unit.
func resultOf(err error) CompileResult {
	var ce *CompileError
	if errors.As(err, &ce) && ce.Result.IsFailure() {
		return ce.Result
	}
	return CompilationException
}
