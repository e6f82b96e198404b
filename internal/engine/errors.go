package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
)

// ErrorKind categorizes engine errors.
type ErrorKind string

const (
	// ErrCodeEmptyCommit indicates a commit with no mutations.
	ErrCodeEmptyCommit ErrorKind = "EMPTY_COMMIT"

	// ErrCodeStructuralLock indicates the structural lock could not be
	// taken before the request's context ended.
	ErrCodeStructuralLock ErrorKind = "STRUCTURAL_LOCK_UNAVAILABLE"

	// ErrCodeBuildFailed indicates the builder rejected a function.
	ErrCodeBuildFailed ErrorKind = "BUILD_FAILED"
)

// Error is an engine-level failure with structured context.
//
// Errors from the core packages (lock denials, hash conflicts, unknown
// functions, invalid mutations) pass through unwrapped by kind; Error only
// covers failures the engine itself detects.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Agent is the requesting agent, if any.
	Agent ir.AgentID

	// Function is the function being processed (for build errors).
	Function ir.FunctionID

	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Agent != "" {
		msg += fmt.Sprintf(" (agent=%s)", e.Agent)
	}
	if e.Function != 0 {
		msg += fmt.Sprintf(" (function=%s)", e.Function)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Code returns the stable error code.
func (e *Error) Code() string { return string(e.Kind) }

func (e *Error) Unwrap() error { return e.Cause }

// IsBuildError reports whether err is a build failure.
// Uses errors.As to handle wrapped errors.
func IsBuildError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrCodeBuildFailed
	}
	return false
}

// coded is implemented by every error type in weft that carries a stable
// code.
type coded interface {
	Code() string
}

// ErrorCode returns the stable code of the outermost coded error in err's
// chain, or "" when none carries one.
func ErrorCode(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	if errors.Is(err, lock.ErrNotTracked) {
		return lock.ErrCodeNotTracked
	}
	return ""
}

// NewBuildError creates an Error for a failed compile or verify step.
func NewBuildError(fid ir.FunctionID, step string, cause error) *Error {
	return &Error{
		Kind:     ErrCodeBuildFailed,
		Message:  step + " failed",
		Function: fid,
		Cause:    cause,
	}
}
