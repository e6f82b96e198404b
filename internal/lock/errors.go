package lock

import (
	"errors"
	"fmt"

	"github.com/roach88/weft/internal/ir"
)

// Error codes.
const (
	ErrCodeDenied       = "LOCK_DENIED"
	ErrCodeNotHeld      = "LOCK_NOT_HELD"
	ErrCodeNotTracked   = "LOCK_NOT_TRACKED"
	ErrCodeBatchFailure = "BATCH_PARTIAL_FAILURE"
)

// ErrNotTracked is returned by Release for a function with no lock state
// at all. It signals a caller bug rather than contention.
var ErrNotTracked = errors.New("no lock state tracked for function")

// DeniedError reports a lock held by another agent.
//
// Recoverable: the caller retries later. QueuePosition is the requester's
// 1-based position among the function's waiters.
type DeniedError struct {
	FunctionID    ir.FunctionID `json:"function_id"`
	Requester     ir.AgentID    `json:"requester"`
	Requested     Mode          `json:"requested"`
	Holder        ir.AgentID    `json:"holder"`
	HolderMode    Mode          `json:"holder_mode"`
	Description   string        `json:"description,omitempty"`
	QueuePosition int           `json:"queue_position"`
}

func (e *DeniedError) Error() string {
	msg := fmt.Sprintf("%s lock on %s denied to %s: %s-locked by %s",
		e.Requested, e.FunctionID, e.Requester, e.HolderMode, e.Holder)
	if e.Description != "" {
		msg += fmt.Sprintf(" (%s)", e.Description)
	}
	return msg + fmt.Sprintf(", queue position %d", e.QueuePosition)
}

// Code returns the stable error code.
func (e *DeniedError) Code() string { return ErrCodeDenied }

// NotHeldError reports a release or verification by an agent that does not
// hold the required lock.
type NotHeldError struct {
	FunctionID ir.FunctionID `json:"function_id"`
	Agent      ir.AgentID    `json:"agent"`
	Required   Mode          `json:"required"`
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("%s does not hold a %s lock on %s", e.Agent, e.Required, e.FunctionID)
}

// Code returns the stable error code.
func (e *NotHeldError) Code() string { return ErrCodeNotHeld }

// BatchError reports a failed batch acquisition. Every lock the batch took
// has been rolled back before the error is returned.
type BatchError struct {
	Agent      ir.AgentID      `json:"agent"`
	Failed     ir.FunctionID   `json:"failed"`
	RolledBack []ir.FunctionID `json:"rolled_back"`
	Cause      error           `json:"-"`
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch write lock for %s failed at %s (%d rolled back): %v",
		e.Agent, e.Failed, len(e.RolledBack), e.Cause)
}

// Code returns the stable error code.
func (e *BatchError) Code() string { return ErrCodeBatchFailure }

func (e *BatchError) Unwrap() error { return e.Cause }

// IsDenied reports whether err is or wraps a *DeniedError.
func IsDenied(err error) bool {
	var e *DeniedError
	return errors.As(err, &e)
}

// IsNotHeld reports whether err is or wraps a *NotHeldError.
func IsNotHeld(err error) bool {
	var e *NotHeldError
	return errors.As(err, &e)
}

// IsBatchFailure reports whether err is or wraps a *BatchError.
func IsBatchFailure(err error) bool {
	var e *BatchError
	return errors.As(err, &e)
}

// AsDenied extracts the denial from err, looking through a BatchError.
func AsDenied(err error) (*DeniedError, bool) {
	var e *DeniedError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
