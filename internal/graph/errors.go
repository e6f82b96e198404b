package graph

import (
	"errors"
	"fmt"

	"github.com/roach88/weft/internal/ir"
)

// Error codes.
const (
	ErrCodeFunctionNotFound = "FUNCTION_NOT_FOUND"
	ErrCodeNodeNotFound     = "NODE_NOT_FOUND"
	ErrCodeInvalidMutation  = "INVALID_MUTATION"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrFunctionNotFound = errors.New("function not found")
	ErrNodeNotFound     = errors.New("node not found")
)

// FunctionNotFoundError reports a FunctionID absent from the live graph.
type FunctionNotFoundError struct {
	ID ir.FunctionID
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function %s not found", e.ID)
}

// Code returns the stable error code.
func (e *FunctionNotFoundError) Code() string { return ErrCodeFunctionNotFound }

// Is makes errors.Is(err, ErrFunctionNotFound) hold.
func (e *FunctionNotFoundError) Is(target error) bool { return target == ErrFunctionNotFound }

// NodeNotFoundError reports a NodeID absent from the live graph, including
// a dangling edge target.
type NodeNotFoundError struct {
	ID ir.NodeID
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s not found", e.ID)
}

// Code returns the stable error code.
func (e *NodeNotFoundError) Code() string { return ErrCodeNodeNotFound }

// Is makes errors.Is(err, ErrNodeNotFound) hold.
func (e *NodeNotFoundError) Is(target error) bool { return target == ErrNodeNotFound }

// MutationError reports a mutation rejected during batch validation.
// Index is the mutation's position in the batch.
type MutationError struct {
	Index   int
	Kind    string
	Message string
	Cause   error
}

func (e *MutationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mutation %d (%s): %s: %v", e.Index, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("mutation %d (%s): %s", e.Index, e.Kind, e.Message)
}

// Code returns the stable error code.
func (e *MutationError) Code() string { return ErrCodeInvalidMutation }

func (e *MutationError) Unwrap() error { return e.Cause }

// IsFunctionNotFound reports whether err is or wraps a FunctionNotFoundError.
func IsFunctionNotFound(err error) bool {
	return errors.Is(err, ErrFunctionNotFound)
}

// IsNodeNotFound reports whether err is or wraps a NodeNotFoundError.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}
