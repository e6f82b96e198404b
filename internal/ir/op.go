package ir

import "fmt"

// OpKind names a compute-node operation.
type OpKind string

// Op vocabulary.
const (
	OpParam        OpKind = "param"
	OpConst        OpKind = "const"
	OpBinop        OpKind = "binop"
	OpUnop         OpKind = "unop"
	OpCall         OpKind = "call"
	OpCallIndirect OpKind = "call_indirect"
	OpFuncRef      OpKind = "func_ref"
	OpBranch       OpKind = "branch"
	OpReturn       OpKind = "return"
	OpLoad         OpKind = "load"
	OpStore        OpKind = "store"

	// Contract kinds are advisory. They drive verification and property
	// testing only and never affect compilation.
	OpPrecondition  OpKind = "precondition"
	OpPostcondition OpKind = "postcondition"
	OpInvariant     OpKind = "invariant"
)

// ValidOpKinds lists every accepted op kind.
var ValidOpKinds = map[OpKind]bool{
	OpParam:         true,
	OpConst:         true,
	OpBinop:         true,
	OpUnop:          true,
	OpCall:          true,
	OpCallIndirect:  true,
	OpFuncRef:       true,
	OpBranch:        true,
	OpReturn:        true,
	OpLoad:          true,
	OpStore:         true,
	OpPrecondition:  true,
	OpPostcondition: true,
	OpInvariant:     true,
}

// AttrCallee is the attribute key holding a direct call's target FunctionID.
const AttrCallee = "callee"

// Op is a node's operation payload.
type Op struct {
	Kind  OpKind `json:"kind"`
	Attrs Object `json:"attrs,omitempty"`
}

// IsContract reports whether the op is an advisory contract node.
func (op Op) IsContract() bool {
	switch op.Kind {
	case OpPrecondition, OpPostcondition, OpInvariant:
		return true
	}
	return false
}

// Callee returns the target of a direct call. ok is false for any other
// op, including call_indirect, or when the callee attribute is missing or
// not an integer.
func (op Op) Callee() (FunctionID, bool) {
	if op.Kind != OpCall {
		return 0, false
	}
	v, ok := op.Attrs[AttrCallee].(Int)
	if !ok || v < 0 {
		return 0, false
	}
	return FunctionID(v), true
}

// Validate checks the op kind and, for direct calls, the callee attribute.
func (op Op) Validate() error {
	if !ValidOpKinds[op.Kind] {
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	if op.Kind == OpCall {
		if _, ok := op.Callee(); !ok {
			return fmt.Errorf("call op requires a non-negative integer %q attribute", AttrCallee)
		}
	}
	return nil
}

// Clone returns a deep copy of op.
func (op Op) Clone() Op {
	return Op{Kind: op.Kind, Attrs: op.Attrs.Clone()}
}

// Canonical returns the canonical bytes of op.
func (op Op) Canonical() ([]byte, error) {
	return MarshalCanonical(opObject(op))
}
