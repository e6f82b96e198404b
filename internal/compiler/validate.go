package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/weft/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrEmptyName         = "E101" // module, function or node name is empty
	ErrInvalidName       = "E102" // name contains '.'
	ErrDuplicateName     = "E103" // duplicate module, function or node name
	ErrUnknownModule     = "E104" // function names an undeclared module
	ErrUnknownOpKind     = "E105" // op kind outside the vocabulary
	ErrDanglingCallee    = "E106" // call names a function that does not exist
	ErrMissingCallee     = "E107" // call op without callee
	ErrUnexpectedCallee  = "E108" // callee on a non-call op
	ErrUnknownEdgeSource = "E109" // edge from a node the function lacks
	ErrUnknownEdgeTarget = "E110" // edge to a node nobody declares
	ErrInvalidEdge       = "E111" // bad edge kind or branch
	ErrDuplicateEdge     = "E112" // same edge declared twice
)

// ValidationError represents a program validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateProgram checks a compiled program for structural problems that
// would stop it from loading into a graph. It returns every error found.
func ValidateProgram(prog *ir.ProgramSpec) []ValidationError {
	var errs []ValidationError

	modules := make(map[string]bool, len(prog.Modules))
	for i, mod := range prog.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		errs = append(errs, validateName(mod.Name, field, "module")...)
		if modules[mod.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate module name: %q", mod.Name),
				Code:    ErrDuplicateName,
			})
		}
		modules[mod.Name] = true
	}

	functions := make(map[string]*ir.FunctionSpec, len(prog.Functions))
	for i := range prog.Functions {
		fn := &prog.Functions[i]
		field := "function." + fn.Name
		errs = append(errs, validateName(fn.Name, field, "function")...)
		if _, dup := functions[fn.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate function name: %q", fn.Name),
				Code:    ErrDuplicateName,
			})
			continue
		}
		functions[fn.Name] = fn
	}

	for i := range prog.Functions {
		errs = append(errs, validateFunction(&prog.Functions[i], modules, functions)...)
	}
	return errs
}

func validateFunction(fn *ir.FunctionSpec, modules map[string]bool, functions map[string]*ir.FunctionSpec) []ValidationError {
	var errs []ValidationError
	field := "function." + fn.Name

	if !modules[fn.Module] {
		errs = append(errs, ValidationError{
			Field:   field + ".module",
			Message: fmt.Sprintf("unknown module %q", fn.Module),
			Code:    ErrUnknownModule,
		})
	}

	nodes := make(map[string]bool, len(fn.Nodes))
	for _, ns := range fn.Nodes {
		nodeField := field + ".node." + ns.Name
		errs = append(errs, validateName(ns.Name, nodeField, "node")...)
		if nodes[ns.Name] {
			errs = append(errs, ValidationError{
				Field:   nodeField,
				Message: fmt.Sprintf("duplicate node name: %q", ns.Name),
				Code:    ErrDuplicateName,
			})
		}
		nodes[ns.Name] = true

		if !ir.ValidOpKinds[ns.Kind] {
			errs = append(errs, ValidationError{
				Field:   nodeField + ".op",
				Message: fmt.Sprintf("unknown op kind %q", ns.Kind),
				Code:    ErrUnknownOpKind,
			})
		}

		switch {
		case ns.Kind == ir.OpCall && ns.Callee == "":
			errs = append(errs, ValidationError{
				Field:   nodeField + ".callee",
				Message: "call op requires a callee",
				Code:    ErrMissingCallee,
			})
		case ns.Kind != ir.OpCall && ns.Callee != "":
			errs = append(errs, ValidationError{
				Field:   nodeField + ".callee",
				Message: fmt.Sprintf("callee is only allowed on %q ops, not %q", ir.OpCall, ns.Kind),
				Code:    ErrUnexpectedCallee,
			})
		case ns.Callee != "":
			if _, ok := functions[ns.Callee]; !ok {
				errs = append(errs, ValidationError{
					Field:   nodeField + ".callee",
					Message: fmt.Sprintf("callee %q is not a function of this program", ns.Callee),
					Code:    ErrDanglingCallee,
				})
			}
		}
	}

	seen := make(map[ir.EdgeSpec]bool, len(fn.Edges))
	for i, es := range fn.Edges {
		edgeField := fmt.Sprintf("%s.edge[%d]", field, i)

		if !nodes[es.From] {
			errs = append(errs, ValidationError{
				Field:   edgeField + ".from",
				Message: fmt.Sprintf("unknown node %q", es.From),
				Code:    ErrUnknownEdgeSource,
			})
		}
		if !edgeTargetExists(fn, es.To, nodes, functions) {
			errs = append(errs, ValidationError{
				Field:   edgeField + ".to",
				Message: fmt.Sprintf("unknown node %q", es.To),
				Code:    ErrUnknownEdgeTarget,
			})
		}
		if err := es.Edge.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Field:   edgeField,
				Message: err.Error(),
				Code:    ErrInvalidEdge,
			})
		}
		if seen[es] {
			errs = append(errs, ValidationError{
				Field:   edgeField,
				Message: fmt.Sprintf("edge %s -> %s declared more than once", es.From, es.To),
				Code:    ErrDuplicateEdge,
			})
		}
		seen[es] = true
	}
	return errs
}

func edgeTargetExists(fn *ir.FunctionSpec, to string, local map[string]bool, functions map[string]*ir.FunctionSpec) bool {
	fnName, nodeName, qualified := strings.Cut(to, ".")
	if !qualified {
		return local[to]
	}
	if fnName == fn.Name {
		return local[nodeName]
	}
	other, ok := functions[fnName]
	if !ok {
		return false
	}
	for _, ns := range other.Nodes {
		if ns.Name == nodeName {
			return true
		}
	}
	return false
}

func validateName(name, field, what string) []ValidationError {
	if strings.TrimSpace(name) == "" {
		return []ValidationError{{
			Field:   field,
			Message: what + " name must be non-empty",
			Code:    ErrEmptyName,
		}}
	}
	if strings.Contains(name, ".") {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("%s name %q must not contain '.'", what, name),
			Code:    ErrInvalidName,
		}}
	}
	return nil
}
