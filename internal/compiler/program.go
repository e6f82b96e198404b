// Package compiler turns CUE program definitions into ir.ProgramSpec.
//
// A program file looks like:
//
//	module: main: {}
//
//	function: add_one: {
//		module:     "main"
//		visibility: "public"
//		node: {
//			x:   {op: "param", attrs: {index: 0}}
//			k:   {op: "const", attrs: {value: 1, type: "i64"}}
//			sum: {op: "binop", attrs: {op: "add"}}
//			ret: {op: "return"}
//		}
//		edge: [
//			{from: "x", to: "sum", kind: "data", target_port: 0, type: "i64"},
//			{from: "k", to: "sum", kind: "data", target_port: 1, type: "i64"},
//			{from: "sum", to: "ret", kind: "data", type: "i64"},
//		]
//	}
//
// Direct calls name their target with callee: "other_fn". Edge targets in
// another function are written "function.node".
package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/weft/internal/ir"
)

// CompileProgram compiles a whole program value. It stops at the first
// error; callers wanting every error compile functions one at a time with
// CompileFunction.
func CompileProgram(v cue.Value) (*ir.ProgramSpec, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	modules, err := CompileModules(v)
	if err != nil {
		return nil, err
	}
	prog := &ir.ProgramSpec{Modules: modules}

	fnVal := v.LookupPath(cue.ParsePath("function"))
	if !fnVal.Exists() {
		return prog, nil
	}
	iter, err := fnVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		fn, err := CompileFunction(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		prog.Functions = append(prog.Functions, *fn)
	}
	return prog, nil
}

// CompileModules reads the module declarations of a program value, sorted
// by name.
func CompileModules(v cue.Value) ([]ir.ModuleSpec, error) {
	modVal := v.LookupPath(cue.ParsePath("module"))
	if !modVal.Exists() {
		return nil, nil
	}
	iter, err := modVal.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   "module",
			Message: "module must be a struct keyed by module name",
			Pos:     modVal.Pos(),
		}
	}
	var modules []ir.ModuleSpec
	for iter.Next() {
		modules = append(modules, ir.ModuleSpec{Name: iter.Label()})
	}
	slices.SortFunc(modules, func(a, b ir.ModuleSpec) int { return cmp.Compare(a.Name, b.Name) })
	return modules, nil
}

// CompileFunction compiles one function definition.
func CompileFunction(name string, v cue.Value) (*ir.FunctionSpec, error) {
	field := "function." + name
	fn := &ir.FunctionSpec{Name: name}

	mod, err := requiredString(v, "module", field)
	if err != nil {
		return nil, err
	}
	fn.Module = mod

	visVal := v.LookupPath(cue.ParsePath("visibility"))
	if visVal.Exists() {
		s, err := visVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch vis := ir.Visibility(s); vis {
		case ir.VisibilityPublic, ir.VisibilityPrivate:
			fn.Visibility = vis
		default:
			return nil, &CompileError{
				Field:   field + ".visibility",
				Message: fmt.Sprintf("visibility must be %q or %q, got %q", ir.VisibilityPublic, ir.VisibilityPrivate, s),
				Pos:     visVal.Pos(),
			}
		}
	} else {
		fn.Visibility = ir.VisibilityPrivate
	}

	nodes, err := parseNodes(v.LookupPath(cue.ParsePath("node")), field)
	if err != nil {
		return nil, err
	}
	fn.Nodes = nodes

	edges, err := parseEdges(v.LookupPath(cue.ParsePath("edge")), field)
	if err != nil {
		return nil, err
	}
	fn.Edges = edges

	return fn, nil
}

func parseNodes(v cue.Value, field string) ([]ir.NodeSpec, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var nodes []ir.NodeSpec
	for iter.Next() {
		nodeField := field + ".node." + iter.Label()
		nv := iter.Value()

		op, err := requiredString(nv, "op", nodeField)
		if err != nil {
			return nil, err
		}
		ns := ir.NodeSpec{Name: iter.Label(), Kind: ir.OpKind(op)}

		if attrVal := nv.LookupPath(cue.ParsePath("attrs")); attrVal.Exists() {
			var raw map[string]any
			if err := attrVal.Decode(&raw); err != nil {
				return nil, formatCUEError(err)
			}
			if len(raw) > 0 {
				obj, err := ir.ToValue(raw)
				if err != nil {
					return nil, &CompileError{
						Field:   nodeField + ".attrs",
						Message: err.Error(),
						Pos:     attrVal.Pos(),
					}
				}
				ns.Attrs = obj.(ir.Object)
			}
		}

		if calleeVal := nv.LookupPath(cue.ParsePath("callee")); calleeVal.Exists() {
			callee, err := calleeVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			ns.Callee = callee
		}

		nodes = append(nodes, ns)
	}
	return nodes, nil
}

func parseEdges(v cue.Value, field string) ([]ir.EdgeSpec, error) {
	if !v.Exists() {
		return nil, nil
	}
	list, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field + ".edge",
			Message: "edge must be a list",
			Pos:     v.Pos(),
		}
	}

	var edges []ir.EdgeSpec
	for i := 0; list.Next(); i++ {
		ev := list.Value()
		edgeField := fmt.Sprintf("%s.edge[%d]", field, i)

		from, err := requiredString(ev, "from", edgeField)
		if err != nil {
			return nil, err
		}
		to, err := requiredString(ev, "to", edgeField)
		if err != nil {
			return nil, err
		}
		kind, err := requiredString(ev, "kind", edgeField)
		if err != nil {
			return nil, err
		}

		edge := ir.Edge{Kind: ir.EdgeKind(kind), Branch: ir.NoBranch}
		if edge.SourcePort, err = optionalInt(ev, "source_port", 0); err != nil {
			return nil, err
		}
		if edge.TargetPort, err = optionalInt(ev, "target_port", 0); err != nil {
			return nil, err
		}
		if edge.Branch, err = optionalInt(ev, "branch", ir.NoBranch); err != nil {
			return nil, err
		}
		if tv := ev.LookupPath(cue.ParsePath("type")); tv.Exists() {
			if edge.ValueType, err = tv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		edges = append(edges, ir.EdgeSpec{From: from, To: to, Edge: edge})
	}
	return edges, nil
}

func requiredString(v cue.Value, name, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field + "." + name,
			Message: name + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, name string, def int) (int, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return def, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

// CompileError is a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
