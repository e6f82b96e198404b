package ir

// ProgramSpec is a compiled program definition: modules and functions
// addressed by name. The graph assigns identifiers when it loads a spec.
type ProgramSpec struct {
	Modules   []ModuleSpec   `json:"modules"`
	Functions []FunctionSpec `json:"functions"`
}

// ModuleSpec declares a module.
type ModuleSpec struct {
	Name string `json:"name"`
}

// FunctionSpec declares a function body.
type FunctionSpec struct {
	Name       string     `json:"name"`
	Module     string     `json:"module"`
	Visibility Visibility `json:"visibility"`
	Nodes      []NodeSpec `json:"nodes"`
	Edges      []EdgeSpec `json:"edges,omitempty"`
}

// NodeSpec declares a node. Callee names the target function of a call op
// and is resolved to AttrCallee when the program is loaded.
type NodeSpec struct {
	Name   string `json:"name"`
	Kind   OpKind `json:"kind"`
	Attrs  Object `json:"attrs,omitempty"`
	Callee string `json:"callee,omitempty"`
}

// EdgeSpec declares an edge from a node of the enclosing function. To names
// a node of the same function, or "function.node" for a node elsewhere.
type EdgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
	Edge Edge   `json:"edge"`
}

// Function returns the function named name.
func (p *ProgramSpec) Function(name string) (*FunctionSpec, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return &p.Functions[i], true
		}
	}
	return nil, false
}
