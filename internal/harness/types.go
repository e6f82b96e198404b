package harness

import "github.com/roach88/weft/internal/ir"

// Outcome of a step that succeeded.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
// Function lists are names, sorted, so traces read the same across runs.
type TraceEvent struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Agent   string `json:"agent,omitempty"`
	Outcome string `json:"outcome"` // "ok" or the error code

	// Functions is the step's primary function list: the granted, released,
	// renewed or reclaimed functions, the functions a commit touched, or
	// the functions a build compiled.
	Functions []string `json:"functions,omitempty"`

	Holder    string   `json:"holder,omitempty"`
	Position  int      `json:"position,omitempty"`
	Seq       int64    `json:"seq,omitempty"`
	Recompile []string `json:"recompile,omitempty"`
	Scope     []string `json:"scope,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// canonical renders the event for golden traces. Zero scalars are left
// out; a nil name list is left out but an empty one is kept, since "granted
// nothing" and "not applicable" differ.
func (ev TraceEvent) canonical() ir.Object {
	obj := ir.Obj(
		ir.P("step", ir.Int(ev.Step)),
		ir.P("action", ir.Str(ev.Action)),
		ir.P("outcome", ir.Str(ev.Outcome)),
	)
	for key, v := range map[string]string{"agent": ev.Agent, "holder": ev.Holder} {
		if v != "" {
			obj[key] = ir.Str(v)
		}
	}
	if ev.Position != 0 {
		obj["position"] = ir.Int(ev.Position)
	}
	if ev.Seq != 0 {
		obj["seq"] = ir.Int(ev.Seq)
	}
	for key, names := range map[string][]string{
		"functions": ev.Functions,
		"recompile": ev.Recompile,
		"scope":     ev.Scope,
		"conflicts": ev.Conflicts,
	} {
		if names == nil {
			continue
		}
		list := make(ir.Array, len(names))
		for i, n := range names {
			list[i] = ir.Str(n)
		}
		obj[key] = list
	}
	return obj
}

// Result is a scenario run: every step's event and every failed expect
// clause or assertion. Pass is false iff Errors is non-empty.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult returns an empty passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
