package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
)

// AssertionError describes a failed assertion. Trace is attached for the
// trace assertions so the failure can be read without rerunning.
type AssertionError struct {
	Type  string
	Want  string
	Got   string
	Trace []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertion %s failed\n  want: %s\n  got:  %s\n", e.Type, e.Want, e.Got)
	if len(e.Trace) == 0 {
		return b.String()
	}
	b.WriteString("trace:\n")
	for _, ev := range e.Trace {
		agent := ""
		if ev.Agent != "" {
			agent = " " + ev.Agent
		}
		fmt.Fprintf(&b, "  [%d] %s%s -> %s\n", ev.Step, ev.Action, agent, ev.Outcome)
	}
	return b.String()
}

// matches reports whether ev satisfies a's action and its optional agent
// and outcome filters.
func (a Assertion) matches(ev TraceEvent) bool {
	return ev.Action == a.Action &&
		(a.Agent == "" || ev.Agent == a.Agent) &&
		(a.Outcome == "" || ev.Outcome == a.Outcome)
}

func (a Assertion) describe() string {
	parts := []string{a.Action}
	if a.Agent != "" {
		parts = append(parts, "by "+a.Agent)
	}
	if a.Outcome != "" {
		parts = append(parts, "with outcome "+a.Outcome)
	}
	return strings.Join(parts, " ")
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	if slices.ContainsFunc(trace, a.matches) {
		return nil
	}
	return &AssertionError{Type: AssertTraceContains, Want: a.describe(), Got: "no matching step", Trace: trace}
}

// assertTraceOrder checks that Actions occur as a subsequence of the trace.
// Other steps may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	i := 0
	prev := ""
	prevStep := -1
	for _, action := range a.Actions {
		for i < len(trace) && trace[i].Action != action {
			i++
		}
		if i == len(trace) {
			got := fmt.Sprintf("no %s in trace", action)
			if prev != "" {
				got = fmt.Sprintf("no %s after %s at step %d", action, prev, prevStep)
			}
			return &AssertionError{Type: AssertTraceOrder, Want: fmt.Sprintf("in order %v", a.Actions), Got: got, Trace: trace}
		}
		prev, prevStep = action, trace[i].Step
		i++
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if a.matches(ev) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:  AssertTraceCount,
		Want:  fmt.Sprintf("%d x %s", a.Count, a.describe()),
		Got:   fmt.Sprintf("%d x", n),
		Trace: trace,
	}
}

// FunctionResolver maps function names to ids.
type FunctionResolver interface {
	FunctionID(name string) (ir.FunctionID, error)
}

// assertLockState checks a function's lock mode and, when given, holder.
// An expired lock counts as none. A read lock's holder matches any reader.
func assertLockState(locks *lock.Manager, r FunctionResolver, a Assertion) error {
	fid, err := r.FunctionID(a.Function)
	if err != nil {
		return err
	}

	mode := "none"
	st, ok := locks.StatusOf(fid)
	if ok && !st.Expired {
		mode = string(st.Mode)
	}
	if mode != a.Mode {
		return &AssertionError{Type: AssertLockState, Want: a.Function + " " + a.Mode, Got: a.Function + " " + mode}
	}
	if a.Holder == "" || mode == "none" {
		return nil
	}

	var holders []string
	if st.Mode == lock.ModeRead {
		for _, rd := range st.Readers {
			holders = append(holders, string(rd.Agent))
		}
	} else {
		holders = []string{string(st.Holder)}
	}
	if slices.Contains(holders, a.Holder) {
		return nil
	}
	return &AssertionError{
		Type: AssertLockState,
		Want: fmt.Sprintf("%s held by %s", a.Function, a.Holder),
		Got:  fmt.Sprintf("%s held by %s", a.Function, strings.Join(holders, ",")),
	}
}

// Tables readable by final_state.
const (
	TableCommits   = "commits"
	TableSnapshots = "snapshots"
)

// storeRecords reads every record of table as its JSON field map. Records
// go through the store API, so field names are the JSON names of
// store.CommitRecord and store.SnapshotInfo.
func storeRecords(ctx context.Context, st *store.Store, table string) ([]map[string]any, error) {
	var records any
	var err error
	switch table {
	case TableCommits:
		records, err = st.ReadCommits(ctx, 0, 0)
	case TableSnapshots:
		records, err = st.ListSnapshots(ctx)
	default:
		return nil, fmt.Errorf("unknown table %q (want %s or %s)", table, TableCommits, TableSnapshots)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// assertFinalState checks that exactly one record of the table matches
// Where and that it carries every Expect field. Values compare by their
// JSON encoding, so YAML ints match stored numbers and lists match
// element-wise.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	rows, err := storeRecords(ctx, st, a.Table)
	if err != nil {
		return err
	}

	var hits []map[string]any
	for _, row := range rows {
		if fieldsMatch(row, a.Where) {
			hits = append(hits, row)
		}
	}
	where := describeFields(a.Where)
	switch len(hits) {
	case 0:
		return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("a %s record where %s", a.Table, where), Got: "none"}
	case 1:
	default:
		return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("one %s record where %s", a.Table, where), Got: fmt.Sprintf("%d records", len(hits))}
	}

	row := hits[0]
	for _, key := range sortedKeys(a.Expect) {
		got, ok := row[key]
		if !ok {
			return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("field %s", key), Got: fmt.Sprintf("fields %v", sortedKeys(row))}
		}
		if !sameJSON(a.Expect[key], got) {
			return &AssertionError{
				Type: AssertFinalState,
				Want: fmt.Sprintf("%s = %s", key, encode(a.Expect[key])),
				Got:  fmt.Sprintf("%s = %s", key, encode(got)),
			}
		}
	}
	return nil
}

func fieldsMatch(row, want map[string]any) bool {
	for k, v := range want {
		got, ok := row[k]
		if !ok || !sameJSON(v, got) {
			return false
		}
	}
	return true
}

func sameJSON(a, b any) bool {
	return bytes.Equal(encode(a), encode(b))
}

// encode returns v's JSON encoding. YAML maps decode with string keys, so
// everything an assertion holds is encodable.
func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return data
}

func describeFields(m map[string]any) string {
	if len(m) == 0 {
		return "(any)"
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, encode(m[k])))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext is what state assertions read from. Trace assertions
// need none of it.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Locks    *lock.Manager
	Resolver FunctionResolver
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure, prefixed with the assertion's index.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertLockState:
		if actx == nil || actx.Locks == nil || actx.Resolver == nil {
			return fmt.Errorf("lock_state requires lock context")
		}
		return assertLockState(actx.Locks, actx.Resolver, a)
	case AssertFinalState:
		if actx == nil || actx.Store == nil {
			return fmt.Errorf("final_state requires a store")
		}
		ctx := actx.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		return assertFinalState(ctx, actx.Store, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}
