package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/weft/internal/compiler"
	"github.com/roach88/weft/internal/conflict"
	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/incremental"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
	"github.com/roach88/weft/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios against a real engine with a manual clock, so lock
// expiry and commit sequences are reproducible.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	graph  *graph.Mem
	locks  *lock.Manager
	clock  *testutil.ManualClock
	logger *slog.Logger

	// inserted maps "function.node" names introduced by committed
	// insert_node mutations to their ids.
	inserted map[string]ir.NodeID

	// read holds the full hashes each agent last read.
	read map[string]map[ir.FunctionID]string
}

// Option configures a harness run.
type Option func(*Harness)

// WithLogger routes engine and lock logs to l. Default discards them.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the scenario's CUE program and build the graph from it
// 2. Create the lock manager, engine and store around a manual clock
// 3. Execute steps, checking each against its expect clause
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()

	loaded, errs := compiler.LoadProgram(scenario.Program, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load program: %w", errs[0])
	}
	g, err := graph.FromProgram(loaded.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	h := &Harness{
		graph:    g,
		clock:    testutil.NewManualClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		inserted: make(map[string]ir.NodeID),
		read:     make(map[string]map[ir.FunctionID]string),
	}
	for _, opt := range opts {
		opt(h)
	}

	// Every run gets a private in-memory store.
	st, err := store.Open(":memory:", store.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	agents := make([]ir.AgentID, len(scenario.Agents))
	for i, a := range scenario.Agents {
		agents[i] = ir.AgentID(a)
	}
	h.locks = lock.NewManager(lock.WithClock(h.clock), lock.WithLogger(h.logger))
	h.engine = engine.New(g, h.locks,
		engine.WithStore(st),
		engine.WithLogger(h.logger),
		engine.WithSessions(engine.NewFixedGenerator(agents...)),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, stepErr, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		result.AddTrace(ev)
		for _, msg := range checkExpect(i, step, ev, stepErr) {
			result.AddError(msg)
		}
		h.logger.Info("step completed", "step", i, "action", step.Action, "agent", step.Agent, "outcome", ev.Outcome)
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		Locks:    h.locks,
		Resolver: h,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step. stepErr is the error the engine returned, which
// the expect clause judges; err is a scenario error that aborts the run.
func (h *Harness) execute(ctx context.Context, i int, step Step) (ev TraceEvent, stepErr error, err error) {
	ev = TraceEvent{Step: i, Action: step.Action, Agent: step.Agent}
	agent := ir.AgentID(step.Agent)

	var opts []lock.AcquireOption
	if step.TTL > 0 {
		opts = append(opts, lock.TTL(step.TTL))
	}

	fids := make([]ir.FunctionID, len(step.Functions))
	for j, name := range step.Functions {
		if fids[j], err = h.FunctionID(name); err != nil {
			return ev, nil, err
		}
	}

	switch step.Action {
	case ActionAcquireRead:
		var grant lock.Grant
		grant, stepErr = h.locks.TryAcquireRead(agent, fids[0], opts...)
		if stepErr == nil {
			ev.Functions = h.names([]ir.FunctionID{grant.FunctionID})
		}
	case ActionAcquireWrite:
		var grant lock.Grant
		grant, stepErr = h.locks.TryAcquireWrite(agent, fids[0], step.Description, opts...)
		if stepErr == nil {
			ev.Functions = h.names([]ir.FunctionID{grant.FunctionID})
		}
	case ActionAcquireBatch:
		var grants []lock.Grant
		grants, stepErr = h.locks.BatchAcquireWrite(agent, fids, step.Description, opts...)
		if stepErr == nil {
			ev.Functions = h.names(grantIDs(grants))
		}
	case ActionRelease:
		stepErr = h.locks.Release(agent, fids[0])
		if stepErr == nil {
			ev.Functions = h.names(fids)
		}
	case ActionReleaseAll:
		ev.Functions = h.names(h.locks.ReleaseAll(agent))
	case ActionHeartbeat:
		ev.Functions = h.names(grantIDs(h.locks.Heartbeat(agent, opts...)))
	case ActionReadHashes:
		var snap ir.HashSnapshot
		snap, stepErr = h.engine.Hashes(ctx, hashing.Full, fids)
		if stepErr == nil {
			h.read[step.Agent] = snap.Hex()
			ev.Functions = h.names(snap.IDs())
		}
	case ActionCommit:
		stepErr, err = h.commit(ctx, step, &ev)
	case ActionAdvance:
		h.clock.Advance(step.By)
	case ActionSweep:
		ev.Functions = h.names(h.locks.SweepExpired())
	case ActionPlan:
		var res incremental.Result
		res, stepErr = h.engine.Plan(ctx)
		if stepErr == nil {
			ev.Recompile = h.names(res.Plan.Recompile())
		}
	case ActionBuild:
		b := &scenarioBuilder{}
		if step.Fail != "" {
			if b.fail, err = h.FunctionID(step.Fail); err != nil {
				return ev, nil, err
			}
		}
		var res engine.BuildResult
		res, stepErr = h.engine.Build(ctx, b)
		if stepErr == nil {
			ev.Functions = h.names(res.Compiled)
			ev.Recompile = h.names(res.Plan.Recompile())
			ev.Scope = h.names(res.Verified)
		}
	default:
		return ev, nil, fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		return ev, nil, err
	}

	ev.Outcome = OutcomeOK
	if stepErr != nil {
		ev.Outcome = engine.ErrorCode(stepErr)
		if ev.Outcome == "" {
			ev.Outcome = "error"
		}
		if denied, ok := lock.AsDenied(stepErr); ok {
			ev.Holder = string(denied.Holder)
			ev.Position = denied.QueuePosition
		}
	}
	return ev, stepErr, nil
}

func (h *Harness) commit(ctx context.Context, step Step, ev *TraceEvent) (stepErr error, err error) {
	batch, pending, err := h.convertMutations(step.Mutations)
	if err != nil {
		return nil, err
	}
	req := engine.CommitRequest{Agent: ir.AgentID(step.Agent), Mutations: batch}
	if step.CheckHashes {
		req.ExpectedHashes = h.read[step.Agent]
	}

	res, stepErr := h.engine.Commit(ctx, req)
	if stepErr != nil {
		var hc *conflict.HashConflictError
		if errors.As(stepErr, &hc) {
			ids := make([]ir.FunctionID, len(hc.Conflicts))
			for i, c := range hc.Conflicts {
				ids[i] = c.FunctionID
			}
			ev.Conflicts = h.names(ids)
		}
		return stepErr, nil
	}
	for ref, id := range pending {
		h.inserted[ref] = id
	}
	ev.Seq = res.Seq
	ev.Functions = h.names(res.Functions)
	ev.Recompile = h.names(res.Plan.Recompile())
	ev.Scope = h.names(res.VerificationScope)
	return nil, nil
}

// scenarioBuilder compiles and verifies by doing nothing, except that
// compiling fail is an error.
type scenarioBuilder struct {
	fail ir.FunctionID
}

func (b *scenarioBuilder) Compile(_ context.Context, fid ir.FunctionID) error {
	if b.fail != 0 && fid == b.fail {
		return fmt.Errorf("compile %s: injected failure", fid)
	}
	return nil
}

func (b *scenarioBuilder) Verify(context.Context, ir.FunctionID) error { return nil }

func grantIDs(grants []lock.Grant) []ir.FunctionID {
	ids := make([]ir.FunctionID, len(grants))
	for i, g := range grants {
		ids[i] = g.FunctionID
	}
	return ids
}

// FunctionID resolves a function name.
func (h *Harness) FunctionID(name string) (ir.FunctionID, error) {
	fid, ok := h.graph.FunctionByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}
	return fid, nil
}

// names renders ids as sorted function names. Unknown ids render as their
// numeric form.
func (h *Harness) names(ids []ir.FunctionID) []string {
	if ids == nil {
		return nil
	}
	meta := h.graph.Functions()
	out := make([]string, len(ids))
	for i, id := range ids {
		if m, ok := meta[id]; ok {
			out[i] = m.Name
		} else {
			out[i] = id.String()
		}
	}
	slices.Sort(out)
	return out
}

// batchNames tracks names introduced within one commit batch.
type batchNames struct {
	modules   map[string]ir.ModuleID
	functions map[string]ir.FunctionID
	nodes     map[string]ir.NodeID
}

func (h *Harness) moduleID(name string, b *batchNames) (ir.ModuleID, error) {
	if id, ok := b.modules[name]; ok {
		return id, nil
	}
	if id, ok := h.graph.ModuleByName(name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown module %q", name)
}

func (h *Harness) functionIn(name string, b *batchNames) (ir.FunctionID, error) {
	if id, ok := b.functions[name]; ok {
		return id, nil
	}
	return h.FunctionID(name)
}

func (h *Harness) nodeID(ref string, b *batchNames) (ir.NodeID, error) {
	if id, ok := b.nodes[ref]; ok {
		return id, nil
	}
	if id, ok := h.inserted[ref]; ok {
		return id, nil
	}
	fn, node, ok := strings.Cut(ref, ".")
	if !ok {
		return 0, fmt.Errorf("node reference %q must be function.node", ref)
	}
	if id, ok := h.graph.NodeByName(fn, node); ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown node %q", ref)
}

// convertMutations resolves names to ids. Fresh ids for new names are
// allocated from the graph and returned in pending so they can be
// remembered once the commit lands.
func (h *Harness) convertMutations(steps []MutationStep) ([]graph.Mutation, map[string]ir.NodeID, error) {
	b := &batchNames{
		modules:   make(map[string]ir.ModuleID),
		functions: make(map[string]ir.FunctionID),
		nodes:     make(map[string]ir.NodeID),
	}
	out := make([]graph.Mutation, 0, len(steps))
	for i, ms := range steps {
		m, err := h.convertMutation(ms, b)
		if err != nil {
			return nil, nil, fmt.Errorf("mutations[%d] (%s): %w", i, ms.Kind, err)
		}
		out = append(out, m)
	}
	return out, b.nodes, nil
}

func (h *Harness) convertMutation(ms MutationStep, b *batchNames) (graph.Mutation, error) {
	switch ms.Kind {
	case "add_module":
		id := h.graph.NewModuleID()
		b.modules[ms.Name] = id
		return graph.AddModule{ID: id, Name: ms.Name}, nil
	case "add_function":
		mod, err := h.moduleID(ms.Module, b)
		if err != nil {
			return nil, err
		}
		id := h.graph.NewFunctionID()
		b.functions[ms.Name] = id
		return graph.AddFunction{ID: id, Name: ms.Name, Module: mod, Visibility: ir.Visibility(ms.Visibility)}, nil
	case "insert_node":
		fn, _, ok := strings.Cut(ms.Node, ".")
		if !ok {
			return nil, fmt.Errorf("node %q must be function.node", ms.Node)
		}
		owner, err := h.functionIn(fn, b)
		if err != nil {
			return nil, err
		}
		op, err := h.convertOp(ms.Op, b)
		if err != nil {
			return nil, err
		}
		id := h.graph.NewNodeID()
		b.nodes[ms.Node] = id
		return graph.InsertNode{ID: id, Owner: owner, Op: op}, nil
	case "remove_node":
		id, err := h.nodeID(ms.Node, b)
		if err != nil {
			return nil, err
		}
		return graph.RemoveNode{ID: id}, nil
	case "modify_node":
		id, err := h.nodeID(ms.Node, b)
		if err != nil {
			return nil, err
		}
		op, err := h.convertOp(ms.Op, b)
		if err != nil {
			return nil, err
		}
		return graph.ModifyNode{ID: id, Op: op}, nil
	case "insert_edge", "remove_edge":
		src, err := h.nodeID(ms.Source, b)
		if err != nil {
			return nil, err
		}
		dst, err := h.nodeID(ms.Target, b)
		if err != nil {
			return nil, err
		}
		if ms.Edge == nil {
			return nil, fmt.Errorf("edge is required")
		}
		e := graph.WireEdge{
			Kind:       ir.EdgeKind(ms.Edge.Kind),
			SourcePort: ms.Edge.SourcePort,
			TargetPort: ms.Edge.TargetPort,
			Branch:     ms.Edge.Branch,
			ValueType:  ms.Edge.ValueType,
		}.Edge()
		if ms.Kind == "insert_edge" {
			return graph.InsertEdge{Source: src, Target: dst, Edge: e}, nil
		}
		return graph.RemoveEdge{Source: src, Target: dst, Edge: e}, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", ms.Kind)
	}
}

func (h *Harness) convertOp(o *OpStep, b *batchNames) (ir.Op, error) {
	if o == nil {
		return ir.Op{}, fmt.Errorf("op is required")
	}
	op := ir.Op{Kind: ir.OpKind(o.Kind)}
	if len(o.Attrs) > 0 {
		v, err := ir.ToValue(o.Attrs)
		if err != nil {
			return ir.Op{}, fmt.Errorf("attrs: %w", err)
		}
		op.Attrs = v.(ir.Object)
	}
	if o.Callee != "" {
		callee, err := h.functionIn(o.Callee, b)
		if err != nil {
			return ir.Op{}, fmt.Errorf("callee: %w", err)
		}
		if op.Attrs == nil {
			op.Attrs = ir.Object{}
		}
		op.Attrs[ir.AttrCallee] = ir.Int(int64(callee))
	}
	return op, nil
}

// checkExpect compares a step's outcome with its expect clause. A step
// without one must succeed.
func checkExpect(i int, step Step, ev TraceEvent, stepErr error) []string {
	want := step.Expect
	if want == nil {
		if stepErr != nil {
			return []string{fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Action, stepErr)}
		}
		return nil
	}

	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("steps[%d] %s: ", i, step.Action)+fmt.Sprintf(format, args...))
	}

	wantOutcome := OutcomeOK
	if want.Error != "" {
		wantOutcome = want.Error
	}
	if ev.Outcome != wantOutcome {
		fail("expected outcome %s, got %s", wantOutcome, ev.Outcome)
		return errs
	}
	if want.Holder != "" && want.Holder != ev.Holder {
		fail("expected holder %q, got %q", want.Holder, ev.Holder)
	}
	if want.Position != 0 && want.Position != ev.Position {
		fail("expected queue position %d, got %d", want.Position, ev.Position)
	}
	checkSet := func(field string, want, got []string) {
		if want == nil {
			return
		}
		w := slices.Clone(want)
		slices.Sort(w)
		if !slices.Equal(w, got) && !(len(w) == 0 && len(got) == 0) {
			fail("expected %s %v, got %v", field, w, got)
		}
	}
	checkSet("functions", want.Functions, ev.Functions)
	checkSet("recompile", want.Recompile, ev.Recompile)
	checkSet("scope", want.Scope, ev.Scope)
	checkSet("conflicts", want.Conflicts, ev.Conflicts)
	return errs
}
