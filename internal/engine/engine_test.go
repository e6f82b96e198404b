package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/conflict"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
	"github.com/roach88/weft/internal/testutil"
)

const (
	alice ir.AgentID = "alice"
	bob   ir.AgentID = "bob"
)

// recordingBuilder records the functions it is asked to build.
type recordingBuilder struct {
	mu       sync.Mutex
	compiled []ir.FunctionID
	verified []ir.FunctionID
	failOn   ir.FunctionID
}

func (b *recordingBuilder) Compile(_ context.Context, fid ir.FunctionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fid == b.failOn {
		return errors.New("codegen rejected function")
	}
	b.compiled = append(b.compiled, fid)
	return nil
}

func (b *recordingBuilder) Verify(_ context.Context, fid ir.FunctionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verified = append(b.verified, fid)
	return nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *graph.Mem) {
	t.Helper()
	g := chainGraph(t)
	locks := lock.NewManager(lock.WithClock(testutil.NewManualClock()))
	return New(g, locks, opts...), g
}

func setConst(t *testing.T, g *graph.Mem, fn string, v int64) []graph.Mutation {
	t.Helper()
	return []graph.Mutation{
		graph.ModifyNode{ID: node(t, g, fn, "k"), Op: ir.Op{Kind: ir.OpConst, Attrs: ir.Obj(ir.P("value", ir.Int(v)), ir.P("type", ir.Str("i64")))}},
	}
}

func TestCommit_EndToEndChain(t *testing.T) {
	e, g := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Build(ctx, nil)
	require.NoError(t, err)

	_, err = e.Locks().TryAcquireWrite(alice, 3, "bump constant")
	require.NoError(t, err)

	res, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Seq)
	assert.Equal(t, []ir.FunctionID{3}, res.Functions)
	assert.False(t, res.Structural)
	assert.Equal(t, []ir.FunctionID{3}, res.Plan.Dirty.Modified)
	assert.Equal(t, []ir.FunctionID{1, 2}, res.Plan.DirtyDependents)
	assert.Equal(t, []ir.FunctionID{4}, res.Plan.Cached)
	assert.True(t, res.Plan.NeedsRecompile)
	assert.Equal(t, []ir.FunctionID{1, 2, 3}, res.VerificationScope)

	full, err := e.Hasher().FullHash(3)
	require.NoError(t, err)
	assert.Equal(t, map[ir.FunctionID]string{3: full.String()}, res.Hashes)

	b := &recordingBuilder{}
	built, err := e.Build(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []ir.FunctionID{1, 2, 3}, b.compiled)
	assert.Equal(t, []ir.FunctionID{1, 2, 3}, b.verified)
	assert.Equal(t, []ir.FunctionID{1, 2, 3}, built.Compiled)

	plan, err := e.Plan(ctx)
	require.NoError(t, err)
	assert.False(t, plan.Plan.NeedsRecompile, "build advanced the snapshot")
}

func TestCommit_UsesInjectedSequence(t *testing.T) {
	e, g := newTestEngine(t, WithSequence(NewSequence(40)))
	ctx := context.Background()

	_, err := e.Locks().TryAcquireWrite(alice, 3, "")
	require.NoError(t, err)
	res, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5)})
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.Seq)
	assert.Equal(t, int64(41), e.Sequence().Last())
}

func TestCommit_ContractEditDoesNotDirty(t *testing.T) {
	e, g := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Build(ctx, nil)
	require.NoError(t, err)

	_, err = e.Locks().TryAcquireWrite(alice, 3, "")
	require.NoError(t, err)
	res, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: []graph.Mutation{
		graph.ModifyNode{ID: node(t, g, "fn_c", "pre"), Op: ir.Op{Kind: ir.OpPrecondition, Attrs: ir.Obj(ir.P("expr", ir.Str("x > 1")))}},
	}})
	require.NoError(t, err)
	assert.False(t, res.Plan.NeedsRecompile)
	assert.Equal(t, []ir.FunctionID{3}, res.VerificationScope[len(res.VerificationScope)-1:])
}

func TestCommit_RequiresWriteLocks(t *testing.T) {
	e, g := newTestEngine(t)
	ctx := context.Background()
	before := g.Version()

	_, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5)})
	require.Error(t, err)
	assert.True(t, lock.IsNotHeld(err))

	_, err = e.Locks().TryAcquireRead(alice, 3)
	require.NoError(t, err)
	_, err = e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5)})
	assert.True(t, lock.IsNotHeld(err), "read lock is not enough")

	assert.Equal(t, before, g.Version())
	assert.Equal(t, int64(0), e.Sequence().Last())
}

func TestCommit_ExpectedHashes(t *testing.T) {
	e, g := newTestEngine(t)
	ctx := context.Background()

	read, err := e.Hashes(ctx, hashing.Full, []ir.FunctionID{3})
	require.NoError(t, err)
	expected := read.Hex()

	_, err = e.Locks().TryAcquireWrite(alice, 3, "")
	require.NoError(t, err)
	first, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5), ExpectedHashes: expected})
	require.NoError(t, err)

	// A second commit carrying the pre-edit hashes is stale.
	before := g.Version()
	_, err = e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 6), ExpectedHashes: expected})
	require.Error(t, err)
	assert.True(t, conflict.IsHashConflict(err))
	assert.Equal(t, conflict.ErrCodeHashConflict, ErrorCode(err))
	assert.Equal(t, before, g.Version(), "conflict leaves the graph untouched")

	// The hashes returned by the first commit are current.
	_, err = e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 6), ExpectedHashes: first.Hashes})
	assert.NoError(t, err)
}

func TestCommit_InvalidBatchIsAtomic(t *testing.T) {
	e, g := newTestEngine(t)
	_, err := e.Locks().TryAcquireWrite(alice, 3, "")
	require.NoError(t, err)
	before := g.Version()

	batch := append(setConst(t, g, "fn_c", 5),
		graph.InsertEdge{Source: node(t, g, "fn_c", "k"), Target: node(t, g, "fn_c", "ret"), Edge: ir.Edge{Kind: "sideways"}})
	_, err = e.Commit(context.Background(), CommitRequest{Agent: alice, Mutations: batch})
	require.Error(t, err)
	assert.Equal(t, graph.ErrCodeInvalidMutation, ErrorCode(err))
	assert.Equal(t, before, g.Version())
}

func TestCommit_Structural(t *testing.T) {
	e, g := newTestEngine(t)
	ctx := context.Background()

	fid := g.NewFunctionID()
	mid := g.NewModuleID()
	nid := g.NewNodeID()
	res, err := e.Commit(ctx, CommitRequest{Agent: bob, Mutations: []graph.Mutation{
		graph.AddModule{ID: mid, Name: "util"},
		graph.AddFunction{ID: fid, Name: "helper", Module: mid, Visibility: ir.VisibilityPrivate},
		graph.InsertNode{ID: nid, Owner: fid, Op: ir.Op{Kind: ir.OpReturn}},
	}})
	require.NoError(t, err, "new functions need no lock")
	assert.True(t, res.Structural)
	assert.Equal(t, []ir.FunctionID{fid}, res.Functions)
	assert.Contains(t, res.Hashes, fid)
	assert.Equal(t, []ir.FunctionID{fid}, res.Plan.Dirty.New[len(res.Plan.Dirty.New)-1:])
}

func TestCommit_StructuralWaitsForSharedHolders(t *testing.T) {
	e, g := newTestEngine(t)
	require.NoError(t, e.Structural().RLock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Commit(ctx, CommitRequest{Agent: bob, Mutations: []graph.Mutation{
		graph.AddModule{ID: g.NewModuleID(), Name: "util"},
	}})
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, ErrCodeStructuralLock, engErr.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	e.Structural().RUnlock()
}

func TestCommit_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Commit(context.Background(), CommitRequest{Agent: alice})
	assert.Equal(t, string(ErrCodeEmptyCommit), ErrorCode(err))
}

func TestBuild_FailureKeepsSnapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Build(ctx, &recordingBuilder{failOn: 2})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Equal(t, 0, e.BuildSnapshot().Len())

	b := &recordingBuilder{}
	_, err = e.Build(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []ir.FunctionID{1, 2, 3, 4}, b.compiled)
	assert.Equal(t, 4, e.BuildSnapshot().Len())
}

func TestEngine_PersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	e, g := newTestEngine(t, WithStore(s))
	ctx := context.Background()

	built, err := e.Build(ctx, nil)
	require.NoError(t, err)
	assert.NotZero(t, built.SnapshotID)

	_, err = e.Locks().TryAcquireWrite(alice, 4, "")
	require.NoError(t, err)
	_, err = e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_d", 3)})
	require.NoError(t, err)

	commits, err := s.ReadCommits(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, alice, commits[0].Agent)
	assert.Equal(t, []ir.FunctionID{4}, commits[0].Recompile)

	restored := New(g, lock.NewManager(), WithStore(s))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, int64(1), restored.Sequence().Last())
	assert.True(t, e.BuildSnapshot().Equal(restored.BuildSnapshot()))

	plan, err := restored.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.FunctionID{4}, plan.Plan.Dirty.Modified)
}

func TestEngine_NewSession(t *testing.T) {
	e, _ := newTestEngine(t, WithSessions(NewFixedGenerator("agent-1")))
	assert.Equal(t, ir.AgentID("agent-1"), e.NewSession())
}

// readTracker is a graph that records which functions have their nodes
// listed.
type readTracker struct {
	*graph.Mem
	mu    sync.Mutex
	reads ir.FunctionSet
}

func (r *readTracker) FunctionNodes(fid ir.FunctionID) ([]ir.NodeID, error) {
	r.mu.Lock()
	r.reads.Add(fid)
	r.mu.Unlock()
	return r.Mem.FunctionNodes(fid)
}

func (r *readTracker) take() []ir.FunctionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.reads.Sorted()
	r.reads = ir.FunctionSet{}
	return out
}

func TestCommit_RehashesOnlyTouchedFunctions(t *testing.T) {
	prog := testutil.ChainWithSiblingProgram()
	for i := range 20 {
		prog.Functions = append(prog.Functions, testutil.LeafFunction(fmt.Sprintf("leaf_%02d", i), int64(i)))
	}
	g, err := graph.FromProgram(prog)
	require.NoError(t, err)
	tracked := &readTracker{Mem: g, reads: ir.FunctionSet{}}

	e := New(tracked, lock.NewManager(lock.WithClock(testutil.NewManualClock())))
	ctx := context.Background()
	_, err = e.Build(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tracked.take(), 24, "first build hashes everything once")

	_, err = e.Locks().TryAcquireWrite(alice, 3, "")
	require.NoError(t, err)
	res, err := e.Commit(ctx, CommitRequest{Agent: alice, Mutations: setConst(t, g, "fn_c", 5)})
	require.NoError(t, err)

	assert.Equal(t, []ir.FunctionID{3}, tracked.take())
	assert.Equal(t, []ir.FunctionID{3}, res.Plan.Dirty.Modified)
	assert.Equal(t, []ir.FunctionID{1, 2}, res.Plan.DirtyDependents)
	assert.Len(t, res.Plan.Cached, 21)

	built, err := e.Build(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, tracked.take(), "build reuses the indexed hashes")
	assert.Equal(t, []ir.FunctionID{1, 2, 3}, built.Plan.Recompile())

	full, err := hashing.New(g).Snapshot(ctx, hashing.Compilation)
	require.NoError(t, err)
	assert.True(t, full.Equal(e.BuildSnapshot()))
}

func TestCommit_RecordsCreatedFunctionIDs(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "weft.db"))
	require.NoError(t, err)
	defer s.Close()

	e, g := newTestEngine(t, WithStore(s))
	ctx := context.Background()
	mod, _ := g.ModuleByName("main")
	fid := g.NewFunctionID()

	_, err = e.Commit(ctx, CommitRequest{Agent: alice, Mutations: []graph.Mutation{
		graph.AddFunction{ID: fid, Name: "fn_new", Module: mod, Visibility: ir.VisibilityPublic},
	}})
	require.NoError(t, err)

	ids, err := s.FunctionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.FunctionID{"fn_new": fid}, ids)
}
