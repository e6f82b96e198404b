package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/weft/internal/conflict"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/incremental"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
	"github.com/roach88/weft/internal/store"
)

// DefaultSnapshotLabel is the store label of build snapshots.
const DefaultSnapshotLabel = "build"

// Graph is the authoritative program graph the engine edits.
// Implemented by *graph.Mem.
type Graph interface {
	graph.Reader
	Apply(batch []graph.Mutation) error
}

// Builder compiles and verifies single functions. It is the external code
// generator and verifier; the engine only decides what to hand it.
type Builder interface {
	Compile(ctx context.Context, fid ir.FunctionID) error
	Verify(ctx context.Context, fid ir.FunctionID) error
}

// CommitRequest is one agent edit.
type CommitRequest struct {
	Agent     ir.AgentID
	Mutations []graph.Mutation
	// ExpectedHashes maps functions to the full hashes the agent last read.
	// When non-empty, any mismatch aborts the commit before it applies.
	ExpectedHashes map[ir.FunctionID]string
}

// CommitResult describes an applied edit.
type CommitResult struct {
	Seq        int64           `json:"seq"`
	Functions  []ir.FunctionID `json:"functions"`
	Structural bool            `json:"structural"`
	// Hashes are the new full hashes of the touched functions, ready to be
	// sent back as ExpectedHashes on the agent's next commit.
	Hashes            map[ir.FunctionID]string `json:"hashes"`
	Plan              incremental.Plan         `json:"plan"`
	VerificationScope []ir.FunctionID          `json:"verification_scope"`
}

// BuildResult describes a completed build.
type BuildResult struct {
	Plan       incremental.Plan `json:"plan"`
	Compiled   []ir.FunctionID  `json:"compiled"`
	Verified   []ir.FunctionID  `json:"verified"`
	SnapshotID int64            `json:"snapshot_id,omitempty"`
}

// Engine coordinates commits and builds over one graph.
//
// Thread-safety model:
//   - Commit(), Build(), Hashes(), Plan(): safe from any goroutine
//   - The expected-hash check and the apply step of Commit run under one
//     mutex, so no other commit lands between them
//   - Builds run one at a time
type Engine struct {
	graph      Graph
	hasher     *hashing.Hasher
	index      *incremental.Index
	locks      *lock.Manager
	structural *lock.StructuralLock
	store      *store.Store
	seq        *Sequence
	sessions   SessionGenerator
	logger     *slog.Logger
	label      string
	workers    int

	commitMu sync.Mutex
	buildMu  sync.Mutex

	snapMu sync.RWMutex
	built  ir.HashSnapshot
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithStore persists build snapshots and the commit log.
func WithStore(s *store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSessions sets the agent id generator. Default is UUIDv7Generator.
func WithSessions(g SessionGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.sessions = g
		}
	}
}

// WithSnapshotLabel sets the store label of build snapshots.
func WithSnapshotLabel(label string) Option {
	return func(e *Engine) {
		if label != "" {
			e.label = label
		}
	}
}

// WithSequence sets the commit sequence. Default starts at 0 and is raised
// by Restore.
func WithSequence(s *Sequence) Option {
	return func(e *Engine) {
		if s != nil {
			e.seq = s
		}
	}
}

// WithHashWorkers bounds hashing concurrency.
func WithHashWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// New creates an Engine over g that checks write locks against locks.
func New(g Graph, locks *lock.Manager, opts ...Option) *Engine {
	e := &Engine{
		graph:      g,
		locks:      locks,
		structural: lock.NewStructuralLock(),
		seq:        NewSequence(0),
		sessions:   UUIDv7Generator{},
		logger:     slog.Default(),
		label:      DefaultSnapshotLabel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hasher = hashing.New(g, hashing.WithWorkers(e.workers), hashing.WithLogger(e.logger))
	e.index = incremental.NewIndex(g, e.hasher)
	return e
}

// Graph returns the graph the engine edits.
func (e *Engine) Graph() Graph { return e.graph }

// Locks returns the lock manager.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// Structural returns the global structural lock.
func (e *Engine) Structural() *lock.StructuralLock { return e.structural }

// Hasher returns the engine's hasher.
func (e *Engine) Hasher() *hashing.Hasher { return e.hasher }

// Sequence returns the commit sequence.
func (e *Engine) Sequence() *Sequence { return e.seq }

// NewSession mints an agent id.
func (e *Engine) NewSession() ir.AgentID {
	return e.sessions.Generate()
}

// BuildSnapshot returns the compilation hashes as of the last build.
func (e *Engine) BuildSnapshot() ir.HashSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.built
}

func (e *Engine) setBuilt(s ir.HashSnapshot) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.built = s
}

// Restore loads the latest build snapshot and resumes the commit sequence from
// the store. A no-op without a store.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, ok, err := e.store.LatestSnapshot(ctx, e.label, hashing.Compilation.String())
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if ok {
		e.setBuilt(snap.Hashes)
	}
	seq, err := e.store.LastCommitSeq(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	e.seq.Resume(seq)
	e.logger.Info("engine restored", "snapshot", ok, "functions", snap.Functions, "commit_seq", seq)
	return nil
}

// Commit applies an agent's edit.
//
// Steps, each aborting with no side effects on failure:
//  1. resolve the touched functions and the structural flag
//  2. take the structural lock, exclusive for structural edits
//  3. verify the agent write-locks every touched function that exists
//  4. compare ExpectedHashes against current full hashes
//  5. apply the batch atomically
//
// Then only the touched functions are rehashed and the dirty plan is
// computed against the last build snapshot.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if len(req.Mutations) == 0 {
		return CommitResult{}, &Error{Kind: ErrCodeEmptyCommit, Message: "no mutations", Agent: req.Agent}
	}

	affected, structural, err := AffectedFunctions(e.graph, req.Mutations)
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	release, err := e.structural.Acquire(ctx, structural)
	if err != nil {
		return CommitResult{}, &Error{Kind: ErrCodeStructuralLock, Message: "structural lock not acquired", Agent: req.Agent, Cause: err}
	}
	defer release()

	created := CreatedFunctions(req.Mutations)
	live := e.graph.Functions()
	locked := make([]ir.FunctionID, 0, len(affected))
	for _, fid := range affected {
		if _, ok := live[fid]; ok && !created.Has(fid) {
			locked = append(locked, fid)
		}
	}
	if err := e.locks.VerifyWriteLocks(req.Agent, locked); err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	e.commitMu.Lock()
	if err := conflict.Check(e.graph, e.hasher, req.ExpectedHashes, e.logger); err != nil {
		e.commitMu.Unlock()
		return CommitResult{}, err
	}
	if err := e.graph.Apply(req.Mutations); err != nil {
		e.commitMu.Unlock()
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}
	seq := e.seq.Next()

	touched := append(locked, created.Sorted()...)
	full, err := e.hasher.SnapshotOf(ctx, hashing.Full, touched)
	if err == nil {
		err = e.index.Refresh(ctx, touched)
	}
	e.commitMu.Unlock()
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit %d applied, rehash failed: %w", seq, err)
	}

	res, err := e.index.Plan(ctx, e.BuildSnapshot())
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit %d applied, plan failed: %w", seq, err)
	}

	out := CommitResult{
		Seq:               seq,
		Functions:         affected,
		Structural:        structural,
		Hashes:            full.Hex(),
		Plan:              res.Plan,
		VerificationScope: incremental.VerificationScope(touched, res.CallGraph),
	}
	e.logger.Info("commit applied", "seq", seq, "agent", req.Agent,
		"functions", len(affected), "structural", structural, "recompile", len(res.Plan.Recompile()))

	if e.store != nil {
		rec := store.CommitRecord{
			Seq:        seq,
			Agent:      req.Agent,
			Functions:  affected,
			Structural: structural,
			Mutations:  len(req.Mutations),
			Hashes:     out.Hashes,
			Recompile:  res.Plan.Recompile(),
		}
		// The graph already holds the edit; a log write failure must not
		// report the commit as failed.
		if err := e.store.RecordCommit(ctx, rec); err != nil {
			e.logger.Error("commit log write failed", "seq", seq, "error", err)
		}
		if len(created) > 0 {
			e.recordCreated(ctx, created)
		}
	}
	return out, nil
}

// Build compiles every function in the current plan, verifies the
// verification scope, then advances the build snapshot. Nothing advances
// when any step fails. A nil builder advances the snapshot without
// compiling.
func (e *Engine) Build(ctx context.Context, b Builder) (BuildResult, error) {
	release, err := e.structural.Acquire(ctx, false)
	if err != nil {
		return BuildResult{}, &Error{Kind: ErrCodeStructuralLock, Message: "structural lock not acquired", Cause: err}
	}
	defer release()

	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	res, err := e.index.Plan(ctx, e.BuildSnapshot())
	if err != nil {
		return BuildResult{}, fmt.Errorf("build: %w", err)
	}
	compile := res.Plan.Recompile()
	verify := incremental.VerificationScope(res.Plan.Dirty.NeedsRecompile(), res.CallGraph)

	out := BuildResult{Plan: res.Plan, Compiled: []ir.FunctionID{}, Verified: []ir.FunctionID{}}
	if b != nil {
		for _, fid := range compile {
			if err := ctx.Err(); err != nil {
				return BuildResult{}, fmt.Errorf("build: %w", err)
			}
			if err := b.Compile(ctx, fid); err != nil {
				return BuildResult{}, NewBuildError(fid, "compile", err)
			}
			out.Compiled = append(out.Compiled, fid)
		}
		for _, fid := range verify {
			if err := b.Verify(ctx, fid); err != nil {
				return BuildResult{}, NewBuildError(fid, "verify", err)
			}
			out.Verified = append(out.Verified, fid)
		}
	}

	if e.store != nil {
		id, err := e.store.SaveSnapshot(ctx, e.label, hashing.Compilation.String(), e.seq.Last(), res.Current)
		if err != nil {
			return BuildResult{}, fmt.Errorf("build: persist snapshot: %w", err)
		}
		out.SnapshotID = id
	}
	e.setBuilt(res.Current)
	e.logger.Info("build complete", "compiled", len(out.Compiled), "verified", len(out.Verified),
		"cached", len(res.Plan.Cached), "snapshot", out.SnapshotID)
	return out, nil
}

// Hashes returns hashes of ids in mode, or of every function when ids is
// empty.
func (e *Engine) Hashes(ctx context.Context, mode hashing.Mode, ids []ir.FunctionID) (ir.HashSnapshot, error) {
	if len(ids) == 0 {
		return e.hasher.Snapshot(ctx, mode)
	}
	return e.hasher.SnapshotOf(ctx, mode, ids)
}

// Plan computes the dirty plan against the last build snapshot without
// building.
func (e *Engine) Plan(ctx context.Context) (incremental.Result, error) {
	return e.index.Plan(ctx, e.BuildSnapshot())
}

// recordCreated adds functions created by a commit to the store's id
// registry, so a restart that reloads them keeps their ids.
func (e *Engine) recordCreated(ctx context.Context, created ir.FunctionSet) {
	meta := e.graph.Functions()
	ids := make(map[string]ir.FunctionID, len(created))
	for fid := range created {
		if m, ok := meta[fid]; ok {
			ids[m.Name] = fid
		}
	}
	if err := e.store.RecordFunctionIDs(ctx, ids); err != nil {
		e.logger.Error("function registry write failed", "functions", len(ids), "error", err)
	}
}
