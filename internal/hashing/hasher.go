// Package hashing computes Merkle content hashes of program-graph functions.
//
// A function's hash is folded bottom-up: each node's op and owner are hashed,
// then combined with its outgoing edges in a storage-independent order, and
// the per-node composites are folded in NodeID order into one root. Two
// roots exist per function. The compilation hash skips contract nodes and
// every edge into them and is what dirty tracking compares. The full hash
// covers everything and is what optimistic-concurrency checks compare.
package hashing

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/ir"
)

// Mode selects which of the two function hashes to compute.
type Mode int

const (
	// Compilation excludes contract nodes and edges into them.
	Compilation Mode = iota
	// Full includes contract nodes.
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}
	return "compilation"
}

// ParseMode parses "compilation" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "compilation", "":
		return Compilation, nil
	case "full":
		return Full, nil
	default:
		return 0, fmt.Errorf("unknown hash mode %q (want compilation or full)", s)
	}
}

// EdgeInput is an outgoing edge paired with the hash of its target.
type EdgeInput struct {
	Target     ir.NodeID
	Edge       ir.Edge
	TargetHash ir.ContentHash
}

// HashNode hashes a node's op and owning function.
func HashNode(node ir.Node) (ir.ContentHash, error) {
	data, err := node.Canonical()
	if err != nil {
		return ir.ContentHash{}, fmt.Errorf("HashNode: %w", err)
	}
	return ir.HashWithDomain(ir.DomainNode, data), nil
}

type sortedEdge struct {
	in        EdgeInput
	canonical []byte
}

// HashNodeWithEdges folds a node's outgoing edges into its hash. Edges are
// sorted first (data edges by target port then target, control edges by
// branch then target, ties by canonical edge bytes) so the result does not
// depend on storage order.
func HashNodeWithEdges(node ir.Node, edges []EdgeInput) (ir.ContentHash, error) {
	base, err := HashNode(node)
	if err != nil {
		return ir.ContentHash{}, err
	}

	sorted := make([]sortedEdge, len(edges))
	for i, e := range edges {
		b, err := e.Edge.Canonical()
		if err != nil {
			return ir.ContentHash{}, fmt.Errorf("HashNodeWithEdges: edge to %s: %w", e.Target, err)
		}
		sorted[i] = sortedEdge{in: e, canonical: b}
	}
	slices.SortFunc(sorted, compareEdges)

	d := ir.NewDigest(ir.DomainNodeEdges)
	d.WriteHash(base)
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(sorted)))
	d.Write(count[:])
	for _, e := range sorted {
		d.Write(e.canonical)
		d.WriteHash(e.in.TargetHash)
	}
	return d.Sum(), nil
}

func edgeKey(e ir.Edge) (class int, slot int) {
	if e.Kind == ir.EdgeControl {
		return 1, e.Branch
	}
	return 0, e.TargetPort
}

func compareEdges(a, b sortedEdge) int {
	ac, as := edgeKey(a.in.Edge)
	bc, bs := edgeKey(b.in.Edge)
	if c := cmp.Compare(ac, bc); c != 0 {
		return c
	}
	if c := cmp.Compare(as, bs); c != 0 {
		return c
	}
	if c := cmp.Compare(a.in.Target, b.in.Target); c != 0 {
		return c
	}
	if c := bytes.Compare(a.canonical, b.canonical); c != 0 {
		return c
	}
	return bytes.Compare(a.in.TargetHash[:], b.in.TargetHash[:])
}

// Hasher computes function hashes over a graph.Reader.
//
// Hasher holds no mutable state of its own and is safe for concurrent use.
// Callers hold the function locks needed for a consistent read.
type Hasher struct {
	g       graph.Reader
	workers int
	logger  *slog.Logger
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithWorkers bounds the concurrency of Snapshot. n < 1 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(h *Hasher) {
		h.workers = n
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hasher) {
		if l != nil {
			h.logger = l
		}
	}
}

// New returns a Hasher reading from g.
func New(g graph.Reader, opts ...Option) *Hasher {
	h := &Hasher{g: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.workers < 1 {
		h.workers = runtime.GOMAXPROCS(0)
	}
	return h
}

// CompilationHash returns the hash that drives compilation and dirty
// tracking. Contract nodes never affect it.
func (h *Hasher) CompilationHash(fid ir.FunctionID) (ir.ContentHash, error) {
	return h.hashFunction(fid, false)
}

// FullHash returns the hash over all nodes including contracts.
func (h *Hasher) FullHash(fid ir.FunctionID) (ir.ContentHash, error) {
	return h.hashFunction(fid, true)
}

// Hash dispatches on mode.
func (h *Hasher) Hash(fid ir.FunctionID, mode Mode) (ir.ContentHash, error) {
	return h.hashFunction(fid, mode == Full)
}

func (h *Hasher) hashFunction(fid ir.FunctionID, includeContracts bool) (ir.ContentHash, error) {
	nodeIDs, err := h.g.FunctionNodes(fid)
	if err != nil {
		return ir.ContentHash{}, err
	}

	// Content hashes of the function's own nodes, used for in-function
	// edge targets.
	kept := make([]ir.Node, 0, len(nodeIDs))
	local := make(map[ir.NodeID]ir.ContentHash, len(nodeIDs))
	contracts := make(map[ir.NodeID]bool)
	for _, nid := range nodeIDs {
		node, err := h.g.ComputeNode(nid)
		if err != nil {
			return ir.ContentHash{}, fmt.Errorf("function %s: %w", fid, err)
		}
		if node.Op.IsContract() && !includeContracts {
			contracts[nid] = true
			continue
		}
		nh, err := HashNode(node)
		if err != nil {
			return ir.ContentHash{}, fmt.Errorf("function %s: %w", fid, err)
		}
		local[nid] = nh
		kept = append(kept, node)
	}

	root := ir.NewDigest(ir.DomainFunction)
	for _, node := range kept {
		out, err := h.g.OutgoingEdges(node.ID)
		if err != nil {
			return ir.ContentHash{}, fmt.Errorf("function %s: %w", fid, err)
		}
		inputs := make([]EdgeInput, 0, len(out))
		for _, e := range out {
			if contracts[e.Target] {
				continue
			}
			th, ok := local[e.Target]
			if !ok {
				target, err := h.g.ComputeNode(e.Target)
				if err != nil {
					return ir.ContentHash{}, fmt.Errorf("function %s: edge %s -> %s: %w", fid, node.ID, e.Target, err)
				}
				if target.Op.IsContract() && !includeContracts {
					continue
				}
				th, err = HashNode(target)
				if err != nil {
					return ir.ContentHash{}, fmt.Errorf("function %s: %w", fid, err)
				}
			}
			inputs = append(inputs, EdgeInput{Target: e.Target, Edge: e.Edge, TargetHash: th})
		}
		composite, err := HashNodeWithEdges(node, inputs)
		if err != nil {
			return ir.ContentHash{}, fmt.Errorf("function %s: %w", fid, err)
		}
		root.WriteHash(composite)
	}
	return root.Sum(), nil
}

// Snapshot hashes every live function concurrently.
func (h *Hasher) Snapshot(ctx context.Context, mode Mode) (ir.HashSnapshot, error) {
	ids := make([]ir.FunctionID, 0)
	for id := range h.g.Functions() {
		ids = append(ids, id)
	}
	return h.SnapshotOf(ctx, mode, ids)
}

// SnapshotOf hashes the given functions concurrently.
func (h *Hasher) SnapshotOf(ctx context.Context, mode Mode, ids []ir.FunctionID) (ir.HashSnapshot, error) {
	ids = ir.SortedFunctionIDs(ids)
	hashes := make([]ir.ContentHash, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, fid := range ids {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			hash, err := h.Hash(fid, mode)
			if err != nil {
				return err
			}
			hashes[i] = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ir.HashSnapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	out := make(map[ir.FunctionID]ir.ContentHash, len(ids))
	for i, fid := range ids {
		out[fid] = hashes[i]
	}
	h.logger.Debug("hash snapshot computed", "mode", mode.String(), "functions", len(ids))
	return ir.NewHashSnapshot(out), nil
}
