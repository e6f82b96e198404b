// Package conflict compares agent-supplied expected hashes with the live
// graph before an edit commits.
//
// The graph keeps no structural history, so a FunctionDiff cannot say what
// changed. It reports the function's current nodes and edges as added and
// leaves Removed and Modified empty. Agents use it as the re-read payload,
// not as a true before/after diff.
package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
)

// ErrCodeHashConflict is the stable code of HashConflictError.
const ErrCodeHashConflict = "HASH_CONFLICT"

// EdgeRef is one edge in a FunctionDiff.
type EdgeRef struct {
	Source ir.NodeID `json:"source"`
	Target ir.NodeID `json:"target"`
	Edge   ir.Edge   `json:"edge"`
}

// FunctionDiff describes a function that no longer matches its expected
// hash.
type FunctionDiff struct {
	AddedNodes    []ir.NodeID `json:"added_nodes"`
	RemovedNodes  []ir.NodeID `json:"removed_nodes"`
	ModifiedNodes []ir.NodeID `json:"modified_nodes"`
	AddedEdges    []EdgeRef   `json:"added_edges"`
	RemovedEdges  []EdgeRef   `json:"removed_edges"`
}

// ConflictDetail is one expected-hash mismatch.
type ConflictDetail struct {
	FunctionID ir.FunctionID `json:"function_id"`
	Expected   string        `json:"expected"`
	Current    string        `json:"current"`
	Diff       FunctionDiff  `json:"diff"`
}

// HashConflictError aborts a commit whose expected hashes are stale.
// Recoverable: the agent re-reads the listed functions and re-plans.
type HashConflictError struct {
	Conflicts []ConflictDetail `json:"conflicts"`
}

func (e *HashConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.FunctionID.String()
	}
	return fmt.Sprintf("hash conflict on %d function(s): %s", len(e.Conflicts), strings.Join(ids, ", "))
}

// Code returns the stable error code.
func (e *HashConflictError) Code() string { return ErrCodeHashConflict }

// IsHashConflict reports whether err is or wraps a *HashConflictError.
func IsHashConflict(err error) bool {
	var e *HashConflictError
	return errors.As(err, &e)
}

// CheckHashes recomputes the full hash of every function in expected and
// returns one detail per mismatch, ordered by function. Hex comparison is
// case-insensitive. A function missing from g fails the whole check with a
// *graph.FunctionNotFoundError.
func CheckHashes(g graph.Reader, h *hashing.Hasher, expected map[ir.FunctionID]string) ([]ConflictDetail, error) {
	ids := make([]ir.FunctionID, 0, len(expected))
	for fid := range expected {
		ids = append(ids, fid)
	}

	details := make([]ConflictDetail, 0)
	for _, fid := range ir.SortedFunctionIDs(ids) {
		current, err := h.FullHash(fid)
		if err != nil {
			return nil, fmt.Errorf("check hashes: %w", err)
		}
		want := expected[fid]
		if strings.EqualFold(want, current.String()) {
			continue
		}
		diff, err := Diff(g, fid)
		if err != nil {
			return nil, fmt.Errorf("check hashes: %w", err)
		}
		details = append(details, ConflictDetail{
			FunctionID: fid,
			Expected:   strings.ToLower(want),
			Current:    current.String(),
			Diff:       diff,
		})
	}
	return details, nil
}

// Check runs CheckHashes and folds any mismatch into a *HashConflictError.
func Check(g graph.Reader, h *hashing.Hasher, expected map[ir.FunctionID]string, logger *slog.Logger) error {
	if len(expected) == 0 {
		return nil
	}
	details, err := CheckHashes(g, h, expected)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return nil
	}
	if logger != nil {
		logger.Warn("hash conflict", "functions", len(details), "first", details[0].FunctionID)
	}
	return &HashConflictError{Conflicts: details}
}

// Diff reports fid's current node and edge membership as added.
func Diff(g graph.Reader, fid ir.FunctionID) (FunctionDiff, error) {
	nodes, err := g.FunctionNodes(fid)
	if err != nil {
		return FunctionDiff{}, err
	}
	diff := FunctionDiff{
		AddedNodes:    append([]ir.NodeID{}, nodes...),
		RemovedNodes:  []ir.NodeID{},
		ModifiedNodes: []ir.NodeID{},
		AddedEdges:    []EdgeRef{},
		RemovedEdges:  []EdgeRef{},
	}
	for _, nid := range nodes {
		out, err := g.OutgoingEdges(nid)
		if err != nil {
			return FunctionDiff{}, err
		}
		for _, e := range out {
			diff.AddedEdges = append(diff.AddedEdges, EdgeRef{Source: nid, Target: e.Target, Edge: e.Edge})
		}
	}
	return diff, nil
}
