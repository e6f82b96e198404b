package incremental

import (
	"context"
	"fmt"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
)

// Result is a plan together with the inputs it was computed from.
type Result struct {
	Plan      Plan            `json:"plan"`
	Current   ir.HashSnapshot `json:"-"`
	CallGraph CallGraph       `json:"-"`
}

// PlanGraph hashes every function of g with compilation hashes, builds the
// call graph and compares against previous.
func PlanGraph(ctx context.Context, g graph.Reader, h *hashing.Hasher, previous ir.HashSnapshot) (Result, error) {
	current, err := h.Snapshot(ctx, hashing.Compilation)
	if err != nil {
		return Result{}, fmt.Errorf("plan: %w", err)
	}
	cg, err := BuildCallGraph(g)
	if err != nil {
		return Result{}, fmt.Errorf("plan: %w", err)
	}
	return Result{
		Plan:      ComputeDirty(current, previous, cg),
		Current:   current,
		CallGraph: cg,
	}, nil
}
