package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/weft/internal/compiler"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/store"
)

// CLI error codes, after the loader's E001-E099 range.
const (
	ErrCodeInvalidProgram = "E120" // program failed validation
	ErrCodeWriteFailed    = "E121" // output file could not be written
	ErrCodeStore          = "E122" // snapshot store unavailable or failed
	ErrCodeHash           = "E123" // hashing failed
	ErrCodeUnknownName    = "E124" // unknown function name on the command line
)

// loadedProgram is a program loaded from disk and materialized as a graph.
type loadedProgram struct {
	*compiler.LoadResult
	Graph *graph.Mem
	// Retired names registry ids whose functions are no longer in the
	// program, so plans can still name what was removed.
	Retired map[ir.FunctionID]string
}

// loadGraph loads the CUE program at path fail-fast, validates it and
// builds the reference graph with ids assigned by name. Failures are
// reported through formatter and returned as command errors.
func loadGraph(formatter *OutputFormatter, path string) (*loadedProgram, error) {
	res, err := loadProgram(formatter, path)
	if err != nil {
		return nil, err
	}
	return buildGraph(formatter, res, nil)
}

// loadStoredGraph loads the program at path with function ids from the
// store's registry, so hashes compare with the store's snapshots across
// program edits. With register, names the registry has not seen are
// assigned ids and persisted first. Without it they get the ids
// registration would assign, and the store is not written.
func loadStoredGraph(ctx context.Context, formatter *OutputFormatter, path string, st *store.Store, register bool) (*loadedProgram, error) {
	res, err := loadProgram(formatter, path)
	if err != nil {
		return nil, err
	}

	var ids map[string]ir.FunctionID
	if register {
		names := make([]string, len(res.Program.Functions))
		for i, fn := range res.Program.Functions {
			names[i] = fn.Name
		}
		ids, err = st.RegisterFunctions(ctx, names)
	} else {
		ids, err = st.FunctionIDs(ctx)
	}
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	formatter.VerboseLog("Function registry has %d name(s)", len(ids))
	return buildGraph(formatter, res, ids)
}

func loadProgram(formatter *OutputFormatter, path string) (*compiler.LoadResult, error) {
	res, errs := compiler.LoadProgram(path, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		code, message := parseLoadError(errs[0])
		return nil, outputCommandError(formatter, code, message, nil)
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", res.FileCount, path)

	if verrs := compiler.ValidateProgram(&res.Program); len(verrs) > 0 {
		return nil, outputCommandError(formatter, ErrCodeInvalidProgram,
			fmt.Sprintf("program is invalid: %s (run validate for all errors)", verrs[0].Error()), verrs)
	}
	return res, nil
}

func buildGraph(formatter *OutputFormatter, res *compiler.LoadResult, ids map[string]ir.FunctionID) (*loadedProgram, error) {
	g, err := graph.FromProgram(res.Program, graph.WithFunctionIDs(ids))
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeInvalidProgram, err.Error(), nil)
	}
	formatter.VerboseLog("Graph has %d function(s)", len(g.Functions()))

	retired := make(map[ir.FunctionID]string)
	for name, id := range ids {
		if _, ok := g.FunctionByName(name); !ok {
			retired[id] = name
		}
	}
	return &loadedProgram{LoadResult: res, Graph: g, Retired: retired}, nil
}

// names maps ids to names, sorted by name. Retired functions keep their
// names; ids unknown to both render in their numeric form.
func (p *loadedProgram) names(ids []ir.FunctionID) []string {
	return functionNames(p.Graph, ids, p.Retired)
}

// parseLoadError extracts error code and message from a loader error.
func parseLoadError(err error) (string, string) {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ErrCodeCompile, compileErr.Error()
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// outputCommandError outputs a single error and returns it as a command
// error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// functionNames maps ids to names, sorted by name. Ids unknown to g are
// looked up in fallback, then render in their numeric form.
func functionNames(g *graph.Mem, ids []ir.FunctionID, fallback map[ir.FunctionID]string) []string {
	meta := g.Functions()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if m, ok := meta[id]; ok {
			out = append(out, m.Name)
		} else if name, ok := fallback[id]; ok {
			out = append(out, name)
		} else {
			out = append(out, id.String())
		}
	}
	slices.Sort(out)
	return out
}

// resolveFunctions maps names to ids. An empty list means every function,
// ascending by id.
func resolveFunctions(g *graph.Mem, names []string) ([]ir.FunctionID, error) {
	if len(names) == 0 {
		ids := make([]ir.FunctionID, 0, len(g.Functions()))
		for id := range g.Functions() {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		return ids, nil
	}
	ids := make([]ir.FunctionID, len(names))
	for i, name := range names {
		id, ok := g.FunctionByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown function %q", name)
		}
		ids[i] = id
	}
	return ids, nil
}
