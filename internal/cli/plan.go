package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/compiler"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/incremental"
	"github.com/roach88/weft/internal/ir"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	StoreOptions
	Watch     bool
	Debounce  time.Duration
	FailDirty bool
}

// PlanResult is a recompilation plan by function name.
type PlanResult struct {
	// Baseline is the snapshot compared against, 0 when there is none and
	// every function is new.
	Baseline        int64    `json:"baseline"`
	New             []string `json:"new"`
	Modified        []string `json:"modified"`
	Removed         []string `json:"removed"`
	DirtyDependents []string `json:"dirty_dependents"`
	Cached          []string `json:"cached"`
	Recompile       []string `json:"recompile"`
	NeedsRecompile  bool     `json:"needs_recompile"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "plan <program>",
		Short: "Compute the incremental recompilation plan",
		Long: `Compare a program's compilation hashes against the latest stored
compilation snapshot and print what must be recompiled.

Directly changed functions are new or modified; their transitive callers
are dirty dependents; everything else is cached. Without a stored snapshot
every function is new.

With --watch the plan is recomputed whenever a .cue file under the program
changes, until interrupted.

Exit codes:
  0 - Plan computed (or --fail-dirty and nothing to recompile)
  1 - --fail-dirty and something must be recompiled
  2 - Command error

Examples:
  weft plan ./program --db weft.db
  weft plan ./program --watch
  weft plan ./program --fail-dirty --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				return runPlanWatch(opts, args[0], cmd)
			}
			return runPlan(opts, args[0], cmd)
		},
	}

	opts.bindFlags(cmd)
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "recompute the plan when program files change")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", DefaultDebounce, "quiet period before recomputing in watch mode")
	cmd.Flags().BoolVar(&opts.FailDirty, "fail-dirty", false, "exit 1 when anything needs recompiling")

	return cmd
}

func runPlan(opts *PlanOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	result, err := computePlan(cmd.Context(), opts, formatter, path)
	if err != nil {
		return err
	}
	if err := outputPlan(formatter, result); err != nil {
		return err
	}
	if opts.FailDirty && result.NeedsRecompile {
		return NewExitError(ExitFailure, fmt.Sprintf("%d function(s) need recompiling", len(result.Recompile)))
	}
	return nil
}

// runPlanWatch prints a plan now and after every program change. Load
// errors are reported and the watch continues.
func runPlanWatch(opts *PlanOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replan := func() {
		result, err := computePlan(ctx, opts, formatter, path)
		if err != nil {
			// Already reported through the formatter.
			logger.Debug("plan failed", "error", err)
			return
		}
		if err := outputPlan(formatter, result); err != nil {
			logger.Warn("write plan", "error", err)
		}
	}

	replan()
	if err := watchProgram(ctx, path, opts.Debounce, logger, replan); err != nil {
		return outputCommandError(formatter, watchErrorCode(err), err.Error(), nil)
	}
	return nil
}

func watchErrorCode(err error) string {
	if errors.Is(err, os.ErrNotExist) {
		return compiler.ErrCodeNotFound
	}
	return compiler.ErrCodeGeneric
}

// computePlan loads the program and compares it against the latest
// compilation snapshot of the label. Function ids come from the store's
// registry so renumbering never shows up as a change. A store file that
// does not exist yet is treated as empty rather than created.
func computePlan(ctx context.Context, opts *PlanOptions, formatter *OutputFormatter, path string) (PlanResult, error) {
	var (
		prog     *loadedProgram
		previous ir.HashSnapshot
		baseline int64
		err      error
	)
	if dbPath := opts.storePath(); dbPath != "" && fileExists(dbPath) {
		prog, previous, baseline, err = loadPlanBaseline(ctx, opts, formatter, path)
	} else {
		prog, err = loadGraph(formatter, path)
	}
	if err != nil {
		return PlanResult{}, err
	}
	g := prog.Graph

	h := hashing.New(g,
		hashing.WithWorkers(opts.Config.Hashing.Workers),
		hashing.WithLogger(opts.logger()),
	)
	res, err := incremental.PlanGraph(ctx, g, h, previous)
	if err != nil {
		return PlanResult{}, outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}

	plan := res.Plan
	return PlanResult{
		Baseline:        baseline,
		New:             prog.names(plan.Dirty.New),
		Modified:        prog.names(plan.Dirty.Modified),
		Removed:         prog.names(plan.Dirty.Removed),
		DirtyDependents: prog.names(plan.DirtyDependents),
		Cached:          prog.names(plan.Cached),
		Recompile:       prog.names(plan.Recompile()),
		NeedsRecompile:  plan.NeedsRecompile,
	}, nil
}

// loadPlanBaseline loads the program against the store's registry and
// returns the latest compilation snapshot of the label, if any. The store
// is only read.
func loadPlanBaseline(ctx context.Context, opts *PlanOptions, formatter *OutputFormatter, path string) (*loadedProgram, ir.HashSnapshot, int64, error) {
	st, err := opts.openStore(formatter)
	if err != nil {
		return nil, ir.HashSnapshot{}, 0, err
	}
	defer st.Close()

	prog, err := loadStoredGraph(ctx, formatter, path, st, false)
	if err != nil {
		return nil, ir.HashSnapshot{}, 0, err
	}
	snap, ok, err := st.LatestSnapshot(ctx, opts.label(), hashing.Compilation.String())
	if err != nil {
		return nil, ir.HashSnapshot{}, 0, outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	if !ok {
		return prog, ir.HashSnapshot{}, 0, nil
	}
	formatter.VerboseLog("Comparing against snapshot %d (%d function(s))", snap.ID, snap.Functions)
	return prog, snap.Hashes, snap.ID, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func outputPlan(formatter *OutputFormatter, result PlanResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if result.Baseline == 0 {
		fmt.Fprintln(w, "No baseline snapshot: every function is new.")
	} else {
		fmt.Fprintf(w, "Compared against snapshot %d.\n", result.Baseline)
	}
	if !result.NeedsRecompile && len(result.Removed) == 0 {
		fmt.Fprintf(w, "✓ Up to date (%d function(s) cached)\n", len(result.Cached))
		return nil
	}
	writeList(w, "New", result.New)
	writeList(w, "Modified", result.Modified)
	writeList(w, "Removed", result.Removed)
	writeList(w, "Dirty dependents", result.DirtyDependents)
	fmt.Fprintf(w, "Recompile %d, cached %d\n", len(result.Recompile), len(result.Cached))
	return nil
}

func writeList(w io.Writer, title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d): %s\n", title, len(names), strings.Join(names, ", "))
}
