package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/store"
)

// StoreOptions holds the flags shared by commands that use the snapshot
// store.
type StoreOptions struct {
	*RootOptions
	Database string
	Label    string
}

func (o *StoreOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite store (default store.path from config)")
	cmd.Flags().StringVar(&o.Label, "label", "", "snapshot label (default store.snapshot_label from config)")
}

func (o *StoreOptions) storePath() string {
	if o.Database != "" {
		return o.Database
	}
	return o.Config.Store.Path
}

// openStore opens the store at storePath with the configured busy timeout.
func (o *StoreOptions) openStore(formatter *OutputFormatter) (*store.Store, error) {
	path := o.storePath()
	if path == "" {
		return nil, outputCommandError(formatter, ErrCodeStore, "no store path configured (use --db or store.path)", nil)
	}
	st, err := store.Open(path,
		store.WithLogger(o.logger()),
		store.WithBusyTimeout(o.Config.Store.BusyTimeout),
	)
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("opening store: %v", err), nil)
	}
	return st, nil
}

func (o *StoreOptions) label() string {
	switch {
	case o.Label != "":
		return o.Label
	case o.Config.Store.SnapshotLabel != "":
		return o.Config.Store.SnapshotLabel
	default:
		return engine.DefaultSnapshotLabel
	}
}

// SnapshotOptions holds flags for the snapshot subcommands.
type SnapshotOptions struct {
	StoreOptions
	Mode string
}

// SnapshotDetail is a stored snapshot with its hashes keyed by function id.
type SnapshotDetail struct {
	store.SnapshotInfo
	Hashes map[string]string `json:"hashes"`
}

// NewSnapshotCommand creates the snapshot command and its subcommands.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored hash snapshots",
		Long: `Save, list, show, delete and prune hash snapshots in the SQLite store.

A snapshot records every function's hash in one mode under a label. The
plan command compares the current program against the latest compilation
snapshot of a label.`,
	}

	cmd.AddCommand(newSnapshotSaveCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotShowCommand(rootOpts))
	cmd.AddCommand(newSnapshotDeleteCommand(rootOpts))
	cmd.AddCommand(newSnapshotPruneCommand(rootOpts))

	return cmd
}

func newSnapshotSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "save <program>",
		Short: "Hash a program and store the snapshot",
		Long: `Hash every function of a program and store the snapshot.

Saving a compilation snapshot after a successful build marks the current
state as built: the next plan reports only what changed since.

Examples:
  weft snapshot save ./program --db weft.db
  weft snapshot save ./program --mode full --label review`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotSave(opts, args[0], cmd)
		},
	}

	opts.bindFlags(cmd)
	cmd.Flags().StringVar(&opts.Mode, "mode", hashing.Compilation.String(), "hash mode (compilation|full)")

	return cmd
}

func runSnapshotSave(opts *SnapshotOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	mode, err := hashing.ParseMode(opts.Mode)
	if err != nil {
		return outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}
	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()
	prog, err := loadStoredGraph(ctx, formatter, path, st, true)
	if err != nil {
		return err
	}

	h := hashing.New(prog.Graph,
		hashing.WithWorkers(opts.Config.Hashing.Workers),
		hashing.WithLogger(opts.logger()),
	)
	snap, err := h.Snapshot(ctx, mode)
	if err != nil {
		return outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}
	seq, err := st.LastCommitSeq(ctx)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	id, err := st.SaveSnapshot(ctx, opts.label(), mode.String(), seq, snap)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	info, err := st.LoadSnapshot(ctx, id)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	opts.logger().Info("snapshot saved", "id", id, "label", info.Label, "mode", info.Mode, "functions", info.Functions)

	if formatter.IsJSON() {
		return formatter.Success(info.SnapshotInfo)
	}
	fmt.Fprintf(formatter.Writer, "✓ Saved snapshot %d (%s, %s): %d function(s)\n",
		info.ID, info.Label, info.Mode, info.Functions)
	return nil
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored snapshots",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotList(opts, cmd)
		},
	}
	opts.bindFlags(cmd)

	return cmd
}

func runSnapshotList(opts *StoreOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.ListSnapshots(cmd.Context())
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	if opts.Label != "" {
		kept := infos[:0]
		for _, info := range infos {
			if info.Label == opts.Label {
				kept = append(kept, info)
			}
		}
		infos = kept
	}

	if formatter.IsJSON() {
		return formatter.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No snapshots found.")
		return nil
	}
	table := formatter.Table("ID", "LABEL", "MODE", "FUNCTIONS", "COMMIT", "ENGINE")
	for _, info := range infos {
		table.Row(info.ID, info.Label, info.Mode, info.Functions, info.CommitSeq, info.EngineVersion)
	}
	return table.Flush()
}

func newSnapshotShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a stored snapshot's hashes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotShow(opts, args[0], cmd)
		},
	}
	opts.bindFlags(cmd)

	return cmd
}

func runSnapshotShow(opts *StoreOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	id, err := parseSnapshotID(arg)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(cmd.Context(), id)
	if err != nil {
		return snapshotError(formatter, err)
	}

	detail := SnapshotDetail{SnapshotInfo: snap.SnapshotInfo, Hashes: make(map[string]string, snap.Functions)}
	for fid, hex := range snap.Hashes.Hex() {
		detail.Hashes[fid.String()] = hex
	}

	if formatter.IsJSON() {
		return formatter.Success(detail)
	}
	fmt.Fprintf(formatter.Writer, "Snapshot %d (%s, %s) at commit %d, engine %s, schema %s\n\n",
		snap.ID, snap.Label, snap.Mode, snap.CommitSeq, snap.EngineVersion, snap.SchemaVersion)
	for _, fid := range snap.Hashes.IDs() {
		h, _ := snap.Hashes.Get(fid)
		fmt.Fprintf(formatter.Writer, "  %s  %s\n", fid, h)
	}
	return nil
}

func newSnapshotDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a stored snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			id, err := parseSnapshotID(args[0])
			if err != nil {
				return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
			}
			st, err := opts.openStore(formatter)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteSnapshot(cmd.Context(), id); err != nil {
				return snapshotError(formatter, err)
			}
			if formatter.IsJSON() {
				return formatter.Success(map[string]int64{"deleted": id})
			}
			fmt.Fprintf(formatter.Writer, "✓ Deleted snapshot %d\n", id)
			return nil
		},
	}
	opts.bindFlags(cmd)

	return cmd
}

// PruneOptions holds flags for snapshot prune.
type PruneOptions struct {
	SnapshotOptions
	Keep int
}

// PruneResult reports a prune run.
type PruneResult struct {
	Label   string `json:"label"`
	Mode    string `json:"mode"`
	Keep    int    `json:"keep"`
	Removed int64  `json:"removed"`
}

func newSnapshotPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{SnapshotOptions: SnapshotOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots of a label",
		Long: `Delete old snapshots of one label and mode, keeping the newest --keep.

Examples:
  weft snapshot prune --db weft.db
  weft snapshot prune --label agent-alice --keep 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotPrune(opts, cmd)
		},
	}

	opts.bindFlags(cmd)
	cmd.Flags().StringVar(&opts.Mode, "mode", hashing.Compilation.String(), "hash mode (compilation|full)")
	cmd.Flags().IntVar(&opts.Keep, "keep", 0, "snapshots to keep (default store.keep from config)")

	return cmd
}

func runSnapshotPrune(opts *PruneOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	mode, err := hashing.ParseMode(opts.Mode)
	if err != nil {
		return outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}
	keep := opts.Keep
	if !cmd.Flags().Changed("keep") {
		keep = opts.Config.Store.Keep
	}
	if keep < 1 {
		return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("--keep must be at least 1, got %d", keep), nil)
	}

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.PruneSnapshots(cmd.Context(), opts.label(), mode.String(), keep)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	result := PruneResult{Label: opts.label(), Mode: mode.String(), Keep: keep, Removed: removed}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Pruned %d snapshot(s) of %s (%s), kept newest %d\n",
		removed, result.Label, result.Mode, keep)
	return nil
}

func parseSnapshotID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid snapshot id %q", s)
	}
	return id, nil
}

// snapshotError reports a missing snapshot as a failure (exit 1) and any
// other store error as a command error.
func snapshotError(formatter *OutputFormatter, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "snapshot not found", err)
	}
	return outputCommandError(formatter, ErrCodeStore, fmt.Sprintf("store error: %v", err), nil)
}
