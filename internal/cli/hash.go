package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/hashing"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	Mode      string
	Functions []string
}

// FunctionHash is one function's hash.
type FunctionHash struct {
	Function string `json:"function"`
	ID       uint64 `json:"id"`
	Hash     string `json:"hash"`
}

// HashResult lists hashes in one mode.
type HashResult struct {
	Mode   string         `json:"mode"`
	Hashes []FunctionHash `json:"hashes"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <program>",
		Short: "Print function content hashes",
		Long: `Load a program and print the Merkle content hash of its functions.

Compilation hashes cover what codegen consumes and ignore contracts.
Full hashes also cover preconditions, postconditions and invariants, and
are what commits compare against expected hashes.

Examples:
  weft hash ./program
  weft hash ./program --mode full --function handle --function scale`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", hashing.Compilation.String(), "hash mode (compilation|full)")
	cmd.Flags().StringSliceVar(&opts.Functions, "function", nil, "functions to hash (default all)")

	return cmd
}

func runHash(opts *HashOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	mode, err := hashing.ParseMode(opts.Mode)
	if err != nil {
		return outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}

	prog, err := loadGraph(formatter, path)
	if err != nil {
		return err
	}
	ids, err := resolveFunctions(prog.Graph, opts.Functions)
	if err != nil {
		return outputCommandError(formatter, ErrCodeUnknownName, err.Error(), nil)
	}

	h := hashing.New(prog.Graph,
		hashing.WithWorkers(opts.Config.Hashing.Workers),
		hashing.WithLogger(opts.logger()),
	)
	snap, err := h.SnapshotOf(cmd.Context(), mode, ids)
	if err != nil {
		return outputCommandError(formatter, ErrCodeHash, err.Error(), nil)
	}

	meta := prog.Graph.Functions()
	result := HashResult{Mode: mode.String(), Hashes: make([]FunctionHash, 0, snap.Len())}
	for _, id := range snap.IDs() {
		hash, _ := snap.Get(id)
		result.Hashes = append(result.Hashes, FunctionHash{
			Function: meta[id].Name,
			ID:       uint64(id),
			Hash:     hash.String(),
		})
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	table := formatter.Table("FUNCTION", "ID", fmt.Sprintf("%s HASH", mode))
	for _, fh := range result.Hashes {
		table.Row(fh.Function, fh.ID, fh.Hash)
	}
	return table.Flush()
}
