package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/incremental"
)

// CallGraphOptions holds flags for the callgraph command.
type CallGraphOptions struct {
	*RootOptions
	Impact []string
}

// NamedCall is one caller -> callee pair by name.
type NamedCall struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// CallGraphResult is the direct-call graph of a program.
type CallGraphResult struct {
	Calls     []NamedCall `json:"calls"`
	Recursion [][]string  `json:"recursion"`
	// Impact is set with --impact: the changed functions plus every
	// transitive caller, the set to re-verify.
	Impact []string `json:"impact,omitempty"`
}

// NewCallGraphCommand creates the callgraph command.
func NewCallGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallGraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "callgraph <program>",
		Short: "Print the direct-call graph",
		Long: `Print every caller -> callee pair of a program and the recursive
groups among them.

Only direct calls are followed. A call_indirect target is unknown until run
time, so functions reached only that way are missing from the graph.

With --impact, also print the functions to re-verify if the named functions
change: the functions themselves and all their transitive callers.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallGraph(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Impact, "impact", nil, "functions whose change impact to print")

	return cmd
}

func runCallGraph(opts *CallGraphOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	prog, err := loadGraph(formatter, path)
	if err != nil {
		return err
	}
	g := prog.Graph

	cg, err := incremental.BuildCallGraph(g)
	if err != nil {
		return outputCommandError(formatter, ErrCodeInvalidProgram, err.Error(), nil)
	}

	meta := g.Functions()
	result := CallGraphResult{Calls: []NamedCall{}, Recursion: [][]string{}}
	for _, e := range cg.Edges() {
		result.Calls = append(result.Calls, NamedCall{Caller: meta[e.Caller].Name, Callee: meta[e.Callee].Name})
	}
	for _, group := range incremental.RecursionGroups(cg) {
		result.Recursion = append(result.Recursion, prog.names(group.Functions))
	}
	if len(opts.Impact) > 0 {
		changed, err := resolveFunctions(g, opts.Impact)
		if err != nil {
			return outputCommandError(formatter, ErrCodeUnknownName, err.Error(), nil)
		}
		result.Impact = prog.names(incremental.VerificationScope(changed, cg))
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Calls (%d):\n", len(result.Calls))
	for _, c := range result.Calls {
		fmt.Fprintf(w, "  %s -> %s\n", c.Caller, c.Callee)
	}
	if len(result.Recursion) > 0 {
		fmt.Fprintf(w, "\nRecursive groups (%d):\n", len(result.Recursion))
		for _, group := range result.Recursion {
			fmt.Fprintf(w, "  {%s}\n", strings.Join(group, ", "))
		}
	}
	if result.Impact != nil {
		fmt.Fprintf(w, "\nImpact of %s:\n  %s\n", strings.Join(opts.Impact, ", "), strings.Join(result.Impact, ", "))
	}
	return nil
}
