package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/store"
)

// CommitsOptions holds flags for the commits command.
type CommitsOptions struct {
	StoreOptions
	After   int64
	Limit   int
	Agent   string
	Program string // optional - resolve function ids to names
}

// CommitEntry is one commit in the log.
type CommitEntry struct {
	Seq        int64    `json:"seq"`
	Agent      string   `json:"agent"`
	Functions  []string `json:"functions"`
	Structural bool     `json:"structural"`
	Mutations  int      `json:"mutations"`
	Recompile  []string `json:"recompile"`
}

// CommitLog holds the commits output.
type CommitLog struct {
	Commits []CommitEntry `json:"commits"`
	Stats   CommitStats   `json:"stats"`
}

// CommitStats holds summary statistics for the listed commits.
type CommitStats struct {
	Total      int `json:"total"`
	Structural int `json:"structural"`
	Mutations  int `json:"mutations"`
	Agents     int `json:"agents"`
}

// NewCommitsCommand creates the commits command.
func NewCommitsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitsOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "Show the commit log",
		Long: `Show the commits recorded by a running server, oldest first.

Each commit lists the agent, the functions it touched, whether it was
structural and which functions it made dirty. Function ids are shown as
names from the store's function registry, and from --program for
functions the registry has not seen.

Examples:
  weft commits --db weft.db
  weft commits --db weft.db --after 40 --limit 10
  weft commits --db weft.db --agent 0190... --program ./program --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommits(opts, cmd)
		},
	}

	opts.bindFlags(cmd)
	cmd.Flags().Int64Var(&opts.After, "after", 0, "show commits with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum commits to show (0 = all)")
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "filter to one agent")
	cmd.Flags().StringVar(&opts.Program, "program", "", "program to resolve function names from")

	return cmd
}

func runCommits(opts *CommitsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx := cmd.Context()

	st, err := opts.openStore(formatter)
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := commitNames(ctx, opts, formatter, st)
	if err != nil {
		return err
	}
	records, err := st.ReadCommits(ctx, opts.After, opts.Limit)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}

	log := buildCommitLog(records, opts.Agent, names)
	if formatter.IsJSON() {
		return formatter.Success(log)
	}

	if len(log.Commits) == 0 {
		fmt.Fprintln(formatter.Writer, "No commits found.")
		return nil
	}
	table := formatter.Table("SEQ", "AGENT", "KIND", "MUTATIONS", "FUNCTIONS", "RECOMPILE")
	for _, c := range log.Commits {
		kind := "edit"
		if c.Structural {
			kind = "structural"
		}
		table.Row(c.Seq, c.Agent, kind, c.Mutations, strings.Join(c.Functions, ","), strings.Join(c.Recompile, ","))
	}
	if err := table.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "\n%d commit(s), %d structural, %d mutation(s), %d agent(s)\n",
		log.Stats.Total, log.Stats.Structural, log.Stats.Mutations, log.Stats.Agents)
	return nil
}

// commitNames maps function ids to names from the store's registry. With
// --program, names of functions the registry has not seen yet come from the
// program.
func commitNames(ctx context.Context, opts *CommitsOptions, formatter *OutputFormatter, st *store.Store) (map[ir.FunctionID]string, error) {
	names := make(map[ir.FunctionID]string)
	if opts.Program != "" {
		prog, err := loadStoredGraph(ctx, formatter, opts.Program, st, false)
		if err != nil {
			return nil, err
		}
		for id, meta := range prog.Graph.Functions() {
			names[id] = meta.Name
		}
		maps.Copy(names, prog.Retired)
		return names, nil
	}

	ids, err := st.FunctionIDs(ctx)
	if err != nil {
		return nil, outputCommandError(formatter, ErrCodeStore, err.Error(), nil)
	}
	for name, id := range ids {
		names[id] = name
	}
	return names, nil
}

// buildCommitLog filters records by agent and renders ids through names,
// sorted. Ids missing from names render numerically.
func buildCommitLog(records []store.CommitRecord, agent string, names map[ir.FunctionID]string) CommitLog {
	render := func(ids []ir.FunctionID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			if name, ok := names[id]; ok {
				out[i] = name
			} else {
				out[i] = id.String()
			}
		}
		slices.Sort(out)
		return out
	}

	log := CommitLog{Commits: []CommitEntry{}}
	agents := make(map[ir.AgentID]struct{})
	for _, r := range records {
		if agent != "" && string(r.Agent) != agent {
			continue
		}
		log.Commits = append(log.Commits, CommitEntry{
			Seq:        r.Seq,
			Agent:      string(r.Agent),
			Functions:  render(r.Functions),
			Structural: r.Structural,
			Mutations:  r.Mutations,
			Recompile:  render(r.Recompile),
		})
		agents[r.Agent] = struct{}{}
		log.Stats.Mutations += r.Mutations
		if r.Structural {
			log.Stats.Structural++
		}
	}
	log.Stats.Total = len(log.Commits)
	log.Stats.Agents = len(agents)
	return log
}
