package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/featuretables/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	DB      string // journal database path
	Feature string // only this feature's transitions
	Commits bool   // include table commits
}

// TraceResult is the journaled history.
type TraceResult struct {
	Transitions []store.TransitionRecord `json:"transitions"`
	Commits     []store.CommitRecord     `json:"commits,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace --db <journal>",
		Short: "Print journaled feature transitions",
		Long: `Print the transitions journaled by merge, in sequence order.

With --commits the table commits are listed too, one line per version.`,
		Example: `  featuretables trace --db journal.db
  featuretables trace --db journal.db --feature DLC1
  featuretables trace --db journal.db --commits --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "journal database path")
	cmd.Flags().StringVar(&opts.Feature, "feature", "", "only this feature's transitions")
	cmd.Flags().BoolVar(&opts.Commits, "commits", false, "include table commits")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openJournal(out, opts.DB, opts.Settings().DB)
	if err != nil {
		return err
	}
	defer st.Close()

	var result TraceResult
	result.Transitions, err = st.ReadTransitions(ctx, opts.Feature)
	if err != nil {
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}
	if opts.Commits {
		result.Commits, err = st.ReadCommits(ctx, "")
		if err != nil {
			_ = out.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read commits", err)
		}
	}

	if out.JSON() {
		return out.Success(result)
	}

	if len(result.Transitions) == 0 {
		fmt.Fprintln(out.Writer, "No transitions journaled.")
	}
	for _, r := range result.Transitions {
		line := fmt.Sprintf("%6d  %-16s %-9s -> %-9s", r.Seq, r.FeatureID, r.From, r.To)
		if r.ActivationID != "" {
			line += "  " + r.ActivationID
		}
		if r.Error != "" {
			line += "  error: " + r.Error
		}
		fmt.Fprintln(out.Writer, line)
	}
	for _, c := range result.Commits {
		status := fmt.Sprintf("%d rows", c.RowCount)
		if c.Dropped {
			status = "dropped"
		}
		fmt.Fprintf(out.Writer, "%6d  commit %-16s %s\n", c.Version, c.Table, status)
	}
	return nil
}

// openJournal opens an existing journal. flag wins over the configured
// path. Read commands never create a database.
func openJournal(out *OutputFormatter, flag, configured string) (*store.Store, error) {
	path := flag
	if path == "" {
		path = configured
	}
	if path == "" {
		_ = out.Error(ErrCodeGeneric, "--db is required", nil)
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(path); err != nil {
		_ = out.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", path), nil)
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(path)
	if err != nil {
		_ = out.Error(ErrCodeGeneric, fmt.Sprintf("failed to open journal: %v", err), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}
