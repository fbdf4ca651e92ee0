package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/descriptor"
	"github.com/roach88/featuretables/internal/engine"
	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/store"
	"github.com/roach88/featuretables/internal/table"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Tables string // base table set file
	DB     string // journal database path
	Root   string // directory descriptor refs resolve against
	Revert bool   // deactivate every feature after printing
}

// MergeResult is the effective state after applying the features.
type MergeResult struct {
	Features []engine.FeatureStatus    `json:"features"`
	Tables   map[string]map[string]any `json:"tables"`
	Errors   []string                  `json:"errors,omitempty"`
}

// featureArg is one feature=descriptor argument.
type featureArg struct {
	ID  string
	Ref descriptor.Ref
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge --tables <tables> [feature=descriptor]...",
		Short: "Activate features over base tables and print the result",
		Long: `Declare the base tables, activate each feature in argument order and
print the effective tables once every activation has settled.

With --db every transition and table commit is journaled to SQLite.
Sequence numbers resume from the journal's last entry, so repeated runs
append to the same history.`,
		Example: `  featuretables merge --tables base.yaml DLC1=features/dlc1.yaml DLC2=features/dlc2.cue
  featuretables merge --tables base.yaml --db journal.db --revert DLC1=dlc1.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Tables, "tables", "", "base table set file (CUE, YAML or JSON)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "journal database path")
	cmd.Flags().StringVar(&opts.Root, "root", "", "directory that descriptor refs resolve against")
	cmd.Flags().BoolVar(&opts.Revert, "revert", false, "deactivate every feature before exiting")

	return cmd
}

func runMerge(cmd *cobra.Command, opts *MergeOptions, args []string) error {
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
	cfg := opts.Settings()

	features, err := parseFeatureArgs(args)
	if err != nil {
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	dbPath := opts.DB
	if dbPath == "" {
		dbPath = cfg.DB
	}
	root := opts.Root
	if root == "" {
		root = cfg.DescriptorRoot
	}

	clock := registry.NewClock()
	regOpts := []registry.Option{registry.WithLazyTables(cfg.LazyTables)}
	var engOpts []engine.Option

	if dbPath != "" {
		var storeOpts []store.Option
		if cfg.FullSync {
			storeOpts = append(storeOpts, store.WithFullSync())
		}
		st, err := store.Open(dbPath, storeOpts...)
		if err != nil {
			_ = out.Error(ErrCodeGeneric, fmt.Sprintf("failed to open journal: %v", err), nil)
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer st.Close()

		last, err := lastSequence(ctx, st)
		if err != nil {
			_ = out.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		clock = registry.NewClockAt(last)
		regOpts = append(regOpts, registry.WithCommitHook(st.CommitHook(ctx)))
		engOpts = append(engOpts, engine.WithJournal(st))
		out.VerboseLog("journal %s resumes after seq %d", dbPath, last)
	}

	reg := registry.New(append(regOpts, registry.WithClock(clock))...)

	if opts.Tables == "" {
		opts.Tables = cfg.Tables
	}
	if opts.Tables != "" {
		if err := declareTables(reg, opts.Tables); err != nil {
			return handleTablesError(out, opts.Tables, err)
		}
	}

	var cmdErrs []string
	engOpts = append(engOpts,
		engine.WithClock(clock),
		engine.WithPreload(cfg.Preload),
		engine.WithErrorHandler(func(c engine.Command, err error) {
			cmdErrs = append(cmdErrs, err.Error())
		}),
	)
	if opts.Verbose {
		engOpts = append(engOpts, engine.WithObserver(func(t action.Transition) {
			out.VerboseLog("%s: %s -> %s", t.FeatureID, t.From, t.To)
		}))
	}
	eng := engine.New(reg, descriptor.NewFileLoader(root), engOpts...)

	for _, f := range features {
		if cfg.Preload {
			eng.Register(f.ID, f.Ref)
		}
		eng.Activate(f.ID, f.Ref)
	}
	if err := eng.Drain(ctx); err != nil {
		return WrapExitError(ExitCommandError, "merge interrupted", err)
	}

	result := MergeResult{
		Features: eng.Features(),
		Tables:   make(map[string]map[string]any),
		Errors:   cmdErrs,
	}
	snap := reg.Snapshot()
	for _, name := range snap.Names() {
		t, _ := snap.Table(name)
		result.Tables[name] = rowsDocument(t.Rows)
	}

	failed := 0
	for _, st := range result.Features {
		if st.State == action.Failed {
			failed++
		}
	}

	if !out.JSON() {
		writeMergeText(out, result, snap)
	}

	if opts.Revert {
		for _, f := range features {
			eng.Deactivate(f.ID)
		}
		if err := eng.Drain(ctx); err != nil {
			return WrapExitError(ExitCommandError, "revert interrupted", err)
		}
		out.VerboseLog("reverted %d features", len(features))
	}

	if failed > 0 || len(cmdErrs) > 0 {
		msg := fmt.Sprintf("%d of %d features failed", failed, len(features))
		if failed == 0 {
			msg = fmt.Sprintf("%d command errors", len(cmdErrs))
		}
		if out.JSON() {
			if err := out.Failure(ErrCodeActivation, msg, result); err != nil {
				return err
			}
		} else {
			for _, e := range cmdErrs {
				fmt.Fprintf(out.Writer, "error: %s\n", e)
			}
		}
		return NewExitError(ExitFailure, msg)
	}

	if out.JSON() {
		return out.Success(result)
	}
	return nil
}

func writeMergeText(out *OutputFormatter, result MergeResult, snap *registry.Snapshot) {
	fmt.Fprintln(out.Writer, "Features:")
	for _, st := range result.Features {
		line := fmt.Sprintf("  %-16s %s", st.FeatureID, st.State)
		if st.Err != "" {
			line += "  (" + st.Err + ")"
		}
		fmt.Fprintln(out.Writer, line)
	}
	for _, name := range snap.Names() {
		t, _ := snap.Table(name)
		fmt.Fprintf(out.Writer, "Table %s (%d rows):\n", name, t.Len())
		writeRows(out.Writer, t.Rows)
	}
}

// parseFeatureArgs splits feature=descriptor arguments.
func parseFeatureArgs(args []string) ([]featureArg, error) {
	seen := make(map[string]bool)
	out := make([]featureArg, 0, len(args))
	for _, arg := range args {
		id, ref, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q: expected feature=descriptor", arg)
		}
		if id == "" || ref == "" {
			return nil, fmt.Errorf("argument %q: feature and descriptor are required", arg)
		}
		if seen[id] {
			return nil, fmt.Errorf("feature %q given twice", id)
		}
		seen[id] = true
		out = append(out, featureArg{ID: id, Ref: descriptor.Ref(ref)})
	}
	return out, nil
}

// declareTables declares every table in the table set file and installs
// its base rows.
func declareTables(reg *registry.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tables, err := descriptor.ParseTableSetFile(data, path)
	if err != nil {
		return err
	}
	for _, bt := range tables {
		h, err := reg.Declare(bt.Name, bt.Schema)
		if err != nil {
			return err
		}
		if err := h.SetBase(bt.Rows); err != nil {
			return err
		}
	}
	return nil
}

func handleTablesError(out *OutputFormatter, path string, err error) error {
	if os.IsNotExist(err) {
		_ = out.Error(ErrCodeNotFound, fmt.Sprintf("tables file not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "tables file not found", err)
	}
	code := ErrCodeParse
	if table.IsSchemaMismatch(err) {
		code = ErrCodeInvalid
	}
	_ = out.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to declare tables", err)
}

// lastSequence returns the highest seq or version in the journal; both
// come from the same clock.
func lastSequence(ctx context.Context, st *store.Store) (int64, error) {
	seq, err := st.LastSeq(ctx)
	if err != nil {
		return 0, err
	}
	version, err := st.LastVersion(ctx)
	if err != nil {
		return 0, err
	}
	return max(seq, version), nil
}
