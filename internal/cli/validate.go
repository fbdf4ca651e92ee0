package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/featuretables/internal/descriptor"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Root string // directory source refs resolve against
}

// ValidateResult is the outcome for one descriptor file.
type ValidateResult struct {
	File        string   `json:"file"`
	Valid       bool     `json:"valid"`
	Feature     string   `json:"feature,omitempty"`
	Tables      []string `json:"tables,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <descriptor>...",
		Short: "Validate feature descriptors",
		Long: `Parse and validate feature descriptors without applying them.

Each descriptor is decoded (CUE, YAML or JSON by extension), checked for
well-formed ops and schema tags, and every referenced source row set must
exist. Sources resolve against --root, the configured descriptor_root, or
the descriptor's own directory.`,
		Example: `  featuretables validate features/dlc1.yaml
  featuretables validate --format json features/*.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "directory that source refs resolve against")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions, files []string) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	root := opts.Root
	if root == "" {
		root = opts.Settings().DescriptorRoot
	}

	results := make([]ValidateResult, 0, len(files))
	invalid := 0
	for _, file := range files {
		res, err := validateFile(file, root)
		if err != nil {
			return handleValidateError(out, file, err)
		}
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
		out.VerboseLog("validated %s: valid=%t", file, res.Valid)
	}

	if !out.JSON() {
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(out.Writer, "ok    %s (%s: %d tables)\n", res.File, res.Feature, len(res.Tables))
				continue
			}
			fmt.Fprintf(out.Writer, "FAIL  %s\n", res.File)
			for _, msg := range res.Errors {
				fmt.Fprintf(out.Writer, "      %s\n", msg)
			}
		}
	}

	if invalid > 0 {
		msg := fmt.Sprintf("%d of %d descriptors invalid", invalid, len(results))
		if out.JSON() {
			if err := out.Failure(ErrCodeInvalid, msg, results); err != nil {
				return err
			}
		}
		return NewExitError(ExitFailure, msg)
	}

	if out.JSON() {
		return out.Success(results)
	}
	return nil
}

// validateFile returns an error only when the file cannot be read.
// Decoding and validation problems are reported in the result.
func validateFile(file, root string) (ValidateResult, error) {
	res := ValidateResult{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		return res, err
	}

	d, err := descriptor.ParseFile(data, file)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res, nil
	}
	res.Feature = d.Feature
	res.Tables = d.TableNames()

	for _, verr := range descriptor.Validate(d) {
		res.Errors = append(res.Errors, verr.Error())
	}

	if root == "" {
		root = filepath.Dir(file)
	}
	loader := descriptor.NewFileLoader(root)
	for _, ref := range d.AssetRefs() {
		if !loader.Exists(ref) {
			res.Errors = append(res.Errors, fmt.Sprintf("source %q not found (looked in %s)", ref, loader.Resolve(ref)))
		}
	}

	if len(res.Errors) == 0 {
		res.Valid = true
		res.Fingerprint, err = d.Fingerprint()
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func handleValidateError(out *OutputFormatter, file string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		_ = out.Error(ErrCodeNotFound, fmt.Sprintf("descriptor not found: %s", file), nil)
		return WrapExitError(ExitCommandError, "descriptor not found", err)
	}
	_ = out.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "validate failed", err)
}
