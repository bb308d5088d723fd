package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/spf13/cobra"
)

var validateLog = logger.New("cli:validate_command")

// ValidateConfig holds the options of the validate command.
type ValidateConfig struct {
	// Path is the workflow file; empty selects the default location.
	Path    string
	NoLint  bool
	Strict  bool
	Verbose bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a compiled CI workflow",
		Long: `Validate a workflow file against the workflow schema and the policy rules,
then lint it with actionlint.

Schema violations and policy errors are reported with their position in the
file. A workflow that is valid but differs from its compiled form produces a
warning.

Examples:
  ` + constants.CLIName + ` validate                               # Validate ` + constants.DefaultWorkflowPath + `
  ` + constants.CLIName + ` validate path/to/ci.yml --strict       # Fail on actionlint findings
  ` + constants.CLIName + ` validate --no-lint                     # Schema and policy checks only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			noLint, _ := cmd.Flags().GetBool("no-lint")
			strict, _ := cmd.Flags().GetBool("strict")
			cfg := ValidateConfig{NoLint: noLint, Strict: strict, Verbose: verbose}
			if len(args) > 0 {
				cfg.Path = args[0]
			}
			return RunValidate(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Bool("no-lint", false, "Skip actionlint")
	cmd.Flags().Bool("strict", false, "Treat actionlint findings as errors")

	return cmd
}

// RunValidate validates one workflow file, printing diagnostics to stderr.
func RunValidate(ctx context.Context, cfg ValidateConfig, stderr io.Writer) error {
	path := cfg.Path
	if path == "" {
		path = defaultOutputPath(ctx)
	}
	validateLog.Printf("Validating %s", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	wf, err := workflow.ParseWorkflow(content)
	if err != nil {
		if reportWorkflowError(stderr, path, content, err) {
			return fmt.Errorf("%s: %w", console.ToRelativePath(path), errReported)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	printWorkflowWarnings(stderr, wf)
	if cfg.Verbose {
		fmt.Fprintln(stderr, console.FormatVerboseMessage(fmt.Sprintf("Parsed %q with jobs %v", wf.Name, wf.JobIDs())))
	}

	compiled, err := workflow.NewCompiler().Compile(wf)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !bytes.Equal(compiled, content) {
		fmt.Fprintln(stderr, console.FormatWarningMessage(fmt.Sprintf(
			"%s differs from its compiled form; run '%s compile --input %s' to normalize it",
			console.ToRelativePath(path), constants.CLIName, console.ToRelativePath(path))))
	}

	if !cfg.NoLint {
		stats := NewActionlintStats()
		if err := lintCompiledWorkflow(stderr, path, content, cfg.Strict, stats); err != nil {
			return err
		}
		displayActionlintSummary(stderr, stats)
	}

	fmt.Fprintln(stderr, console.FormatSuccessMessage(console.ToRelativePath(path)+" is valid"))
	return nil
}
