package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/gitutil"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/spf13/cobra"
)

var compileLog = logger.New("cli:compile_command")

// stdoutPath selects standard output as the compile destination.
const stdoutPath = "-"

// CompileConfig holds the options of the compile command.
type CompileConfig struct {
	// Input is a workflow file to recompile; empty compiles the built-in
	// policy.
	Input string
	// Output is the destination path, "-" for stdout, or empty for the
	// default location under the repository root.
	Output  string
	Lint    bool
	Strict  bool
	Verbose bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the CI policy into a GitHub Actions workflow",
		Long: `Compile the CI policy into a GitHub Actions workflow file.

Without --input the built-in Rust policy is compiled: build on ubuntu-latest
against stable and nightly, plus format and lint verification jobs. With
--input an existing workflow file is parsed, validated and re-rendered.

The file is only rewritten when its content changes.

Examples:
  ` + constants.CLIName + ` compile                          # Write .github/workflows/ci.yml
  ` + constants.CLIName + ` compile --output -               # Print the workflow
  ` + constants.CLIName + ` compile --input ci.yml --lint    # Re-render and lint a workflow
  ` + constants.CLIName + ` compile --lint --strict          # Fail on any actionlint finding`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")
			lint, _ := cmd.Flags().GetBool("lint")
			strict, _ := cmd.Flags().GetBool("strict")
			cfg := CompileConfig{Input: input, Output: output, Lint: lint || strict, Strict: strict, Verbose: verbose}
			return RunCompile(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output path, or - for stdout (default: "+constants.DefaultWorkflowPath+" in the repository root)")
	cmd.Flags().StringP("input", "i", "", "Workflow file to recompile instead of the built-in policy")
	cmd.Flags().Bool("lint", false, "Run actionlint on the compiled workflow")
	cmd.Flags().Bool("strict", false, "Treat actionlint findings as errors (implies --lint)")

	return cmd
}

// RunCompile compiles the configured policy. Diagnostics go to stderr; the
// workflow goes to stdout when Output is "-".
func RunCompile(ctx context.Context, cfg CompileConfig, stdout, stderr io.Writer) error {
	compileLog.Printf("Compiling: input=%q, output=%q, lint=%v, strict=%v", cfg.Input, cfg.Output, cfg.Lint, cfg.Strict)

	wf, err := loadWorkflow(stderr, cfg.Input)
	if err != nil {
		return err
	}

	compiler := workflow.NewCompiler()
	compiler.SetVerbose(cfg.Verbose)
	compiler.SetQuiet(true)

	if cfg.Output == stdoutPath {
		content, err := compiler.Compile(wf)
		if err != nil {
			return reportCompileError(stderr, err)
		}
		if _, err := stdout.Write(content); err != nil {
			return fmt.Errorf("failed to write workflow: %w", err)
		}
		if cfg.Lint {
			stats := NewActionlintStats()
			if err := lintCompiledWorkflow(stderr, "<stdin>", content, cfg.Strict, stats); err != nil {
				return err
			}
			displayActionlintSummary(stderr, stats)
		}
		return nil
	}

	path := cfg.Output
	if path == "" {
		path = defaultOutputPath(ctx)
	}
	written, err := compiler.CompileToFile(wf, path)
	if err != nil {
		return reportCompileError(stderr, err)
	}
	if written {
		fmt.Fprintln(stderr, console.FormatSuccessMessage("Compiled "+console.ToRelativePath(path)))
	} else {
		fmt.Fprintln(stderr, console.FormatInfoMessage(console.ToRelativePath(path)+" is up to date"))
	}

	if cfg.Lint {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read compiled workflow: %w", err)
		}
		stats := NewActionlintStats()
		if err := lintCompiledWorkflow(stderr, path, content, cfg.Strict, stats); err != nil {
			return err
		}
		displayActionlintSummary(stderr, stats)
	}
	return nil
}

// defaultOutputPath places the workflow under the repository root, or the
// working directory outside a repository.
func defaultOutputPath(ctx context.Context) string {
	root, err := gitutil.FindGitRoot(ctx, ".")
	if err != nil {
		compileLog.Printf("Not in a git repository, using working directory: %v", err)
		root = "."
	}
	return filepath.Join(root, constants.DefaultWorkflowPath)
}

// reportCompileError prints every validation violation of a rejected
// policy before returning the error.
func reportCompileError(stderr io.Writer, err error) error {
	violations := workflow.ValidationErrors(err)
	if len(violations) == 0 {
		return err
	}
	for _, v := range violations {
		var suggestions []string
		if v.Suggestion != "" {
			suggestions = []string{v.Suggestion}
		}
		fmt.Fprintln(stderr, console.FormatErrorWithSuggestions(fmt.Sprintf("%s: %s", v.Field, v.Reason), suggestions))
	}
	return fmt.Errorf("compilation failed: %d validation errors", len(violations))
}
