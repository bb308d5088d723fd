package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/envutil"
	"github.com/cipolicy/gh-ci/pkg/gitutil"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/runner"
	"github.com/spf13/cobra"
)

var runLog = logger.New("cli:run_command")

// ErrRunFailed is returned when at least one instance did not succeed.
var ErrRunFailed = errors.New("workflow run failed")

// RunConfig holds the options of the run command.
type RunConfig struct {
	Input  string
	Event  string
	Branch string
	Jobs   []string
	// Workspace is the repository to run in; the git root when empty.
	Workspace            string
	DryRun               bool
	NoCache              bool
	KeepWorkspaces       bool
	SkipToolchainInstall bool
	Verbose              bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the CI workflow locally for an event",
		Long: `Run every job instance the event triggers on this machine.

Each instance gets its own copy of the repository, provisions its toolchain
with rustup and runs its steps in order. Instances run in parallel (` + constants.MaxParallelEnvVar + `,
default ` + strconv.Itoa(constants.DefaultMaxParallel) + `); a failing instance never stops the others. Verification
jobs fail when they modify the working tree. Build dependencies are cached
under ` + constants.CacheDirEnvVar + ` keyed by ` + constants.LockfileName + `, image and toolchain.

The command exits non-zero when any instance fails. Ctrl-C cancels the run.

Examples:
  ` + constants.CLIName + ` run                                   # push to the current branch
  ` + constants.CLIName + ` run --event pull_request --branch main
  ` + constants.CLIName + ` run --job format-check --job lint-check
  ` + constants.CLIName + ` run --dry-run                         # Show the plan only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := RunConfig{}
			cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
			cfg.Input, _ = cmd.Flags().GetString("input")
			cfg.Event, _ = cmd.Flags().GetString("event")
			cfg.Branch, _ = cmd.Flags().GetString("branch")
			cfg.Jobs, _ = cmd.Flags().GetStringSlice("job")
			cfg.DryRun, _ = cmd.Flags().GetBool("dry-run")
			cfg.NoCache, _ = cmd.Flags().GetBool("no-cache")
			cfg.KeepWorkspaces, _ = cmd.Flags().GetBool("keep-workspaces")
			cfg.SkipToolchainInstall, _ = cmd.Flags().GetBool("skip-toolchain-install")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunWorkflow(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	addEventFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "Print the plan without running it")
	cmd.Flags().Bool("no-cache", false, "Disable the dependency cache")
	cmd.Flags().Bool("keep-workspaces", false, "Keep per-instance workspaces for inspection")
	cmd.Flags().Bool("skip-toolchain-install", false, "Use the toolchains already installed instead of running rustup")

	return cmd
}

// RunWorkflow plans and executes the event. Instance output and the result
// summary go to stderr.
func RunWorkflow(ctx context.Context, cfg RunConfig, stderr io.Writer) error {
	runLog.Printf("Running: event=%s, branch=%s, jobs=%v, dryRun=%v", cfg.Event, cfg.Branch, cfg.Jobs, cfg.DryRun)
	plan, err := buildPlan(ctx, stderr, cfg.Input, cfg.Event, cfg.Branch, cfg.Jobs)
	if err != nil {
		return err
	}
	if !plan.Triggered {
		fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("%s does not trigger %q, nothing to run", plan.Event, plan.Workflow.Name)))
		return nil
	}
	if cfg.DryRun {
		fmt.Fprint(stderr, renderPlanTable(plan))
		return nil
	}

	executor, err := newRunExecutor(ctx, cfg, stderr)
	if err != nil {
		return err
	}

	fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("Running %d instances for %s", len(plan.Instances), plan.Event)))
	result, err := executor.Run(ctx, plan)
	if err != nil {
		return err
	}
	fmt.Fprint(stderr, renderRunResult(result))

	if !result.Success() {
		fmt.Fprintln(stderr, console.FormatErrorMessage("Failed instances:"))
		for _, inst := range result.Failed() {
			fmt.Fprintln(stderr, console.FormatListItem(formatInstanceError(inst)))
		}
		return fmt.Errorf("%w: %d of %d instances did not succeed", ErrRunFailed, len(result.Failed()), len(result.Instances))
	}
	fmt.Fprintln(stderr, console.FormatSuccessMessage(fmt.Sprintf("All %d instances succeeded in %s", len(result.Instances), result.Duration.Round(time.Millisecond))))
	return nil
}

func newRunExecutor(ctx context.Context, cfg RunConfig, stderr io.Writer) (*runner.Executor, error) {
	workspace := cfg.Workspace
	if workspace == "" {
		root, err := gitutil.FindGitRoot(ctx, ".")
		if err != nil {
			return nil, fmt.Errorf("run must be started inside a git repository: %w", err)
		}
		workspace = root
	}

	if cfg.Verbose {
		fmt.Fprintln(stderr, console.FormatLocationMessage("Workspace: "+workspace))
	}
	if cfg.KeepWorkspaces {
		fmt.Fprintln(stderr, console.FormatLocationMessage("Instance workspaces are kept under "+os.TempDir()))
	}

	executor := runner.NewExecutor(workspace)
	executor.Output = stderr
	executor.KeepWorkspaces = cfg.KeepWorkspaces
	executor.Provisioner = &runner.HostProvisioner{SkipToolchainInstall: cfg.SkipToolchainInstall}

	if !cfg.NoCache {
		dir, err := envutil.CacheDir()
		if err != nil {
			fmt.Fprintln(stderr, console.FormatWarningMessage("Dependency cache disabled: "+err.Error()))
		} else {
			executor.Cache = runner.NewCacheStore(dir)
			if cfg.Verbose {
				fmt.Fprintln(stderr, console.FormatVerboseMessage("Cache directory: "+dir))
			}
		}
	}
	return executor, nil
}

func renderRunResult(result *runner.RunResult) string {
	rows := make([][]string, 0, len(result.Instances))
	for _, inst := range result.Instances {
		failedStep := "-"
		if inst.FailedStep >= 0 && inst.FailedStep < len(inst.Instance.Steps) {
			failedStep = inst.Instance.Steps[inst.FailedStep].Step.DisplayName()
		}
		exitCode := "-"
		if inst.Status == runner.StatusFailed && inst.ExitCode != 0 {
			exitCode = strconv.Itoa(inst.ExitCode)
		}
		rows = append(rows, []string{
			inst.Instance.DisplayName(),
			inst.Status.String(),
			failedStep,
			exitCode,
			inst.Duration.Round(time.Millisecond).String(),
		})
	}

	counts := result.Counts()
	return console.RenderTable(console.TableConfig{
		Title:     fmt.Sprintf("Run %s (%s)", result.ID, result.Event),
		Headers:   []string{"Instance", "Status", "Failed step", "Exit", "Duration"},
		Rows:      rows,
		ShowTotal: true,
		TotalRow: []string{
			"TOTAL",
			fmt.Sprintf("%d/%d succeeded", counts[runner.StatusSuccess], len(result.Instances)),
			"", "",
			result.Duration.Round(time.Millisecond).String(),
		},
	})
}

// formatInstanceError describes why an instance did not succeed.
func formatInstanceError(inst *runner.InstanceResult) string {
	if inst.Err == nil {
		return fmt.Sprintf("%s: %s", inst.Instance.DisplayName(), inst.Status)
	}
	return fmt.Sprintf("%s: %v", inst.Instance.DisplayName(), inst.Err)
}
