package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/gitutil"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/spf13/cobra"
)

var planLog = logger.New("cli:plan_command")

// PlanConfig holds the options of the plan command.
type PlanConfig struct {
	Input  string
	Event  string
	Branch string
	Jobs   []string
	JSON   bool
}

// PlannedInstance is the JSON form of one job instance.
type PlannedInstance struct {
	Name       string            `json:"name"`
	Job        string            `json:"job"`
	Matrix     map[string]string `json:"matrix,omitempty"`
	RunsOn     string            `json:"runs_on"`
	Toolchain  string            `json:"toolchain,omitempty"`
	Components []string          `json:"components,omitempty"`
	VerifyOnly bool              `json:"verify_only"`
	Steps      []string          `json:"steps"`
	Skipped    []string          `json:"skipped,omitempty"`
}

// PlanOutput is the JSON form of an execution plan.
type PlanOutput struct {
	Workflow  string            `json:"workflow"`
	Event     string            `json:"event"`
	Branch    string            `json:"branch,omitempty"`
	Triggered bool              `json:"triggered"`
	Instances []PlannedInstance `json:"instances"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which job instances an event would run",
		Long: `Show the job instances an event triggers: one row per job and matrix
combination, with the runner image, toolchain and the steps that run or are
skipped by their guards.

push and pull_request events need a branch; it defaults to the current git
branch. For pull_request the branch is the target branch.

Examples:
  ` + constants.CLIName + ` plan --event push --branch dev
  ` + constants.CLIName + ` plan --event pull_request --branch main --json
  ` + constants.CLIName + ` plan --event merge_group --job build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := PlanConfig{}
			cfg.Input, _ = cmd.Flags().GetString("input")
			cfg.Event, _ = cmd.Flags().GetString("event")
			cfg.Branch, _ = cmd.Flags().GetString("branch")
			cfg.Jobs, _ = cmd.Flags().GetStringSlice("job")
			cfg.JSON, _ = cmd.Flags().GetBool("json")
			return RunPlan(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	addEventFlags(cmd)
	cmd.Flags().Bool("json", false, "Output the plan as JSON")

	return cmd
}

// addEventFlags registers the flags shared by plan and run.
func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("event", "e", string(workflow.EventPush), "Event kind: push, pull_request or merge_group")
	cmd.Flags().StringP("branch", "b", "", "Pushed or target branch (default: current git branch)")
	cmd.Flags().StringSliceP("job", "j", nil, "Only include these job IDs")
	cmd.Flags().StringP("input", "i", "", "Workflow file to plan instead of the built-in policy")
	_ = cmd.RegisterFlagCompletionFunc("event", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		kinds := make([]string, len(workflow.EventKinds))
		for i, k := range workflow.EventKinds {
			kinds[i] = string(k)
		}
		return kinds, cobra.ShellCompDirectiveNoFileComp
	})
}

// resolveEvent builds the event, taking the branch from git when a
// branch-filtered event has none.
func resolveEvent(ctx context.Context, kind, branch string) (workflow.Event, error) {
	if branch == "" && workflow.EventKind(kind) != workflow.EventMergeGroup {
		current, err := gitutil.CurrentBranch(ctx, ".")
		if err != nil {
			return workflow.Event{}, fmt.Errorf("no --branch given and the current branch is unknown: %w", err)
		}
		planLog.Printf("Using current branch %s", current)
		branch = current
	}
	if workflow.EventKind(kind) == workflow.EventMergeGroup {
		branch = ""
	}
	if gitutil.LooksLikeCommitSHA(branch) {
		return workflow.Event{}, fmt.Errorf("--branch %q looks like a commit SHA; branch filters match branch names", branch)
	}
	return workflow.ParseEvent(kind, branch)
}

// buildPlan loads the workflow, plans the event and applies the job filter.
func buildPlan(ctx context.Context, stderr io.Writer, input, event, branch string, jobs []string) (*workflow.ExecutionPlan, error) {
	wf, err := loadWorkflow(stderr, input)
	if err != nil {
		return nil, err
	}
	ev, err := resolveEvent(ctx, event, branch)
	if err != nil {
		return nil, err
	}
	plan, err := workflow.Plan(wf, ev)
	if err != nil {
		return nil, err
	}
	if err := plan.FilterJobs(jobs...); err != nil {
		return nil, err
	}
	return plan, nil
}

// RunPlan prints the execution plan: a table on stderr, or JSON on stdout.
func RunPlan(ctx context.Context, cfg PlanConfig, stdout, stderr io.Writer) error {
	planLog.Printf("Planning: event=%s, branch=%s, jobs=%v", cfg.Event, cfg.Branch, cfg.Jobs)
	plan, err := buildPlan(ctx, stderr, cfg.Input, cfg.Event, cfg.Branch, cfg.Jobs)
	if err != nil {
		return err
	}

	if cfg.JSON {
		data, err := json.MarshalIndent(newPlanOutput(plan), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		fmt.Fprintln(stdout, string(data))
		return nil
	}

	if !plan.Triggered {
		fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("%s does not trigger %q", plan.Event, plan.Workflow.Name)))
		return nil
	}
	fmt.Fprint(stderr, renderPlanTable(plan))
	return nil
}

func newPlanOutput(plan *workflow.ExecutionPlan) PlanOutput {
	out := PlanOutput{
		Workflow:  plan.Workflow.Name,
		Event:     string(plan.Event.Kind),
		Branch:    plan.Event.Branch,
		Triggered: plan.Triggered,
		Instances: []PlannedInstance{},
	}
	for _, inst := range plan.Instances {
		pi := PlannedInstance{
			Name:       inst.DisplayName(),
			Job:        inst.JobID,
			RunsOn:     inst.RunsOn,
			VerifyOnly: inst.VerifyOnly,
			Steps:      []string{},
		}
		if len(inst.Matrix) > 0 {
			pi.Matrix = make(map[string]string, len(inst.Matrix))
			for _, av := range inst.Matrix {
				pi.Matrix[av.Axis] = av.Value
			}
		}
		if inst.Toolchain != nil {
			pi.Toolchain = inst.Toolchain.Channel
			pi.Components = inst.Toolchain.Components
		}
		for _, ps := range inst.Steps {
			if ps.Skipped {
				pi.Skipped = append(pi.Skipped, ps.Step.DisplayName())
			} else {
				pi.Steps = append(pi.Steps, ps.Step.DisplayName())
			}
		}
		out.Instances = append(out.Instances, pi)
	}
	return out
}

func renderPlanTable(plan *workflow.ExecutionPlan) string {
	rows := make([][]string, 0, len(plan.Instances))
	for _, inst := range plan.Instances {
		toolchain := "-"
		if inst.Toolchain != nil {
			toolchain = inst.Toolchain.Channel
			if workflow.IsUnstableChannel(toolchain) {
				toolchain += " (unstable)"
			}
			if len(inst.Toolchain.Components) > 0 {
				toolchain += " +" + strings.Join(inst.Toolchain.Components, ",")
			}
		}
		var skipped []string
		for _, ps := range inst.Steps {
			if ps.Skipped {
				skipped = append(skipped, ps.Step.DisplayName())
			}
		}
		skippedCell := "-"
		if len(skipped) > 0 {
			skippedCell = strings.Join(skipped, ", ")
		}
		mode := "build"
		if inst.VerifyOnly {
			mode = "verify"
		}
		rows = append(rows, []string{
			inst.DisplayName(),
			inst.RunsOn,
			toolchain,
			mode,
			fmt.Sprintf("%d/%d", len(inst.ActiveSteps()), len(inst.Steps)),
			skippedCell,
		})
	}

	return console.RenderTable(console.TableConfig{
		Title:     fmt.Sprintf("%s: %s triggers %d instances", plan.Workflow.Name, plan.Event, len(plan.Instances)),
		Headers:   []string{"Instance", "Runner", "Toolchain", "Mode", "Steps", "Skipped"},
		Rows:      rows,
		ShowTotal: true,
		TotalRow:  []string{"TOTAL", "", "", "", fmt.Sprintf("%d instances", len(plan.Instances)), ""},
	})
}
