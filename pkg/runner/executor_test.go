//go:build !integration

package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cipolicy/gh-ci/pkg/testutil"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvisioner records instances and fails those listed in failFor.
type fakeProvisioner struct {
	mu          sync.Mutex
	failFor     map[string]error
	provisioned []string
}

func (f *fakeProvisioner) Provision(_ context.Context, inst *workflow.Instance, _ string, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, inst.DisplayName())
	return f.failFor[inst.DisplayName()]
}

// rustLikeWorkflow mirrors the shape of the default policy with commands
// that run anywhere.
func rustLikeWorkflow() *workflow.Workflow {
	onLinux := workflow.When("os", "ubuntu-latest")
	return &workflow.Workflow{
		Name:    "Rust",
		Trigger: workflow.Trigger{Filters: []workflow.EventFilter{{Kind: workflow.EventPush, Branches: []string{"main", "dev"}}}},
		Env:     map[string]string{"CARGO_TERM_COLOR": "always"},
		Jobs: []*workflow.Job{
			{
				ID:     "build",
				RunsOn: "${{ matrix.os }}",
				Matrix: &workflow.Matrix{Axes: []workflow.Axis{
					{Name: "os", Values: []string{"ubuntu-latest", "macos-latest"}},
					{Name: "rust", Values: []string{"stable", "nightly"}},
				}},
				Toolchain: &workflow.Toolchain{Channel: "${{ matrix.rust }}"},
				Steps: []workflow.Step{
					{Name: "Check", Run: `test "$CARGO_TERM_COLOR" = always && echo "check on $RUSTUP_TOOLCHAIN"`},
					{Name: "Run tests", If: onLinux, Run: "echo tests"},
					{Name: "Build release", Run: "echo release"},
				},
			},
			{
				ID:        "format-check",
				RunsOn:    "ubuntu-latest",
				Toolchain: &workflow.Toolchain{Channel: "stable", Components: []string{"rustfmt"}},
				Steps:     []workflow.Step{{Name: "Check formatting", Run: "test -f src/main.rs"}},
				// Verification jobs must not touch the tree.
				VerifyOnly: true,
			},
		},
	}
}

func newTestExecutor(t *testing.T, prov Provisioner) *Executor {
	t.Helper()
	workspace := testutil.TempDir(t, "workspace-*")
	writeFile(t, filepath.Join(workspace, "src", "main.rs"), "fn main() {}\n")
	writeFile(t, filepath.Join(workspace, "Cargo.lock"), "version = 3\n")
	return &Executor{
		Provisioner: prov,
		Actions:     NewActionRegistry(),
		Workspace:   workspace,
		MaxParallel: 4,
		Isolate:     true,
		Environ:     os.Environ,
	}
}

func planFor(t *testing.T, w *workflow.Workflow) *workflow.ExecutionPlan {
	t.Helper()
	plan, err := workflow.Plan(w, workflow.Event{Kind: workflow.EventPush, Branch: "dev"})
	require.NoError(t, err)
	require.True(t, plan.Triggered)
	return plan
}

func byName(result *RunResult) map[string]*InstanceResult {
	out := make(map[string]*InstanceResult)
	for _, r := range result.Instances {
		out[r.Instance.DisplayName()] = r
	}
	return out
}

func TestExecutorRunsEveryInstance(t *testing.T) {
	prov := &fakeProvisioner{}
	e := newTestExecutor(t, prov)
	var shared bytes.Buffer
	e.Output = &shared

	result, err := e.Run(context.Background(), planFor(t, rustLikeWorkflow()))
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	require.Len(t, result.Instances, 5, "4 build combinations and 1 format check")
	assert.True(t, result.Success(), "every instance should succeed: %v", result.Counts())
	assert.Len(t, prov.provisioned, 5, "each instance is provisioned once")

	assert.Equal(t, "build (ubuntu-latest, stable)", result.Instances[0].Instance.DisplayName(), "results keep plan order")
	assert.Equal(t, "format-check", result.Instances[4].Instance.DisplayName())

	for _, r := range result.Instances {
		assert.Equal(t, []Status{StatusPending, StatusProvisioning}, r.History[:2])
		assert.Equal(t, StatusSuccess, r.History[len(r.History)-1])
		assert.Equal(t, -1, r.FailedStep)
		assert.NotEmpty(t, r.ID)
	}

	stable := byName(result)["build (ubuntu-latest, stable)"]
	assert.Contains(t, stable.Output, "check on stable", "RUSTUP_TOOLCHAIN selects the instance's channel")
	assert.Contains(t, shared.String(), "[build (macos-latest, nightly)] check on nightly", "shared output is prefixed per instance")
}

func TestExecutorSkipsGuardedSteps(t *testing.T) {
	e := newTestExecutor(t, &fakeProvisioner{})

	result, err := e.Run(context.Background(), planFor(t, rustLikeWorkflow()))
	require.NoError(t, err)

	for name, r := range byName(result) {
		if r.Instance.JobID != "build" {
			continue
		}
		require.Len(t, r.Steps, 3, name)
		image, _ := r.Instance.Matrix.Get("os")
		assert.Equal(t, image != "ubuntu-latest", r.Steps[1].Skipped, "%s: tests run only on ubuntu-latest", name)
		if image != "ubuntu-latest" {
			assert.NotContains(t, r.Output, "tests\n", "%s must not execute the guarded step", name)
		}
	}
}

func TestExecutorStepFailureIsIsolated(t *testing.T) {
	w := rustLikeWorkflow()
	w.Jobs[0].Steps[0].Run = `if [ "$RUSTUP_TOOLCHAIN" = nightly ]; then exit 3; fi`
	e := newTestExecutor(t, &fakeProvisioner{})

	result, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)
	assert.False(t, result.Success())

	results := byName(result)
	for _, name := range []string{"build (ubuntu-latest, nightly)", "build (macos-latest, nightly)"} {
		r := results[name]
		assert.Equal(t, StatusFailed, r.Status, name)
		assert.Equal(t, 0, r.FailedStep, name)
		assert.Equal(t, 3, r.ExitCode, "the exit status is surfaced verbatim")
		assert.Len(t, r.Steps, 1, "%s: remaining steps are aborted", name)

		var stepErr *StepError
		require.True(t, errors.As(r.Err, &stepErr), "%s: expected StepError, got %T", name, r.Err)
		assert.Equal(t, "Check", stepErr.StepName)
	}
	for _, name := range []string{"build (ubuntu-latest, stable)", "build (macos-latest, stable)", "format-check"} {
		assert.Equal(t, StatusSuccess, results[name].Status, "%s should not be affected by its siblings", name)
	}
	assert.Len(t, result.Failed(), 2)
}

func TestExecutorFailsOnAnyStep(t *testing.T) {
	for i := range 3 {
		w := rustLikeWorkflow()
		w.Jobs = w.Jobs[:1]
		w.Jobs[0].Matrix.Axes[0].Values = []string{"ubuntu-latest"}
		w.Jobs[0].Matrix.Axes[1].Values = []string{"stable"}
		w.Jobs[0].Steps[i].Run = "exit 1"

		result, err := newTestExecutor(t, &fakeProvisioner{}).Run(context.Background(), planFor(t, w))
		require.NoError(t, err)
		require.Len(t, result.Instances, 1)
		assert.Equal(t, StatusFailed, result.Instances[0].Status, "failing step %d must fail the instance", i)
		assert.Equal(t, i, result.Instances[0].FailedStep)
	}
}

func TestExecutorInfraFailure(t *testing.T) {
	prov := &fakeProvisioner{failFor: map[string]error{
		"build (ubuntu-latest, nightly)": errors.New("toolchain nightly unavailable"),
	}}
	e := newTestExecutor(t, prov)

	result, err := e.Run(context.Background(), planFor(t, rustLikeWorkflow()))
	require.NoError(t, err)

	r := byName(result)["build (ubuntu-latest, nightly)"]
	assert.Equal(t, StatusInfraFailed, r.Status, "provisioning errors are infrastructure failures")
	assert.Equal(t, []Status{StatusPending, StatusProvisioning, StatusInfraFailed}, r.History)
	assert.Empty(t, r.Steps, "no step runs after a provisioning failure")
	assert.Equal(t, -1, r.FailedStep)

	var infraErr *InfraError
	require.True(t, errors.As(r.Err, &infraErr))
	assert.Equal(t, "provisioning", infraErr.Phase)
	assert.Equal(t, 4, result.Counts()[StatusSuccess], "siblings still succeed")
}

func TestExecutorVerifyOnlyDetectsMutation(t *testing.T) {
	w := rustLikeWorkflow()
	w.Jobs[1].Steps[0].Run = "echo formatted > src/main.rs"
	e := newTestExecutor(t, &fakeProvisioner{})

	result, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)

	r := byName(result)["format-check"]
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, ErrTreeMutated)
	assert.Contains(t, r.Err.Error(), "src/main.rs")

	content, err := os.ReadFile(filepath.Join(e.Workspace, "src", "main.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}\n", string(content), "isolated instances never touch the original workspace")
}

func TestExecutorVerifyOnlyAllowsGeneratedFiles(t *testing.T) {
	w := rustLikeWorkflow()
	w.Jobs[1].Steps[0].Run = "echo generated > scratch.log && mkdir -p target && echo out > target/fmt.txt"
	e := newTestExecutor(t, &fakeProvisioner{})
	writeFile(t, filepath.Join(e.Workspace, ".gitignore"), "*.log\n")

	result, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)

	r := byName(result)["format-check"]
	assert.Equal(t, StatusSuccess, r.Status, "creating new files is not a modification: %v", r.Err)
	assert.NoError(t, r.Err)
}

func TestExecutorVerifyOnlyInGitCheckout(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	w := rustLikeWorkflow()
	w.Jobs[1].Steps[0].Run = "echo generated > scratch.log && echo version = 4 > Cargo.lock"
	e := newTestExecutor(t, &fakeProvisioner{})
	writeFile(t, filepath.Join(e.Workspace, ".gitignore"), "*.log\nCargo.lock\n")
	gitRun(t, e.Workspace, "init", "-q")
	gitRun(t, e.Workspace, "add", "-A")

	result, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)
	r := byName(result)["format-check"]
	assert.Equal(t, StatusSuccess, r.Status, "ignored files are not part of the checkout: %v", r.Err)

	w.Jobs[1].Steps[0].Run = "echo formatted > src/main.rs"
	result, err = e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)
	r = byName(result)["format-check"]
	assert.Equal(t, StatusFailed, r.Status)
	assert.ErrorIs(t, r.Err, ErrTreeMutated)
}

func TestExecutorUnknownAction(t *testing.T) {
	w := rustLikeWorkflow()
	w.Jobs[1].Steps = append(w.Jobs[1].Steps, workflow.Step{Uses: "acme/deploy@v1"})
	e := newTestExecutor(t, &fakeProvisioner{})

	result, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)

	r := byName(result)["format-check"]
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 1, r.FailedStep)
	assert.ErrorIs(t, r.Err, ErrUnknownAction)
}

func TestExecutorCacheRoundTrip(t *testing.T) {
	w := rustLikeWorkflow()
	w.Jobs = w.Jobs[:1]
	w.Jobs[0].Matrix.Axes[0].Values = []string{"ubuntu-latest"}
	w.Jobs[0].Matrix.Axes[1].Values = []string{"stable"}
	w.Jobs[0].Steps = []workflow.Step{
		{Name: "Restore dependency cache", Uses: "Swatinem/rust-cache@v2"},
		{Name: "Build", Run: "if [ -f target/marker ]; then echo warm; else echo cold; fi\nmkdir -p target && echo built > target/marker"},
	}

	e := newTestExecutor(t, &fakeProvisioner{})
	e.Cache = NewCacheStore(testutil.TempDir(t, "cache-*"))

	first, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)
	require.True(t, first.Success(), "a cache miss must not fail the instance")
	assert.Contains(t, first.Instances[0].Output, "No cache found for key")
	assert.Contains(t, first.Instances[0].Output, "cold")

	second, err := e.Run(context.Background(), planFor(t, w))
	require.NoError(t, err)
	require.True(t, second.Success())
	assert.Contains(t, second.Instances[0].Output, "Cache restored from key")
	assert.Contains(t, second.Instances[0].Output, "warm", "the saved target directory is restored")
}

func TestExecutorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestExecutor(t, &fakeProvisioner{}).Run(ctx, planFor(t, rustLikeWorkflow()))
	require.NoError(t, err)
	for _, r := range result.Instances {
		assert.Equal(t, StatusCancelled, r.Status)
	}
	assert.False(t, result.Success())
}

func TestExecutorUntriggeredPlan(t *testing.T) {
	plan, err := workflow.Plan(rustLikeWorkflow(), workflow.Event{Kind: workflow.EventPush, Branch: "feature"})
	require.NoError(t, err)

	prov := &fakeProvisioner{}
	result, err := newTestExecutor(t, prov).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, result.Triggered)
	assert.Empty(t, result.Instances)
	assert.True(t, result.Success(), "nothing ran, nothing failed")
	assert.Empty(t, prov.provisioned)
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/bin", "CARGO_TERM_COLOR=never"}
	got := mergeEnv(base, map[string]string{"CARGO_TERM_COLOR": "always", "RUSTUP_TOOLCHAIN": "stable"})

	assert.Equal(t, []string{"PATH=/bin", "CARGO_TERM_COLOR=always", "RUSTUP_TOOLCHAIN=stable"}, got)
	assert.Equal(t, []string{"PATH=/bin", "CARGO_TERM_COLOR=never"}, base, "the base slice is not modified")
}
