//go:build !integration

package cli

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cipolicy/gh-ci/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shellWorkflow = `"on":
  push:
    branches:
      - main
jobs:
  greet:
    runs-on: ubuntu-latest
    steps:
      - name: Greet
        run: echo "hello from $CI" > greeting.txt
      - name: Show
        run: cat greeting.txt
  verify:
    runs-on: ubuntu-latest
    steps:
      - name: Read only
        run: test -f README.md
      - name: Verify working tree is unchanged
        run: git diff --exit-code
`

const failingWorkflow = `"on":
  push:
    branches:
      - main
jobs:
  ok:
    runs-on: ubuntu-latest
    steps:
      - run: "true"
  broken:
    runs-on: ubuntu-latest
    steps:
      - name: Fail
        run: exit 3
      - name: Never runs
        run: "true"
`

// requireLinuxShell skips tests that execute ubuntu-latest instances.
func requireLinuxShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ubuntu-latest instances only run on linux hosts")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell available")
	}
}

func setupRunWorkspace(t *testing.T, workflowContent string) (workspace, input string) {
	t.Helper()
	workspace = testutil.TempDir(t, "run-workspace-*")
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "README.md"), []byte("# demo\n"), 0o644))
	input = filepath.Join(testutil.TempDir(t, "run-input-*"), "ci.yml")
	require.NoError(t, os.WriteFile(input, []byte(workflowContent), 0o644))
	return workspace, input
}

func TestRunWorkflowDryRun(t *testing.T) {
	var stderr bytes.Buffer
	err := RunWorkflow(context.Background(), RunConfig{Event: "push", Branch: "dev", DryRun: true}, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "triggers 4 instances")
	assert.NotContains(t, stderr.String(), "Running")
}

func TestRunWorkflowNotTriggered(t *testing.T) {
	var stderr bytes.Buffer
	err := RunWorkflow(context.Background(), RunConfig{Event: "push", Branch: "topic"}, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "nothing to run")
}

func TestRunWorkflowSucceeds(t *testing.T) {
	requireLinuxShell(t)
	workspace, input := setupRunWorkspace(t, shellWorkflow)

	var stderr bytes.Buffer
	err := RunWorkflow(context.Background(), RunConfig{
		Input:     input,
		Event:     "push",
		Branch:    "main",
		Workspace: workspace,
		NoCache:   true,
	}, &stderr)
	require.NoError(t, err, stderr.String())

	out := stderr.String()
	assert.Contains(t, out, "[greet] hello from true")
	assert.Contains(t, out, "All 2 instances succeeded")
	assert.NoFileExists(t, filepath.Join(workspace, "greeting.txt"), "instances run in isolated copies")
}

func TestRunWorkflowReportsFailures(t *testing.T) {
	requireLinuxShell(t)
	workspace, input := setupRunWorkspace(t, failingWorkflow)

	var stderr bytes.Buffer
	err := RunWorkflow(context.Background(), RunConfig{
		Input:     input,
		Event:     "push",
		Branch:    "main",
		Workspace: workspace,
		NoCache:   true,
	}, &stderr)
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "1 of 2 instances")

	out := stderr.String()
	assert.Contains(t, out, "broken: step 1 (Fail) failed with exit code 3")
	assert.Contains(t, out, "1/2 succeeded")
}

func TestRunWorkflowJobFilter(t *testing.T) {
	requireLinuxShell(t)
	workspace, input := setupRunWorkspace(t, failingWorkflow)

	var stderr bytes.Buffer
	err := RunWorkflow(context.Background(), RunConfig{
		Input:     input,
		Event:     "push",
		Branch:    "main",
		Jobs:      []string{"ok"},
		Workspace: workspace,
		NoCache:   true,
	}, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stderr.String(), "All 1 instances succeeded")
}
