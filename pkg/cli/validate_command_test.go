//go:build !integration

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cipolicy/gh-ci/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkflowFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(testutil.TempDir(t, "validate-*"), "ci.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunValidateCompiledPolicy(t *testing.T) {
	path := writeWorkflowFile(t, string(compiledDefaultPolicy(t)))

	var stderr bytes.Buffer
	require.NoError(t, RunValidate(context.Background(), ValidateConfig{Path: path, NoLint: true}, &stderr))
	assert.Contains(t, stderr.String(), "is valid")
	assert.NotContains(t, stderr.String(), "differs from its compiled form")
}

func TestRunValidateWarnsOnNonCanonicalFile(t *testing.T) {
	content := strings.Replace(string(compiledDefaultPolicy(t)), "# Regenerate with: gh-ci compile\n", "", 1)
	path := writeWorkflowFile(t, content)

	var stderr bytes.Buffer
	require.NoError(t, RunValidate(context.Background(), ValidateConfig{Path: path, NoLint: true}, &stderr))
	assert.Contains(t, stderr.String(), "differs from its compiled form")
	assert.Contains(t, stderr.String(), "is valid")
}

func TestRunValidateRejectsInvalidWorkflow(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantStderr []string
	}{
		{
			name: "unknown top-level key",
			content: `"on": push
permissions: write-all
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: cargo build
`,
			wantStderr: []string{"permissions"},
		},
		{
			name: "step with uses and run",
			content: `"on": push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: Swatinem/rust-cache@v2
        run: cargo build
`,
			wantStderr: []string{"/jobs/build/steps/0"},
		},
		{
			name: "guard on undeclared axis",
			content: `"on": push
jobs:
  build:
    runs-on: ${{ matrix.os }}
    strategy:
      matrix:
        os: [ubuntu-latest]
    steps:
      - name: Test
        if: matrix.arch == 'arm64'
        run: cargo test
`,
			wantStderr: []string{"jobs.build.steps[0].if", "arch"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeWorkflowFile(t, tt.content)

			var stderr bytes.Buffer
			err := RunValidate(context.Background(), ValidateConfig{Path: path, NoLint: true}, &stderr)
			require.ErrorIs(t, err, errReported)
			for _, want := range tt.wantStderr {
				assert.Contains(t, stderr.String(), want)
			}
			assert.NotContains(t, stderr.String(), "is valid")
		})
	}
}

func TestRunValidateWarnsOnUnreachableStep(t *testing.T) {
	path := writeWorkflowFile(t, `"on": push
jobs:
  build:
    runs-on: ${{ matrix.os }}
    strategy:
      matrix:
        os: [ubuntu-latest]
    steps:
      - name: Test
        if: matrix.os == 'windows-latest'
        run: cargo test
      - run: cargo build
`)

	var stderr bytes.Buffer
	require.NoError(t, RunValidate(context.Background(), ValidateConfig{Path: path, NoLint: true}, &stderr),
		"a step that never runs is legal")
	assert.Contains(t, stderr.String(), "jobs.build.steps[0].if")
	assert.Contains(t, stderr.String(), "always skipped")
	assert.Contains(t, stderr.String(), "is valid")
}

func TestRunValidateWithLint(t *testing.T) {
	path := writeWorkflowFile(t, cleanLintWorkflow)

	var stderr bytes.Buffer
	require.NoError(t, RunValidate(context.Background(), ValidateConfig{Path: path, Strict: true}, &stderr))
	assert.Contains(t, stderr.String(), "Actionlint Summary")
	assert.Contains(t, stderr.String(), "No issues found")
}

func TestRunValidateMissingFile(t *testing.T) {
	var stderr bytes.Buffer
	err := RunValidate(context.Background(), ValidateConfig{Path: filepath.Join(testutil.TempDir(t, "validate-missing-*"), "ci.yml")}, &stderr)
	require.ErrorIs(t, err, os.ErrNotExist)
}
