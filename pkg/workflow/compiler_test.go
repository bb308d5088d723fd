//go:build !integration

package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/exp/golden"
	"github.com/cipolicy/gh-ci/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timestampDifferentiationDelay makes a rewrite observable through the
// file's modification time.
const timestampDifferentiationDelay = 100 * time.Millisecond

func TestCompileDefaultPolicyGolden(t *testing.T) {
	out, err := NewCompiler().Compile(DefaultPolicy())
	require.NoError(t, err, "default policy should compile")
	golden.RequireEqual(t, out)
}

func TestCompileIsDeterministic(t *testing.T) {
	w := DefaultPolicy()
	w.Env["RUST_BACKTRACE"] = "1"
	w.Env["A_FIRST"] = "yes"

	first, err := NewCompiler().Compile(w)
	require.NoError(t, err)
	for range 5 {
		again, err := NewCompiler().Compile(w)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again), "compiling twice should produce identical output")
	}
	assert.Contains(t, string(first), "  A_FIRST: 'yes'\n  CARGO_TERM_COLOR: always\n  RUST_BACKTRACE: '1'\n",
		"env keys should be sorted and ambiguous scalars quoted")
}

func TestCompileHeader(t *testing.T) {
	out, err := NewCompiler().Compile(DefaultPolicy())
	require.NoError(t, err)

	content := string(out)
	assert.True(t, strings.HasPrefix(content, "# Code generated by gh-ci. DO NOT EDIT.\n"), "output should start with the generated header")

	body := testutil.StripYAMLCommentHeader(content)
	assert.True(t, strings.HasPrefix(body, "name: Rust\n"), "the workflow body should follow the header, got %q", body[:min(len(body), 40)])
	assert.NotContains(t, body, "DO NOT EDIT", "the header appears only once")
}

func TestCompileRejectsInvalidWorkflow(t *testing.T) {
	w := DefaultPolicy()
	w.Trigger = Trigger{}

	_, err := NewCompiler().Compile(w)
	require.Error(t, err, "a workflow without triggers must not compile")
	assert.ErrorIs(t, err, ErrNoTriggers)
}

func TestCompileStepRendering(t *testing.T) {
	w := &Workflow{
		Trigger: Trigger{Filters: []EventFilter{{Kind: EventPush}}},
		Jobs: []*Job{{
			ID:     "script",
			RunsOn: "ubuntu-latest",
			Steps: []Step{
				{Name: "Multi", Run: "echo one\n\necho two\n"},
				{Uses: "actions/cache@v4", With: map[string]string{"path": "target", "key": "k: v"}},
				{Run: "true", Env: map[string]string{"MODE": "on"}},
			},
		}},
	}

	out, err := NewCompiler().Compile(w)
	require.NoError(t, err)
	content := string(out)

	assert.NotContains(t, content, "name: \n", "unnamed workflows should omit the name key")
	assert.Contains(t, content, "      - name: Multi\n        run: |\n          echo one\n\n          echo two\n",
		"multi-line commands should render as literal blocks")
	assert.Contains(t, content, "      - uses: actions/cache@v4\n        with:\n          key: 'k: v'\n          path: target\n",
		"with keys should be sorted and values quoted when needed")
	assert.Contains(t, content, "      - env:\n          MODE: 'on'\n        run: 'true'\n",
		"boolean-looking scalars should be quoted")
	assert.NotContains(t, content, "strategy:", "jobs without a matrix have no strategy")
}

func TestCompileToFileSkipsUnchangedContent(t *testing.T) {
	tmpDir := testutil.TempDir(t, "compile-*")
	path := filepath.Join(tmpDir, ".github", "workflows", "ci.yml")

	compiler := NewCompiler()
	compiler.SetQuiet(true)

	written, err := compiler.CompileToFile(DefaultPolicy(), path)
	require.NoError(t, err, "first compile should succeed")
	assert.True(t, written, "first compile should write the file")
	require.FileExists(t, path, "parent directories should be created")

	info, err := os.Stat(path)
	require.NoError(t, err)
	initialModTime := info.ModTime()

	time.Sleep(timestampDifferentiationDelay)

	written, err = compiler.CompileToFile(DefaultPolicy(), path)
	require.NoError(t, err, "second compile should succeed")
	assert.False(t, written, "unchanged content should not be rewritten")

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, initialModTime, info.ModTime(), "modification time should be preserved")

	changed := DefaultPolicy()
	changed.Name = "Rust CI"
	written, err = compiler.CompileToFile(changed, path)
	require.NoError(t, err)
	assert.True(t, written, "changed content should be written")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "name: Rust CI\n"), "the file should hold the new content")
}

func TestCompileRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		workflow func() *Workflow
	}{
		{name: "default policy", workflow: DefaultPolicy},
		{
			name: "custom workflow",
			workflow: func() *Workflow {
				return &Workflow{
					Name:    "Nightly: extended",
					Trigger: Trigger{Filters: []EventFilter{{Kind: EventPullRequest, Branches: []string{"release/*"}}}},
					Jobs: []*Job{{
						ID:     "msrv",
						RunsOn: "${{ matrix.os }}",
						Matrix: &Matrix{Axes: []Axis{
							{Name: "os", Values: []string{"ubuntu-latest", "macos-latest"}},
							{Name: "rust", Values: []string{"1.75", "nightly-2024-01-01"}},
						}},
						Toolchain: &Toolchain{Channel: "${{ matrix.rust }}", Components: []string{"rustfmt", "clippy"}},
						Steps: []Step{
							{Name: "Only mac nightly", If: Guard{Conditions: []Condition{{Axis: "os", Value: "macos-latest"}, {Axis: "rust", Value: "nightly-2024-01-01"}}}, Run: "cargo test\ncargo bench --no-run"},
							{Run: "cargo build", Env: map[string]string{"RUSTFLAGS": "-D warnings"}},
						},
						VerifyOnly: true,
					}},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.workflow()
			out, err := NewCompiler().Compile(original)
			require.NoError(t, err, "workflow should compile")

			parsed, err := ParseWorkflow(out)
			require.NoError(t, err, "compiled output should parse back:\n%s", out)
			assert.Equal(t, original, parsed, "parsing the compiled workflow should reproduce the policy")
		})
	}
}
