package workflow

import (
	"github.com/cipolicy/gh-ci/pkg/constants"
)

// DefaultPolicy returns the Rust CI policy: a build-and-test job over an
// os × rust matrix plus verification-only format and lint jobs, triggered by
// merge groups and by pushes and pull requests on the protected branches.
func DefaultPolicy() *Workflow {
	onLinux := When("os", constants.DefaultRunnerImage)

	build := &Job{
		ID:     constants.BuildJobID,
		Name:   "Build",
		RunsOn: "${{ matrix.os }}",
		Matrix: &Matrix{Axes: []Axis{
			{Name: "os", Values: []string{constants.DefaultRunnerImage}},
			{Name: "rust", Values: []string{constants.StableChannel, constants.NightlyChannel}},
		}},
		Toolchain: &Toolchain{Channel: "${{ matrix.rust }}"},
		Steps: []Step{
			{Name: "Restore dependency cache", If: onLinux, Uses: constants.RustCacheAction},
			{Name: "Check", Run: "cargo check --all-targets"},
			{Name: "Run tests", If: onLinux, Run: "cargo test -- --test-threads=1"},
			{Name: "Build docs", If: onLinux, Run: "cargo doc --document-private-items --all-features"},
			{Name: "Build release", Run: "cargo build --release --all-targets"},
		},
	}

	formatCheck := &Job{
		ID:        constants.FormatCheckJobID,
		Name:      "Format check",
		RunsOn:    constants.DefaultRunnerImage,
		Toolchain: &Toolchain{Channel: constants.StableChannel, Components: []string{"rustfmt"}},
		Steps: []Step{
			{Name: "Check formatting", Run: "cargo fmt --all -- --check"},
		},
		VerifyOnly: true,
	}

	lintCheck := &Job{
		ID:        constants.LintCheckJobID,
		Name:      "Lint check",
		RunsOn:    constants.DefaultRunnerImage,
		Toolchain: &Toolchain{Channel: constants.StableChannel, Components: []string{"clippy"}},
		Steps: []Step{
			{Name: "Run clippy", Run: "cargo clippy --all-targets"},
		},
		VerifyOnly: true,
	}

	branches := append([]string(nil), constants.ProtectedBranches...)
	return &Workflow{
		Name: "Rust",
		Trigger: Trigger{Filters: []EventFilter{
			{Kind: EventMergeGroup},
			{Kind: EventPush, Branches: branches},
			{Kind: EventPullRequest, Branches: append([]string(nil), branches...)},
		}},
		Env:  map[string]string{constants.ColorEnvVar: "always"},
		Jobs: []*Job{build, formatCheck, lintCheck},
	}
}
