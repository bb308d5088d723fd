// Package constants holds names and defaults shared across gh-ci packages.
package constants

import "time"

// CLIName is the command name used in help text and generated headers.
const CLIName = "gh-ci"

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// DefaultWorkflowPath is where compile writes the workflow, relative to the
// repository root.
const DefaultWorkflowPath = ".github/workflows/ci.yml"

// Job IDs of the default policy.
const (
	BuildJobID       = "build"
	FormatCheckJobID = "format-check"
	LintCheckJobID   = "lint-check"
)

// Action references emitted by the compiler and recognized by the parser.
const (
	CheckoutAction  = "actions/checkout@v4"
	ToolchainAction = "dtolnay/rust-toolchain@master"
	RustCacheAction = "Swatinem/rust-cache@v2"
)

// DefaultRunnerImage is the hosted runner every default job runs on.
const DefaultRunnerImage = "ubuntu-latest"

// Toolchain channels.
const (
	StableChannel  = "stable"
	NightlyChannel = "nightly"
)

// ColorEnvVar enables colored output for cargo; set process-wide.
const ColorEnvVar = "CARGO_TERM_COLOR"

// LockfileName is the dependency lockfile the cache key is derived from.
const LockfileName = "Cargo.lock"

// Environment variables read by gh-ci.
const (
	MaxParallelEnvVar = "GH_CI_MAX_PARALLEL"
	CacheDirEnvVar    = "GH_CI_CACHE_DIR"
)

// Parallelism bounds for local runs.
const (
	DefaultMaxParallel = 4
	MinMaxParallel     = 1
	MaxMaxParallel     = 64
)

// WatchDebounce is how long watch mode waits for writes to settle.
const WatchDebounce = 300 * time.Millisecond

// ProtectedBranches are the branches push and pull_request triggers accept.
var ProtectedBranches = []string{"main", "dev"}
