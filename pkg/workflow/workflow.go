// Package workflow models a CI orchestration policy: the events that trigger
// it, its jobs, their matrices and guarded steps. It validates policies,
// compiles them to GitHub Actions workflow files, parses such files back and
// plans which job instances an event triggers.
package workflow

import (
	"maps"
	"slices"
)

// EventKind names a repository event that can trigger a workflow.
type EventKind string

const (
	EventMergeGroup  EventKind = "merge_group"
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// EventKinds lists the supported event kinds in rendering order.
var EventKinds = []EventKind{EventMergeGroup, EventPush, EventPullRequest}

// IsValid reports whether k is a supported event kind.
func (k EventKind) IsValid() bool {
	return slices.Contains(EventKinds, k)
}

// supportsBranchFilter reports whether the event kind can be filtered by branch.
func (k EventKind) supportsBranchFilter() bool {
	return k == EventPush || k == EventPullRequest
}

// Workflow is a complete orchestration policy.
type Workflow struct {
	Name    string
	Trigger Trigger
	// Env is propagated to every step of every job.
	Env  map[string]string
	Jobs []*Job
}

// Job returns the job with the given ID, or nil.
func (w *Workflow) Job(id string) *Job {
	for _, job := range w.Jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// JobIDs returns the job IDs in declaration order.
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for _, job := range w.Jobs {
		ids = append(ids, job.ID)
	}
	return ids
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	clone := &Workflow{
		Name:    w.Name,
		Trigger: w.Trigger.clone(),
		Env:     maps.Clone(w.Env),
	}
	for _, job := range w.Jobs {
		clone.Jobs = append(clone.Jobs, job.clone())
	}
	return clone
}

// Job is an independently scheduled unit of execution.
type Job struct {
	ID   string
	Name string
	// RunsOn is the runner image; it may reference a matrix axis.
	RunsOn    string
	Toolchain *Toolchain
	Matrix    *Matrix
	Steps     []Step
	// VerifyOnly jobs must leave the checked-out tree unmodified.
	VerifyOnly bool
}

// DisplayName returns the job name, falling back to its ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

func (j *Job) clone() *Job {
	clone := *j
	if j.Toolchain != nil {
		tc := *j.Toolchain
		tc.Components = slices.Clone(j.Toolchain.Components)
		clone.Toolchain = &tc
	}
	if j.Matrix != nil {
		clone.Matrix = j.Matrix.clone()
	}
	clone.Steps = make([]Step, len(j.Steps))
	for i, step := range j.Steps {
		clone.Steps[i] = step.clone()
	}
	return &clone
}

// Toolchain is the build toolchain a job provisions before its steps run.
type Toolchain struct {
	// Channel is a release track (stable, beta, nightly, nightly-YYYY-MM-DD)
	// or a pinned version such as 1.75.0. It may reference a matrix axis.
	Channel    string
	Components []string
}

// Step is one instruction of a job: an action reference or a shell command.
type Step struct {
	Name string
	If   Guard
	Uses string
	With map[string]string
	Run  string
	Env  map[string]string
}

// IsAction reports whether the step references a reusable action.
func (s Step) IsAction() bool {
	return s.Uses != ""
}

// DisplayName returns the step name, falling back to its action or command.
func (s Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	default:
		return firstLine(s.Run)
	}
}

func (s Step) clone() Step {
	s.If = Guard{Conditions: slices.Clone(s.If.Conditions)}
	s.With = maps.Clone(s.With)
	s.Env = maps.Clone(s.Env)
	return s
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
