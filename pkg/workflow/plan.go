package workflow

import (
	"fmt"
	"maps"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var planLog = logger.New("workflow:plan")

// ExecutionPlan lists the job instances an event triggers.
type ExecutionPlan struct {
	Workflow  *Workflow
	Event     Event
	Triggered bool
	Instances []*Instance
}

// Instance is one job instantiated for one matrix combination, with every
// matrix reference resolved.
type Instance struct {
	JobID   string
	JobName string
	// Index is the combination's position in the job's matrix expansion.
	Index      int
	Matrix     Combination
	RunsOn     string
	Toolchain  *Toolchain
	Steps      []PlannedStep
	VerifyOnly bool
	// Env is the workflow-level environment.
	Env map[string]string
}

// PlannedStep is a step resolved for one instance.
type PlannedStep struct {
	Index int
	Step  Step
	// Skipped is set when the step's guard excludes the instance.
	Skipped bool
}

// DisplayName renders the instance like GitHub does, e.g.
// "build (ubuntu-latest, stable)".
func (i *Instance) DisplayName() string {
	if len(i.Matrix) == 0 {
		return i.JobID
	}
	return fmt.Sprintf("%s (%s)", i.JobID, strings.Join(i.Matrix.Values(), ", "))
}

// ActiveSteps returns the steps that will execute.
func (i *Instance) ActiveSteps() []PlannedStep {
	var out []PlannedStep
	for _, s := range i.Steps {
		if !s.Skipped {
			out = append(out, s)
		}
	}
	return out
}

// Plan resolves which job instances ev triggers. A workflow whose trigger
// does not match the event yields an empty plan with Triggered unset.
func Plan(w *Workflow, ev Event) (*ExecutionPlan, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	plan := &ExecutionPlan{Workflow: w, Event: ev}
	if !w.Trigger.Matches(ev) {
		planLog.Printf("Event %s does not trigger workflow %q", ev, w.Name)
		return plan, nil
	}
	plan.Triggered = true

	for _, job := range w.Jobs {
		for idx, combo := range job.Matrix.Expand() {
			plan.Instances = append(plan.Instances, instantiate(w, job, idx, combo))
		}
	}
	planLog.Printf("Event %s triggers %d instances of workflow %q", ev, len(plan.Instances), w.Name)
	return plan, nil
}

func instantiate(w *Workflow, job *Job, idx int, combo Combination) *Instance {
	inst := &Instance{
		JobID:      job.ID,
		JobName:    job.DisplayName(),
		Index:      idx,
		Matrix:     combo,
		RunsOn:     substituteMatrix(job.RunsOn, combo),
		VerifyOnly: job.VerifyOnly,
		Env:        maps.Clone(w.Env),
	}
	if job.Toolchain != nil {
		inst.Toolchain = &Toolchain{
			Channel:    substituteMatrix(job.Toolchain.Channel, combo),
			Components: append([]string(nil), job.Toolchain.Components...),
		}
	}
	for i, step := range job.Steps {
		resolved := step.clone()
		resolved.Run = substituteMatrix(step.Run, combo)
		for k, v := range resolved.With {
			resolved.With[k] = substituteMatrix(v, combo)
		}
		for k, v := range resolved.Env {
			resolved.Env[k] = substituteMatrix(v, combo)
		}
		inst.Steps = append(inst.Steps, PlannedStep{Index: i, Step: resolved, Skipped: !step.If.Matches(combo)})
	}
	return inst
}

// substituteMatrix replaces ${{ matrix.<axis> }} references with the values
// bound in combo. Unbound references are left as written.
func substituteMatrix(s string, combo Combination) string {
	if !strings.Contains(s, "${{") {
		return s
	}
	return matrixRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		axis := matrixRefPattern.FindStringSubmatch(ref)[1]
		if v, ok := combo.Get(axis); ok {
			return v
		}
		return ref
	})
}

// InstancesOf returns the planned instances of one job.
func (p *ExecutionPlan) InstancesOf(jobID string) []*Instance {
	var out []*Instance
	for _, inst := range p.Instances {
		if inst.JobID == jobID {
			out = append(out, inst)
		}
	}
	return out
}

// FilterJobs keeps only the instances of the given jobs. An empty list keeps
// everything; unknown job IDs are an error.
func (p *ExecutionPlan) FilterJobs(jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	keep := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		if p.Workflow.Job(id) == nil {
			return fmt.Errorf("unknown job %q (available: %s)", id, strings.Join(p.Workflow.JobIDs(), ", "))
		}
		keep[id] = true
	}
	var out []*Instance
	for _, inst := range p.Instances {
		if keep[inst.JobID] {
			out = append(out, inst)
		}
	}
	p.Instances = out
	return nil
}
