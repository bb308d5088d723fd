package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var validationLog = logger.New("workflow:validation")

var jobIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// matrixRefPattern matches ${{ matrix.<axis> }} references.
var matrixRefPattern = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// Validate checks every invariant of the policy and returns all violations
// joined into one error, or nil.
func (w *Workflow) Validate() error {
	validationLog.Printf("Validating workflow %q with %d jobs", w.Name, len(w.Jobs))
	var errs []error

	errs = append(errs, validateTrigger(w.Trigger)...)

	if len(w.Jobs) == 0 {
		errs = append(errs, NewValidationError(ErrNoJobs, "jobs", "", "at least one job is required", "Declare a job under 'jobs'"))
	}

	seen := make(map[string]bool)
	for i, job := range w.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		if job == nil {
			errs = append(errs, NewValidationError(ErrInvalidJobID, field, "", "job is nil", ""))
			continue
		}
		if !jobIDPattern.MatchString(job.ID) {
			errs = append(errs, NewValidationError(ErrInvalidJobID, field+".id", job.ID,
				"job IDs must start with a letter or '_' and contain only letters, digits, '-' and '_'", ""))
		} else if seen[job.ID] {
			errs = append(errs, NewValidationError(ErrDuplicateJob, field+".id", job.ID,
				"job names must be unique within the workflow", "Rename one of the jobs"))
		}
		seen[job.ID] = true
		errs = append(errs, validateJob(job)...)
	}

	if len(errs) > 0 {
		validationLog.Printf("Workflow validation found %d problems", len(errs))
	}
	return errors.Join(errs...)
}

// Warnings reports steps whose guard compares an axis against a value the
// axis never takes. Such steps are skipped in every instance, which is legal
// but rarely intended.
func (w *Workflow) Warnings() []*WorkflowValidationError {
	var warnings []*WorkflowValidationError
	for _, job := range w.Jobs {
		if job == nil {
			continue
		}
		for i, step := range job.Steps {
			for _, c := range step.If.Conditions {
				axis, ok := job.Matrix.Axis(c.Axis)
				if !ok || slices.Contains(axis.Values, c.Value) {
					continue
				}
				warnings = append(warnings, NewValidationError(ErrUnreachableStep, fmt.Sprintf("jobs.%s.steps[%d].if", job.ID, i), step.If.Render(),
					fmt.Sprintf("axis %q never takes the value %q, so the step is always skipped", c.Axis, c.Value),
					fmt.Sprintf("Add %q to the %s axis or remove the step", c.Value, c.Axis)))
			}
		}
	}
	if len(warnings) > 0 {
		validationLog.Printf("Workflow has %d unreachable step conditions", len(warnings))
	}
	return warnings
}

func validateTrigger(t Trigger) []error {
	if t.IsEmpty() {
		return []error{NewValidationError(ErrNoTriggers, "on", "",
			"at least one trigger is required or the workflow never executes",
			"Add merge_group, push or pull_request under 'on'")}
	}
	var errs []error
	kinds := make(map[EventKind]bool)
	for i, f := range t.Filters {
		field := fmt.Sprintf("on[%d]", i)
		switch {
		case !f.Kind.IsValid():
			errs = append(errs, NewValidationError(ErrInvalidEvent, field, string(f.Kind),
				fmt.Sprintf("unsupported event (expected one of %v)", EventKinds), ""))
		case kinds[f.Kind]:
			errs = append(errs, NewValidationError(ErrInvalidEvent, field, string(f.Kind), "event declared twice", ""))
		case len(f.Branches) > 0 && !f.Kind.supportsBranchFilter():
			errs = append(errs, NewValidationError(ErrInvalidEvent, field+".branches", strings.Join(f.Branches, ","),
				fmt.Sprintf("%s events cannot be filtered by branch", f.Kind), ""))
		}
		for _, b := range f.Branches {
			if strings.TrimSpace(b) == "" {
				errs = append(errs, NewValidationError(ErrInvalidEvent, field+".branches", b, "branch names cannot be empty", ""))
			}
		}
		kinds[f.Kind] = true
	}
	return errs
}

func validateJob(job *Job) []error {
	var errs []error
	prefix := "jobs." + job.ID

	errs = append(errs, validateMatrix(prefix, job.Matrix)...)

	if strings.TrimSpace(job.RunsOn) == "" {
		errs = append(errs, NewValidationError(ErrInvalidJobID, prefix+".runs-on", "", "a runner image is required", "Set runs-on, e.g. ubuntu-latest"))
	}
	errs = append(errs, validateMatrixRefs(prefix+".runs-on", job.RunsOn, job.Matrix)...)

	if job.Toolchain != nil {
		field := prefix + ".toolchain"
		channel := job.Toolchain.Channel
		refs := matrixRefPattern.FindAllStringSubmatch(channel, -1)
		if len(refs) > 0 {
			errs = append(errs, validateMatrixRefs(field, channel, job.Matrix)...)
			if axis, ok := job.Matrix.Axis(refs[0][1]); ok {
				for _, v := range axis.Values {
					if !IsValidChannel(v) {
						errs = append(errs, NewValidationError(ErrInvalidToolchain, fmt.Sprintf("%s.strategy.matrix.%s", prefix, axis.Name), v,
							"not a toolchain channel", "Use stable, beta, nightly, nightly-YYYY-MM-DD or a version like 1.75.0"))
					}
				}
			}
		} else if !IsValidChannel(channel) {
			errs = append(errs, NewValidationError(ErrInvalidToolchain, field, channel,
				"not a toolchain channel", "Use stable, beta, nightly, nightly-YYYY-MM-DD or a version like 1.75.0"))
		}
		for _, c := range job.Toolchain.Components {
			if strings.TrimSpace(c) == "" || strings.ContainsAny(c, " ,") {
				errs = append(errs, NewValidationError(ErrInvalidToolchain, field+".components", c, "invalid component name", ""))
			}
		}
	}

	if len(job.Steps) == 0 {
		errs = append(errs, NewValidationError(ErrNoSteps, prefix+".steps", "", "a job must declare at least one step", ""))
	}
	for i, step := range job.Steps {
		errs = append(errs, validateStep(fmt.Sprintf("%s.steps[%d]", prefix, i), step, job.Matrix)...)
	}
	return errs
}

func validateMatrix(prefix string, m *Matrix) []error {
	if m == nil {
		return nil
	}
	var errs []error
	field := prefix + ".strategy.matrix"
	if len(m.Axes) == 0 {
		return []error{NewValidationError(ErrInvalidMatrix, field, "", "a matrix must declare at least one axis", "Remove the empty matrix")}
	}
	names := make(map[string]bool)
	for _, axis := range m.Axes {
		if !jobIDPattern.MatchString(axis.Name) {
			errs = append(errs, NewValidationError(ErrInvalidMatrix, field, axis.Name, "invalid axis name", ""))
		}
		if names[axis.Name] {
			errs = append(errs, NewValidationError(ErrInvalidMatrix, field, axis.Name, "axis declared twice", ""))
		}
		names[axis.Name] = true
		if len(axis.Values) == 0 {
			errs = append(errs, NewValidationError(ErrInvalidMatrix, field+"."+axis.Name, "", "an axis must list at least one value", ""))
		}
		seen := make(map[string]bool)
		for _, v := range axis.Values {
			if seen[v] {
				errs = append(errs, NewValidationError(ErrInvalidMatrix, field+"."+axis.Name, v, "duplicate axis value", ""))
			}
			seen[v] = true
		}
	}
	return errs
}

func validateMatrixRefs(field, value string, m *Matrix) []error {
	var errs []error
	for _, ref := range matrixRefPattern.FindAllStringSubmatch(value, -1) {
		if _, ok := m.Axis(ref[1]); !ok {
			errs = append(errs, NewValidationError(ErrUnknownAxis, field, value,
				fmt.Sprintf("references undeclared matrix axis %q", ref[1]), "Declare the axis under strategy.matrix"))
		}
	}
	return errs
}

func validateStep(field string, step Step, m *Matrix) []error {
	var errs []error
	switch {
	case step.Uses != "" && step.Run != "":
		errs = append(errs, NewValidationError(ErrInvalidStep, field, step.DisplayName(), "a step cannot have both 'uses' and 'run'", ""))
	case step.Uses == "" && strings.TrimSpace(step.Run) == "":
		errs = append(errs, NewValidationError(ErrInvalidStep, field, step.Name, "a step needs either 'uses' or 'run'", ""))
	}
	if step.Uses != "" && !strings.Contains(step.Uses, "@") && !strings.HasPrefix(step.Uses, "./") {
		errs = append(errs, NewValidationError(ErrInvalidStep, field+".uses", step.Uses, "action references must be pinned with @<ref>", ""))
	}
	if step.Run != "" && len(step.With) > 0 {
		errs = append(errs, NewValidationError(ErrInvalidStep, field+".with", "", "'with' only applies to action steps", ""))
	}

	for _, c := range step.If.Conditions {
		if _, ok := m.Axis(c.Axis); !ok {
			errs = append(errs, NewValidationError(ErrUnknownAxis, field+".if", step.If.Render(),
				fmt.Sprintf("references undeclared matrix axis %q", c.Axis), "Declare the axis under strategy.matrix"))
		}
	}

	errs = append(errs, validateMatrixRefs(field+".run", step.Run, m)...)
	for _, v := range step.With {
		errs = append(errs, validateMatrixRefs(field+".with", v, m)...)
	}
	for _, v := range step.Env {
		errs = append(errs, validateMatrixRefs(field+".env", v, m)...)
	}
	return errs
}
