package workflow

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/parser"
	"github.com/goccy/go-yaml"
)

var decoderLog = logger.New("workflow:decoder")

// ParseWorkflowFile reads and parses a workflow file.
func ParseWorkflowFile(path string) (*Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	w, err := ParseWorkflow(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ParseWorkflow decodes a GitHub Actions workflow into the policy model. The
// document must match the workflow schema and the resulting policy must
// validate. Steps the compiler adds are lifted back into job fields: the
// leading checkout, the toolchain installation and the trailing
// verification step.
func ParseWorkflow(content []byte) (*Workflow, error) {
	doc, err := parser.ParseYAML(content)
	if err != nil {
		return nil, err
	}
	if err := parser.ValidateWorkflowSchema(doc); err != nil {
		return nil, err
	}

	w := &Workflow{}
	if name, ok := parser.Lookup(doc, "name"); ok {
		w.Name = scalarString(name)
	}
	if on, ok := parser.Lookup(doc, "on"); ok {
		trigger, err := decodeTrigger(on)
		if err != nil {
			return nil, err
		}
		w.Trigger = trigger
	}
	if env, ok := parser.Lookup(doc, "env"); ok {
		w.Env = decodeStringMap(env)
	}

	jobs, _ := parser.Lookup(doc, "jobs")
	jobMap, ok := jobs.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("jobs: expected a mapping, got %T", jobs)
	}
	for _, item := range jobMap {
		job, err := decodeJob(parser.KeyString(item.Key), item.Value)
		if err != nil {
			return nil, err
		}
		w.Jobs = append(w.Jobs, job)
	}
	decoderLog.Printf("Decoded workflow %q with %d jobs", w.Name, len(w.Jobs))

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return w, nil
}

func decodeTrigger(on any) (Trigger, error) {
	var t Trigger
	switch v := on.(type) {
	case string:
		t.Filters = append(t.Filters, EventFilter{Kind: EventKind(v)})
	case []any:
		for _, item := range v {
			t.Filters = append(t.Filters, EventFilter{Kind: EventKind(scalarString(item))})
		}
	case yaml.MapSlice:
		for _, item := range v {
			filter := EventFilter{Kind: EventKind(parser.KeyString(item.Key))}
			if cfg, ok := item.Value.(yaml.MapSlice); ok {
				if branches, ok := parser.Lookup(cfg, "branches"); ok {
					filter.Branches = decodeStringList(branches)
				}
			}
			t.Filters = append(t.Filters, filter)
		}
	default:
		return Trigger{}, fmt.Errorf("on: unsupported trigger type %T", on)
	}
	return t, nil
}

func decodeJob(id string, value any) (*Job, error) {
	fields, ok := value.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("jobs.%s: expected a mapping, got %T", id, value)
	}
	job := &Job{ID: id}
	if v, ok := parser.Lookup(fields, "name"); ok {
		job.Name = scalarString(v)
	}
	if v, ok := parser.Lookup(fields, "runs-on"); ok {
		job.RunsOn = scalarString(v)
	}
	if strategy, ok := parser.Lookup(fields, "strategy"); ok {
		if cfg, ok := strategy.(yaml.MapSlice); ok {
			if matrix, ok := parser.Lookup(cfg, "matrix"); ok {
				job.Matrix = decodeMatrix(matrix)
			}
		}
	}

	rawSteps, _ := parser.Lookup(fields, "steps")
	items, _ := rawSteps.([]any)
	for i, item := range items {
		step, err := decodeStep(item)
		if err != nil {
			return nil, fmt.Errorf("jobs.%s.steps[%d]: %w", id, i, err)
		}
		job.Steps = append(job.Steps, step)
	}

	if err := liftGeneratedSteps(job); err != nil {
		return nil, fmt.Errorf("jobs.%s: %w", id, err)
	}
	return job, nil
}

func decodeMatrix(value any) *Matrix {
	axes, ok := value.(yaml.MapSlice)
	if !ok {
		return nil
	}
	m := &Matrix{}
	for _, item := range axes {
		m.Axes = append(m.Axes, Axis{Name: parser.KeyString(item.Key), Values: decodeStringList(item.Value)})
	}
	return m
}

func decodeStep(value any) (Step, error) {
	fields, ok := value.(yaml.MapSlice)
	if !ok {
		return Step{}, fmt.Errorf("expected a mapping, got %T", value)
	}
	var step Step
	for _, item := range fields {
		switch key := parser.KeyString(item.Key); key {
		case "name":
			step.Name = scalarString(item.Value)
		case "if":
			guard, err := ParseGuard(scalarString(item.Value))
			if err != nil {
				return Step{}, fmt.Errorf("if: %w", err)
			}
			step.If = guard
		case "uses":
			step.Uses = scalarString(item.Value)
		case "with":
			step.With = decodeStringMap(item.Value)
		case "run":
			step.Run = strings.TrimRight(scalarString(item.Value), "\n")
		case "env":
			step.Env = decodeStringMap(item.Value)
		default:
			return Step{}, fmt.Errorf("unsupported step key %q", key)
		}
	}
	return step, nil
}

// liftGeneratedSteps moves compiler-generated steps back into job fields.
func liftGeneratedSteps(job *Job) error {
	if len(job.Steps) > 0 && strings.HasPrefix(job.Steps[0].Uses, actionName(constants.CheckoutAction)+"@") {
		job.Steps = job.Steps[1:]
	}

	toolchainPrefix := actionName(constants.ToolchainAction) + "@"
	for i, step := range job.Steps {
		if !strings.HasPrefix(step.Uses, toolchainPrefix) {
			continue
		}
		channel := step.With["toolchain"]
		if channel == "" {
			return fmt.Errorf("toolchain step %q has no toolchain input", step.DisplayName())
		}
		tc := &Toolchain{Channel: channel}
		for c := range strings.SplitSeq(step.With["components"], ",") {
			if c = strings.TrimSpace(c); c != "" {
				tc.Components = append(tc.Components, c)
			}
		}
		job.Toolchain = tc
		job.Steps = append(job.Steps[:i:i], job.Steps[i+1:]...)
		decoderLog.Printf("Lifted toolchain %s for job %s", channel, job.ID)
		break
	}

	if n := len(job.Steps); n > 0 {
		last := job.Steps[n-1]
		if last.Name == VerifyStepName && strings.TrimSpace(last.Run) == VerifyCommand {
			job.Steps = job.Steps[:n-1]
			job.VerifyOnly = true
		}
	}
	return nil
}

// actionName strips the @ref from an action reference.
func actionName(ref string) string {
	name, _, _ := strings.Cut(ref, "@")
	return name
}

func decodeStringList(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, scalarString(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{scalarString(v)}
	}
}

func decodeStringMap(value any) map[string]string {
	fields, ok := value.(yaml.MapSlice)
	if !ok || len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, item := range fields {
		out[parser.KeyString(item.Key)] = scalarString(item.Value)
	}
	return out
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
