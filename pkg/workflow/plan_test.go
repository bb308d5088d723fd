//go:build !integration

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countByJob(plan *ExecutionPlan) map[string]int {
	counts := make(map[string]int)
	for _, inst := range plan.Instances {
		counts[inst.JobID]++
	}
	return counts
}

func TestPlanDefaultPolicyEvents(t *testing.T) {
	tests := []struct {
		name          string
		event         Event
		wantTriggered bool
	}{
		{name: "push to main", event: Event{Kind: EventPush, Branch: "main"}, wantTriggered: true},
		{name: "push to dev", event: Event{Kind: EventPush, Branch: "dev"}, wantTriggered: true},
		{name: "pull request into main", event: Event{Kind: EventPullRequest, Branch: "main"}, wantTriggered: true},
		{name: "pull request into dev", event: Event{Kind: EventPullRequest, Branch: "dev"}, wantTriggered: true},
		{name: "merge group", event: Event{Kind: EventMergeGroup}, wantTriggered: true},
		{name: "push to feature branch", event: Event{Kind: EventPush, Branch: "feature/x"}},
		{name: "pull request into release", event: Event{Kind: EventPullRequest, Branch: "release"}},
		{name: "push to devel", event: Event{Kind: EventPush, Branch: "devel"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Plan(DefaultPolicy(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTriggered, plan.Triggered)
			if !tt.wantTriggered {
				assert.Empty(t, plan.Instances, "an untriggered plan has no instances")
				return
			}
			assert.Equal(t, map[string]int{"build": 2, "format-check": 1, "lint-check": 1}, countByJob(plan),
				"every job runs exactly once per matrix combination")
		})
	}
}

func TestPlanPushToDevScenario(t *testing.T) {
	plan, err := Plan(DefaultPolicy(), Event{Kind: EventPush, Branch: "dev"})
	require.NoError(t, err)

	builds := plan.InstancesOf("build")
	require.Len(t, builds, 2)
	assert.Equal(t, "build (ubuntu-latest, stable)", builds[0].DisplayName())
	assert.Equal(t, "build (ubuntu-latest, nightly)", builds[1].DisplayName())
	for i, inst := range builds {
		assert.Equal(t, i, inst.Index)
		assert.Equal(t, "ubuntu-latest", inst.RunsOn, "runner image should be resolved")
		assert.Len(t, inst.ActiveSteps(), 5, "every build step applies to ubuntu-latest")
	}
	assert.Equal(t, "stable", builds[0].Toolchain.Channel)
	assert.Equal(t, "nightly", builds[1].Toolchain.Channel)

	fmtJobs := plan.InstancesOf("format-check")
	require.Len(t, fmtJobs, 1)
	assert.Equal(t, "format-check", fmtJobs[0].DisplayName())
	assert.True(t, fmtJobs[0].VerifyOnly)
	assert.Len(t, plan.InstancesOf("lint-check"), 1)
}

func TestPlanGuardsExcludeOtherOperatingSystems(t *testing.T) {
	w := DefaultPolicy()
	build := w.Job("build")
	build.Matrix.Axes[0].Values = append(build.Matrix.Axes[0].Values, "macos-latest")

	plan, err := Plan(w, Event{Kind: EventMergeGroup})
	require.NoError(t, err)

	builds := plan.InstancesOf("build")
	require.Len(t, builds, 4, "2 operating systems × 2 channels")
	for _, inst := range builds {
		image, _ := inst.Matrix.Get("os")
		for _, s := range inst.Steps {
			guarded := !s.Step.If.IsZero()
			if image == "macos-latest" && guarded {
				assert.True(t, s.Skipped, "%s must not run on %s", s.Step.Name, inst.DisplayName())
			} else {
				assert.False(t, s.Skipped, "%s should run on %s", s.Step.Name, inst.DisplayName())
			}
		}
	}
	assert.Equal(t, "macos-latest", builds[2].RunsOn)
	assert.Len(t, builds[2].ActiveSteps(), 2, "only check and release build run on macOS")
}

func TestPlanSubstitutesMatrixReferences(t *testing.T) {
	combo := Combination{{Axis: "os", Value: "ubuntu-latest"}, {Axis: "rust", Value: "beta"}}

	assert.Equal(t, "cargo +beta build", substituteMatrix("cargo +${{ matrix.rust }} build", combo))
	assert.Equal(t, "ubuntu-latest/beta", substituteMatrix("${{matrix.os}}/${{ matrix.rust }}", combo))
	assert.Equal(t, "${{ matrix.arch }}", substituteMatrix("${{ matrix.arch }}", combo), "unknown axes stay as written")
	assert.Equal(t, "plain", substituteMatrix("plain", combo))
}

func TestPlanFilterJobs(t *testing.T) {
	plan, err := Plan(DefaultPolicy(), Event{Kind: EventPush, Branch: "main"})
	require.NoError(t, err)

	require.NoError(t, plan.FilterJobs("lint-check"))
	require.Len(t, plan.Instances, 1)
	assert.Equal(t, "lint-check", plan.Instances[0].JobID)

	err = plan.FilterJobs("deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job \"deploy\"")
}

func TestPlanRejectsInvalidWorkflow(t *testing.T) {
	w := DefaultPolicy()
	w.Jobs = nil

	_, err := Plan(w, Event{Kind: EventMergeGroup})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoJobs)
}
