package runner

import (
	"cmp"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cipolicy/gh-ci/pkg/envutil"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

var executorLog = logger.New("runner:executor")

// Executor runs execution plans on the local host.
type Executor struct {
	Provisioner Provisioner
	Actions     *ActionRegistry
	// Cache is nil to disable the dependency cache.
	Cache *CacheStore
	// Workspace is the checked-out repository.
	Workspace string
	// MaxParallel bounds concurrently running instances.
	MaxParallel int
	// Output receives every instance's output, line-prefixed with its
	// name. Nil discards it; results still capture it.
	Output io.Writer
	// Isolate gives every instance its own copy of the workspace. Without
	// isolation instances run one at a time.
	Isolate bool
	// KeepWorkspaces leaves isolated workspaces on disk for inspection.
	KeepWorkspaces bool
	// Environ returns the host environment; os.Environ when nil.
	Environ func() []string
}

// NewExecutor returns an executor for workspace with host provisioning,
// the built-in action handlers, isolation and parallelism taken from the
// environment.
func NewExecutor(workspace string) *Executor {
	return &Executor{
		Provisioner: &HostProvisioner{},
		Actions:     NewActionRegistry(),
		Workspace:   workspace,
		MaxParallel: envutil.MaxParallel(),
		Output:      os.Stderr,
		Isolate:     true,
	}
}

// RunResult aggregates the outcome of every instance of a plan.
type RunResult struct {
	ID        string
	Event     workflow.Event
	Triggered bool
	// Instances are in plan order.
	Instances []*InstanceResult
	Duration  time.Duration
}

// Success reports whether every instance succeeded.
func (r *RunResult) Success() bool {
	for _, inst := range r.Instances {
		if inst.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Failed returns the instances that did not succeed.
func (r *RunResult) Failed() []*InstanceResult {
	var out []*InstanceResult
	for _, inst := range r.Instances {
		if inst.Status != StatusSuccess {
			out = append(out, inst)
		}
	}
	return out
}

// Counts tallies instances by final status.
func (r *RunResult) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, inst := range r.Instances {
		counts[inst.Status]++
	}
	return counts
}

// Run executes every instance of plan. Instances run in parallel up to
// MaxParallel; a failing instance never stops its siblings. The returned
// error covers executor misconfiguration only; instance failures are
// reported in the result.
func (e *Executor) Run(ctx context.Context, plan *workflow.ExecutionPlan) (*RunResult, error) {
	if e.Workspace == "" {
		return nil, errors.New("executor has no workspace")
	}
	if e.Provisioner == nil || e.Actions == nil {
		return nil, errors.New("executor needs a provisioner and an action registry")
	}

	result := &RunResult{ID: uuid.NewString(), Event: plan.Event, Triggered: plan.Triggered}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if !plan.Triggered || len(plan.Instances) == 0 {
		executorLog.Printf("Run %s: nothing to execute for %s", result.ID, plan.Event)
		return result, nil
	}

	workers := max(e.MaxParallel, 1)
	if !e.Isolate {
		workers = 1
	}
	executorLog.Printf("Run %s: %d instances, %d workers", result.ID, len(plan.Instances), workers)

	var outMu sync.Mutex
	p := pool.NewWithResults[*InstanceResult]().WithMaxGoroutines(workers)
	for i, inst := range plan.Instances {
		p.Go(func() *InstanceResult {
			res := e.runInstance(ctx, inst, &outMu)
			res.order = i
			return res
		})
	}
	results := p.Wait()
	slices.SortFunc(results, func(a, b *InstanceResult) int { return cmp.Compare(a.order, b.order) })
	result.Instances = results

	executorLog.Printf("Run %s finished: %v", result.ID, result.Counts())
	return result, nil
}
