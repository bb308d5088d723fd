package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
	"github.com/google/uuid"
)

var instanceLog = logger.New("runner:instance")

// maxReportedChanges bounds the paths listed when a verification job
// modified the tree.
const maxReportedChanges = 10

// StepResult records one step of an instance.
type StepResult struct {
	Index    int
	Name     string
	Skipped  bool
	ExitCode int
	Duration time.Duration
	Err      error
}

// InstanceResult is the outcome of one job instance.
type InstanceResult struct {
	ID       string
	Instance *workflow.Instance
	Status   Status
	// History lists every state entered, starting with StatusPending. Each
	// executed step adds a StatusRunning entry.
	History []Status
	// FailedStep is the index of the failing step, or -1.
	FailedStep int
	ExitCode   int
	Err        error
	Steps      []StepResult
	// Output is everything the instance printed, unprefixed.
	Output   string
	Duration time.Duration

	order int
}

func newInstanceResult(inst *workflow.Instance) *InstanceResult {
	return &InstanceResult{
		ID:         uuid.NewString(),
		Instance:   inst,
		Status:     StatusPending,
		History:    []Status{StatusPending},
		FailedStep: -1,
	}
}

func (r *InstanceResult) transition(next Status) {
	if !r.Status.CanTransition(next) {
		// Only reachable through a bug in the runner itself.
		panic(fmt.Sprintf("runner: invalid transition %s -> %s for %s", r.Status, next, r.Instance.DisplayName()))
	}
	instanceLog.Printf("%s: %s -> %s", r.Instance.DisplayName(), r.Status, next)
	r.Status = next
	r.History = append(r.History, next)
}

func (r *InstanceResult) cancel(err error) {
	r.Err = err
	r.transition(StatusCancelled)
}

// runInstance drives one instance through its lifecycle.
func (e *Executor) runInstance(ctx context.Context, inst *workflow.Instance, outMu *sync.Mutex) *InstanceResult {
	res := newInstanceResult(inst)
	start := time.Now()

	var buf bytes.Buffer
	var out io.Writer = &buf
	var pw *prefixWriter
	if e.Output != nil {
		pw = newPrefixWriter(e.Output, "["+inst.DisplayName()+"] ", outMu)
		out = io.MultiWriter(&buf, pw)
	}
	defer func() {
		if pw != nil {
			pw.Flush()
		}
		res.Output = buf.String()
		res.Duration = time.Since(start)
		instanceLog.Printf("%s finished as %s in %s", inst.DisplayName(), res.Status, res.Duration)
	}()

	if err := ctx.Err(); err != nil {
		res.cancel(err)
		return res
	}
	res.transition(StatusProvisioning)

	workspace := e.Workspace
	if e.Isolate {
		dir, err := isolatedWorkspace(e.Workspace, inst.JobID)
		if err != nil {
			res.Err = &InfraError{Phase: "workspace setup", Err: err}
			res.transition(StatusInfraFailed)
			return res
		}
		if !e.KeepWorkspaces {
			defer os.RemoveAll(dir)
		}
		workspace = dir
	}

	if err := e.Provisioner.Provision(ctx, inst, workspace, out); err != nil {
		if ctx.Err() != nil {
			res.cancel(ctx.Err())
			return res
		}
		res.Err = &InfraError{Phase: "provisioning", Err: err}
		fmt.Fprintln(out, console.FormatErrorMessage(res.Err.Error()))
		res.transition(StatusInfraFailed)
		return res
	}

	var before Fingerprint
	if inst.VerifyOnly {
		fp, err := FingerprintTree(ctx, workspace)
		if err != nil {
			res.Err = &InfraError{Phase: "fingerprinting", Err: err}
			res.transition(StatusInfraFailed)
			return res
		}
		before = fp
	}

	env := e.baseEnv(inst)
	var posts []postAction
	started := false
	for _, ps := range inst.Steps {
		name := ps.Step.DisplayName()
		if ps.Skipped {
			res.Steps = append(res.Steps, StepResult{Index: ps.Index, Name: name, Skipped: true})
			fmt.Fprintln(out, console.FormatVerboseMessage(fmt.Sprintf("Skipping step %d: %s (%s)", ps.Index+1, name, ps.Step.If.Render())))
			continue
		}
		res.transition(StatusRunning)
		started = true

		sr, stepPosts := e.runStep(ctx, inst, ps, workspace, env, out)
		res.Steps = append(res.Steps, sr)
		posts = append(posts, stepPosts...)
		if sr.Err == nil && sr.ExitCode == 0 {
			continue
		}
		if ctx.Err() != nil {
			res.cancel(ctx.Err())
			return res
		}
		res.FailedStep = ps.Index
		res.ExitCode = sr.ExitCode
		res.Err = &StepError{StepIndex: ps.Index, StepName: name, ExitCode: sr.ExitCode, Err: sr.Err}
		fmt.Fprintln(out, console.FormatErrorMessage(res.Err.Error()))
		res.transition(StatusFailed)
		return res
	}
	if !started {
		res.transition(StatusRunning)
	}

	if inst.VerifyOnly {
		after, err := FingerprintTree(ctx, workspace)
		if err != nil {
			res.Err = fmt.Errorf("fingerprinting workspace after steps: %w", err)
			res.transition(StatusFailed)
			return res
		}
		if changed := before.Diff(after); len(changed) > 0 {
			shown := changed[:min(len(changed), maxReportedChanges)]
			res.Err = fmt.Errorf("%w: %s", ErrTreeMutated, strings.Join(shown, ", "))
			fmt.Fprintln(out, console.FormatErrorMessage(res.Err.Error()))
			res.transition(StatusFailed)
			return res
		}
	}

	for _, post := range posts {
		if err := post.fn(ctx); err != nil {
			fmt.Fprintln(out, console.FormatWarningMessage(fmt.Sprintf("Post step %q failed: %v", post.name, err)))
		}
	}
	res.transition(StatusSuccess)
	return res
}

func (e *Executor) runStep(ctx context.Context, inst *workflow.Instance, ps workflow.PlannedStep, workspace string, env []string, out io.Writer) (StepResult, []postAction) {
	sr := StepResult{Index: ps.Index, Name: ps.Step.DisplayName()}
	start := time.Now()

	fmt.Fprintln(out, console.FormatInfoMessage(fmt.Sprintf("Step %d: %s", ps.Index+1, sr.Name)))
	stepEnv := mergeEnv(env, ps.Step.Env)

	if !ps.Step.IsAction() {
		sr.ExitCode, sr.Err = runScript(ctx, workspace, stepEnv, out, ps.Step.Run)
		sr.Duration = time.Since(start)
		return sr, nil
	}

	handler, ok := e.Actions.Lookup(ps.Step.Uses)
	if !ok {
		sr.ExitCode = -1
		sr.Err = fmt.Errorf("%w %s", ErrUnknownAction, ps.Step.Uses)
		sr.Duration = time.Since(start)
		return sr, nil
	}
	ac := &ActionContext{
		Instance:  inst,
		Step:      ps.Step,
		Workspace: workspace,
		Env:       stepEnv,
		Output:    out,
		Cache:     e.Cache,
	}
	if err := handler(ctx, ac); err != nil {
		sr.ExitCode = -1
		sr.Err = err
	}
	sr.Duration = time.Since(start)
	return sr, ac.posts
}

// baseEnv is the host environment plus the workflow env and the instance's
// toolchain selection.
func (e *Executor) baseEnv(inst *workflow.Instance) []string {
	environ := os.Environ
	if e.Environ != nil {
		environ = e.Environ
	}
	extra := map[string]string{"CI": "true"}
	maps.Copy(extra, inst.Env)
	if inst.Toolchain != nil {
		extra["RUSTUP_TOOLCHAIN"] = inst.Toolchain.Channel
	}
	return mergeEnv(environ(), extra)
}

// mergeEnv overrides or appends KEY=VALUE entries; later values win.
func mergeEnv(base []string, overrides map[string]string) []string {
	out := slices.Clone(base)
	if len(overrides) == 0 {
		return out
	}
	index := make(map[string]int, len(out))
	for i, kv := range out {
		key, _, _ := strings.Cut(kv, "=")
		index[key] = i
	}
	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		kv := key + "=" + overrides[key]
		if i, ok := index[key]; ok {
			out[i] = kv
		} else {
			index[key] = len(out)
			out = append(out, kv)
		}
	}
	return out
}
