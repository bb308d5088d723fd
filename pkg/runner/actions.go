package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
)

var actionsLog = logger.New("runner:actions")

// ActionContext is what a local action handler sees of its instance.
type ActionContext struct {
	Instance  *workflow.Instance
	Step      workflow.Step
	Workspace string
	Env       []string
	Output    io.Writer
	// Cache is nil when caching is disabled.
	Cache *CacheStore

	posts []postAction
}

type postAction struct {
	name string
	fn   func(ctx context.Context) error
}

// AddPost registers work to run after every step of the instance
// succeeded, like an action's post step.
func (ac *ActionContext) AddPost(name string, fn func(ctx context.Context) error) {
	ac.posts = append(ac.posts, postAction{name: name, fn: fn})
}

// ActionHandler runs a uses: step locally.
type ActionHandler func(ctx context.Context, ac *ActionContext) error

// ActionRegistry maps action names, without their @ref, to handlers.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewActionRegistry returns a registry with handlers for the actions the
// default policy uses.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{handlers: make(map[string]ActionHandler)}
	r.Register(constants.CheckoutAction, checkoutAction)
	r.Register(constants.ToolchainAction, toolchainAction)
	r.Register(constants.RustCacheAction, rustCacheAction)
	return r
}

// Register installs a handler. Any @ref on name is ignored.
func (r *ActionRegistry) Register(name string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionKey(name)] = handler
}

// Lookup finds the handler for a uses: reference.
func (r *ActionRegistry) Lookup(uses string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionKey(uses)]
	return h, ok
}

func actionKey(uses string) string {
	name, _, _ := strings.Cut(uses, "@")
	return strings.ToLower(name)
}

// checkoutAction is a no-op: instances start from a copy of the workspace.
func checkoutAction(_ context.Context, ac *ActionContext) error {
	fmt.Fprintln(ac.Output, console.FormatVerboseMessage("Using workspace "+ac.Workspace))
	return nil
}

// toolchainAction is a no-op: the toolchain is installed while the instance
// is provisioned.
func toolchainAction(_ context.Context, ac *ActionContext) error {
	channel := ac.Step.With["toolchain"]
	fmt.Fprintln(ac.Output, console.FormatVerboseMessage("Toolchain "+channel+" provisioned by the runner"))
	return nil
}

// rustCacheAction restores the target directory and saves it again once
// the instance succeeds. Misses and restore failures only cost time.
func rustCacheAction(_ context.Context, ac *ActionContext) error {
	if ac.Cache == nil {
		fmt.Fprintln(ac.Output, console.FormatInfoMessage("Dependency cache disabled"))
		return nil
	}
	key, err := ac.Cache.Key(ac.Workspace, ac.Instance)
	if err != nil {
		fmt.Fprintln(ac.Output, console.FormatWarningMessage("Cache unavailable: "+err.Error()))
		return nil
	}

	hit, err := ac.Cache.Restore(key, ac.Workspace)
	switch {
	case err != nil:
		actionsLog.Printf("Restore of %s failed, continuing cold: %v", key, err)
		fmt.Fprintln(ac.Output, console.FormatWarningMessage("Cache restore failed, continuing without cache: "+err.Error()))
	case hit:
		fmt.Fprintln(ac.Output, console.FormatInfoMessage("Cache restored from key: "+key))
	default:
		fmt.Fprintln(ac.Output, console.FormatInfoMessage("No cache found for key: "+key))
	}

	ac.AddPost("Save dependency cache", func(context.Context) error {
		return ac.Cache.Save(key, ac.Workspace)
	})
	return nil
}
