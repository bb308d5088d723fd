package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchLog = logger.New("cli:watch_command")

// WatchConfig holds the options of the watch command.
type WatchConfig struct {
	// Input is the workflow file to watch; empty watches the compiled
	// output and restores the built-in policy whenever it changes.
	Input  string
	Output string
	Lint   bool
	// Debounce is how long changes must settle before recompiling;
	// constants.WatchDebounce when zero.
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Recompile the CI workflow whenever it changes",
		Long: `Watch a workflow file and recompile it on every change.

With a file argument the file is parsed and re-rendered to --output after
each edit. Without one the compiled workflow itself is watched and the
built-in policy is written back whenever the file is edited or removed.

Press Ctrl-C to stop watching.

Examples:
  ` + constants.CLIName + ` watch                          # Keep ` + constants.DefaultWorkflowPath + ` generated
  ` + constants.CLIName + ` watch policy.yml --lint        # Re-render and lint policy.yml on change`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := WatchConfig{}
			cfg.Output, _ = cmd.Flags().GetString("output")
			cfg.Lint, _ = cmd.Flags().GetBool("lint")
			if len(args) > 0 {
				cfg.Input = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunWatch(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output path (default: "+constants.DefaultWorkflowPath+" in the repository root)")
	cmd.Flags().Bool("lint", false, "Run actionlint after each compilation")

	return cmd
}

// RunWatch compiles once, then recompiles on every change to the watched
// file until ctx is cancelled. Compilation errors are printed and watching
// continues.
func RunWatch(ctx context.Context, cfg WatchConfig, stderr io.Writer) error {
	if cfg.Output == stdoutPath {
		return errors.New("watch cannot write to stdout")
	}
	output := cfg.Output
	if output == "" {
		output = defaultOutputPath(ctx)
	}
	target := cfg.Input
	if target == "" {
		target = output
	}
	target, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = constants.WatchDebounce
	}

	compile := func() {
		err := RunCompile(ctx, CompileConfig{Input: cfg.Input, Output: output, Lint: cfg.Lint}, io.Discard, stderr)
		if err != nil {
			fmt.Fprintln(stderr, console.FormatErrorMessage(err.Error()))
		}
	}
	compile()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fmt.Fprintln(stderr, console.FormatInfoMessage(fmt.Sprintf("Watching %s for changes (Ctrl-C to stop)", console.ToRelativePath(target))))
	watchLog.Printf("Watching %s in %s, debounce %s", target, dir, debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			watchLog.Print("Watch cancelled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				watchLog.Printf("Change detected: %s", event)
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(stderr, console.FormatWarningMessage("Watcher error: "+err.Error()))
		case <-timer.C:
			if cfg.Input != "" {
				if _, err := os.Stat(target); err != nil {
					fmt.Fprintln(stderr, console.FormatWarningMessage(console.ToRelativePath(target)+" is missing, waiting for it to reappear"))
					continue
				}
			}
			fmt.Fprintln(stderr, console.FormatInfoMessage("Recompiling "+console.ToRelativePath(target)))
			compile()
		}
	}
}
