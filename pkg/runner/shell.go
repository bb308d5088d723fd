package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var shellLog = logger.New("runner:shell")

// cancelGracePeriod is how long a cancelled command may keep its output
// pipes open before they are closed forcibly.
const cancelGracePeriod = 5 * time.Second

// shellArgs returns the interpreter invocation for a run step: bash with
// errexit and pipefail when available, otherwise POSIX sh with errexit.
func shellArgs(script string) (string, []string) {
	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"--noprofile", "--norc", "-e", "-o", "pipefail", "-c", script}
	}
	return "sh", []string{"-e", "-c", script}
}

// runCommand runs name with args in dir, streaming combined output to out.
// It returns the exit code of a command that ran to completion; err is set
// only when the command could not be started or did not exit normally.
func runCommand(ctx context.Context, dir string, env []string, out io.Writer, name string, args ...string) (int, error) {
	shellLog.Printf("Running %s in %s", shellJoinArgs(append([]string{name}, args...)), dir)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = cancelGracePeriod

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		shellLog.Printf("Command exited with code %d", exitErr.ExitCode())
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", name, err)
}

// runScript runs a step's shell script.
func runScript(ctx context.Context, dir string, env []string, out io.Writer, script string) (int, error) {
	name, args := shellArgs(script)
	return runCommand(ctx, dir, env, out, name, args...)
}

// shellJoinArgs joins command arguments for display, quoting those with
// shell metacharacters.
func shellJoinArgs(args []string) string {
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = shellEscapeArg(arg)
	}
	return strings.Join(escaped, " ")
}

// shellEscapeArg single-quotes an argument containing shell metacharacters.
func shellEscapeArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.ContainsAny(arg, "()[]{}*?$`\"'\\|&;<> \t\n") {
		return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
	}
	return arg
}
