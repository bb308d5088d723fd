// Package gitutil wraps the few git queries gh-ci needs.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var log = logger.New("gitutil:gitutil")

// FindGitRoot returns the top-level directory of the repository containing dir.
func FindGitRoot(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not in a git repository: %w", err)
	}
	log.Printf("Found git root: %s", out)
	return out, nil
}

// CurrentBranch returns the checked-out branch name of the repository at dir.
// A detached HEAD is reported as an error.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to determine current branch: %w", err)
	}
	if out == "HEAD" {
		return "", fmt.Errorf("HEAD is detached; pass --branch explicitly")
	}
	log.Printf("Current branch: %s", out)
	return out, nil
}

// TrackedFiles lists the paths tracked in the index of the repository at
// dir, relative to dir and slash-separated.
func TrackedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := git(ctx, dir, "ls-files", "-z")
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked files: %w", err)
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	log.Printf("Found %d tracked files in %s", len(files), dir)
	return files, nil
}

// LooksLikeCommitSHA reports whether s could be an abbreviated or full
// commit SHA rather than a branch name.
func LooksLikeCommitSHA(s string) bool {
	return len(s) >= 7 && len(s) <= 40 && IsHexString(s)
}

// IsHexString reports whether s is non-empty and made only of hex digits.
func IsHexString(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	}) < 0
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
