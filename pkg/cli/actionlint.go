package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/rhysd/actionlint"
)

var actionlintLog = logger.New("cli:actionlint")

// ErrLintFindings marks a strict-mode lint failure.
var ErrLintFindings = errors.New("actionlint reported issues")

const actionlintChecksURL = "https://github.com/rhysd/actionlint/blob/main/docs/checks.md"

// getActionlintDocsURL returns the documentation URL for an actionlint
// error kind.
func getActionlintDocsURL(kind string) string {
	if kind == "" {
		return actionlintChecksURL
	}

	anchor := kind
	switch kind {
	case "runner-label":
		anchor = "check-runner-labels"
	case "shellcheck":
		anchor = "check-shellcheck-integ"
	case "pyflakes":
		anchor = "check-pyflakes-integ"
	case "expression", "syntax-check":
		anchor = "check-syntax-expression"
	default:
		if !strings.HasPrefix(anchor, "check-") {
			anchor = "check-" + anchor
		}
	}
	return actionlintChecksURL + "#" + anchor
}

// ActionlintStats accumulates findings across linted workflows.
type ActionlintStats struct {
	TotalWorkflows int
	TotalErrors    int
	TotalWarnings  int
	ErrorsByKind   map[string]int
}

// NewActionlintStats returns empty statistics.
func NewActionlintStats() *ActionlintStats {
	return &ActionlintStats{ErrorsByKind: make(map[string]int)}
}

func (s *ActionlintStats) record(findings []*actionlint.Error) {
	s.TotalWorkflows++
	for _, f := range findings {
		if isActionlintWarning(f) {
			s.TotalWarnings++
		} else {
			s.TotalErrors++
		}
		if f.Kind != "" {
			s.ErrorsByKind[f.Kind]++
		}
	}
}

func isActionlintWarning(f *actionlint.Error) bool {
	return strings.Contains(strings.ToLower(f.Kind), "warning")
}

// LintWorkflow runs actionlint over compiled workflow content. path labels
// the findings; "<stdin>" lints content that has no file on disk. External
// shellcheck and pyflakes integrations are not used.
func LintWorkflow(path string, content []byte) ([]*actionlint.Error, error) {
	actionlintLog.Printf("Linting %s (%d bytes)", path, len(content))
	linter, err := actionlint.NewLinter(io.Discard, &actionlint.LinterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create actionlint linter: %w", err)
	}
	findings, err := linter.Lint(path, content, nil)
	if err != nil {
		return nil, fmt.Errorf("actionlint failed on %s: %w", path, err)
	}
	actionlintLog.Printf("actionlint reported %d findings for %s", len(findings), path)
	return findings, nil
}

// lintCompiledWorkflow lints content, prints every finding to w and records
// it in stats. In strict mode any finding is an error.
func lintCompiledWorkflow(w io.Writer, path string, content []byte, strict bool, stats *ActionlintStats) error {
	fmt.Fprintln(w, console.FormatInfoMessage("Running actionlint on "+console.ToRelativePath(path)))
	findings, err := LintWorkflow(path, content)
	if err != nil {
		return err
	}
	if stats != nil {
		stats.record(findings)
	}
	displayActionlintFindings(w, content, findings)

	if strict && len(findings) > 0 {
		return fmt.Errorf("strict mode: %w: %d in %s", ErrLintFindings, len(findings), console.ToRelativePath(path))
	}
	return nil
}

func displayActionlintFindings(w io.Writer, content []byte, findings []*actionlint.Error) {
	lines := strings.Split(string(content), "\n")
	for _, f := range findings {
		errType := "error"
		if isActionlintWarning(f) {
			errType = "warning"
		}
		message := f.Message
		if f.Kind != "" {
			message = fmt.Sprintf("[%s] %s\n\n  📖 %s", f.Kind, f.Message, getActionlintDocsURL(f.Kind))
		}
		fmt.Fprint(w, console.FormatError(console.CompilerError{
			Position: console.ErrorPosition{File: f.Filepath, Line: f.Line, Column: f.Column},
			Type:     errType,
			Message:  message,
			Context:  contextLines(lines, f.Line),
		}))
	}
}

// contextLines returns up to two lines either side of the 1-based line,
// keeping the window centered so the formatter numbers it correctly.
func contextLines(lines []string, line int) []string {
	if line < 1 || line > len(lines) {
		return nil
	}
	radius := min(2, line-1, len(lines)-line)
	return lines[line-1-radius : line+radius]
}

// displayActionlintSummary prints aggregate statistics after linting.
func displayActionlintSummary(w io.Writer, stats *ActionlintStats) {
	if stats == nil || stats.TotalWorkflows == 0 {
		return
	}

	separator := strings.Repeat("━", 60)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n\n", separator, console.FormatInfoMessage("Actionlint Summary"), separator)
	fmt.Fprintln(w, console.FormatSuccessMessage(fmt.Sprintf("Checked %d workflow(s)", stats.TotalWorkflows)))

	total := stats.TotalErrors + stats.TotalWarnings
	if total == 0 {
		fmt.Fprintln(w, console.FormatSuccessMessage("No issues found"))
		fmt.Fprintf(w, "\n%s\n", separator)
		return
	}

	issueText := fmt.Sprintf("Found %d issue(s)", total)
	switch {
	case stats.TotalErrors > 0 && stats.TotalWarnings > 0:
		issueText += fmt.Sprintf(" (%d error(s), %d warning(s))", stats.TotalErrors, stats.TotalWarnings)
	case stats.TotalErrors > 0:
		issueText += fmt.Sprintf(" (%d error(s))", stats.TotalErrors)
	default:
		issueText += fmt.Sprintf(" (%d warning(s))", stats.TotalWarnings)
	}
	fmt.Fprintln(w, console.FormatWarningMessage(issueText))

	if len(stats.ErrorsByKind) > 0 {
		fmt.Fprintf(w, "\n%s\n", console.FormatInfoMessage("Issues by type:"))
		for _, kind := range slices.Sorted(maps.Keys(stats.ErrorsByKind)) {
			fmt.Fprintf(w, "  • %s: %d\n", kind, stats.ErrorsByKind[kind])
		}
	}
	fmt.Fprintf(w, "\n%s\n", separator)
}
