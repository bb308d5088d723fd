// Package console formats user-facing messages, positioned errors and tables
// for the terminal. Styling is applied only when stderr is a terminal so that
// piped output and tests see plain text.
package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"golang.org/x/term"
)

var consoleLog = logger.New("console:console")

// ErrorPosition locates an error in a file. Zero values mean unknown.
type ErrorPosition struct {
	File   string
	Line   int
	Column int
}

// CompilerError is a positioned diagnostic.
type CompilerError struct {
	Position ErrorPosition
	Type     string // "error" or "warning"
	Message  string
	Context  []string // source lines centered on Position.Line
}

// isTTY reports whether stderr is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func applyStyle(style lipgloss.Style, text string) string {
	if !isTTY() {
		return text
	}
	return style.Render(text)
}

// FormatSuccessMessage formats a success message.
func FormatSuccessMessage(message string) string {
	return applyStyle(successStyle, "✓ ") + message
}

// FormatInfoMessage formats an informational message.
func FormatInfoMessage(message string) string {
	return applyStyle(infoStyle, "ℹ ") + message
}

// FormatWarningMessage formats a warning message.
func FormatWarningMessage(message string) string {
	return applyStyle(warningStyle, "⚠ ") + message
}

// FormatErrorMessage formats an error message.
func FormatErrorMessage(message string) string {
	return applyStyle(errorStyle, "✗ ") + message
}

// FormatVerboseMessage formats a low-priority message shown with --verbose.
func FormatVerboseMessage(message string) string {
	return applyStyle(mutedStyle, "🔍 "+message)
}

// FormatCommandMessage formats a command that is about to run.
func FormatCommandMessage(command string) string {
	return applyStyle(commandStyle, "⚡ ") + applyStyle(commandStyle, command)
}

// FormatLocationMessage formats a message pointing at a file or directory.
func FormatLocationMessage(message string) string {
	return "📁 " + applyStyle(locationStyle, message)
}

// FormatListItem formats a bulleted list entry.
func FormatListItem(item string) string {
	return "  • " + item
}

// FormatErrorWithSuggestions formats an error followed by suggestions.
func FormatErrorWithSuggestions(message string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(FormatErrorMessage(message))
	if len(suggestions) > 0 {
		b.WriteString("\n\nSuggestions:\n")
		for _, s := range suggestions {
			b.WriteString(FormatListItem(s))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatError renders a CompilerError as "file:line:col: type: message"
// followed by numbered context lines.
func FormatError(err CompilerError) string {
	consoleLog.Printf("Formatting compiler error: file=%s, line=%d, type=%s", err.Position.File, err.Position.Line, err.Type)

	var b strings.Builder

	location := ToRelativePath(err.Position.File)
	if err.Position.Line > 0 {
		location = fmt.Sprintf("%s:%d", location, err.Position.Line)
		if err.Position.Column > 0 {
			location = fmt.Sprintf("%s:%d", location, err.Position.Column)
		}
	}
	if location != "" {
		b.WriteString(applyStyle(locationStyle, location+":"))
		b.WriteString(" ")
	}

	errType := err.Type
	if errType == "" {
		errType = "error"
	}
	typeStyle := errorBold
	if errType == "warning" {
		typeStyle = warningBold
	}
	b.WriteString(applyStyle(typeStyle, errType+":"))
	b.WriteString(" ")
	b.WriteString(err.Message)
	b.WriteString("\n")

	if len(err.Context) > 0 && err.Position.Line > 0 {
		first := max(1, err.Position.Line-len(err.Context)/2)
		width := len(fmt.Sprint(first + len(err.Context) - 1))
		for i, line := range err.Context {
			lineNum := first + i
			prefix := fmt.Sprintf("%*d | ", width, lineNum)
			if lineNum == err.Position.Line {
				b.WriteString(applyStyle(typeStyle, prefix))
			} else {
				b.WriteString(applyStyle(mutedStyle, prefix))
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// ToRelativePath converts an absolute path to one relative to the working
// directory when that is shorter; relative paths are returned unchanged.
func ToRelativePath(path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
