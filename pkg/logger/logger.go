// Package logger provides namespaced debug loggers in the style of the
// debug npm package.
//
// Loggers are enabled through the DEBUG environment variable, which holds a
// comma-separated list of namespace patterns:
//
//	DEBUG=*                       enable everything
//	DEBUG=workflow:*              enable every logger in the workflow namespace
//	DEBUG=workflow:*,runner:*     enable several namespaces
//	DEBUG=*,-workflow:shell       enable everything except workflow:shell
//
// Output goes to stderr as "namespace message +elapsed", where elapsed is
// the time since the previous message of the same logger. Namespaces are
// colorized when stderr is a terminal.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Logger is a namespaced debug logger. The zero value is disabled.
type Logger struct {
	namespace string
	enabled   bool

	mu      sync.Mutex
	lastLog time.Time
	style   lipgloss.Style
}

// palette holds the namespace colors, picked by a stable hash of the namespace.
var palette = []lipgloss.Color{"6", "2", "3", "4", "5", "1", "14", "10", "11", "12", "13", "9"}

// New creates a logger for the given namespace. Whether it is enabled is
// decided once, from the DEBUG environment variable at creation time.
func New(namespace string) *Logger {
	l := &Logger{
		namespace: namespace,
		enabled:   computeEnabled(namespace, os.Getenv("DEBUG")),
		lastLog:   time.Now(),
	}
	if isStderrTerminal() {
		l.style = lipgloss.NewStyle().Foreground(palette[hashNamespace(namespace)%uint32(len(palette))]).Bold(true)
	} else {
		l.style = lipgloss.NewStyle()
	}
	return l
}

// Enabled reports whether the logger writes output.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Printf formats according to a format specifier and writes to stderr.
func (l *Logger) Printf(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

// Print concatenates its arguments like fmt.Sprint and writes to stderr.
func (l *Logger) Print(args ...any) {
	if !l.Enabled() {
		return
	}
	l.write(fmt.Sprint(args...))
}

func (l *Logger) write(message string) {
	l.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(l.lastLog)
	l.lastLog = now
	l.mu.Unlock()

	fmt.Fprintf(os.Stderr, "%s %s +%s\n", l.style.Render(l.namespace), message, formatElapsed(elapsed))
}

// formatElapsed renders a duration compactly: 0ns, 12ms, 1.5s, 2m3s.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// computeEnabled evaluates the DEBUG patterns against a namespace.
// Exclusions (patterns prefixed with "-") always win over inclusions.
func computeEnabled(namespace, debug string) bool {
	if debug == "" {
		return false
	}

	enabled := false
	for _, pattern := range strings.Split(debug, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if excluded, ok := strings.CutPrefix(pattern, "-"); ok {
			if matchPattern(excluded, namespace) {
				return false
			}
			continue
		}
		if matchPattern(pattern, namespace) {
			enabled = true
		}
	}
	return enabled
}

// matchPattern matches a namespace against a pattern where "*" matches any
// run of characters.
func matchPattern(pattern, namespace string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == namespace
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(namespace, parts[0]) {
		return false
	}
	rest := namespace[len(parts[0]):]
	for i, part := range parts[1:] {
		last := i == len(parts)-2
		if last {
			return strings.HasSuffix(rest, part)
		}
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}

func hashNamespace(namespace string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(namespace); i++ {
		h ^= uint32(namespace[i])
		h *= 16777619
	}
	return h
}

func isStderrTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
