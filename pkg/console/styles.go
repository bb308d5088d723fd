package console

import "github.com/charmbracelet/lipgloss"

// Adaptive colors keep messages readable on light and dark terminals.
var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	colorError   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	infoStyle     = lipgloss.NewStyle().Foreground(colorInfo)
	warningStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	errorBold     = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningBold   = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	commandStyle  = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	totalStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	locationStyle = lipgloss.NewStyle().Bold(true)
)
