package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// TableConfig describes a table to render.
type TableConfig struct {
	Title     string
	Headers   []string
	Rows      [][]string
	ShowTotal bool
	TotalRow  []string
}

// RenderTable renders a bordered table. An empty config renders nothing.
func RenderTable(config TableConfig) string {
	if len(config.Headers) == 0 {
		return ""
	}
	consoleLog.Printf("Rendering table: title=%s, columns=%d, rows=%d", config.Title, len(config.Headers), len(config.Rows))

	rows := config.Rows
	if config.ShowTotal && len(config.TotalRow) > 0 {
		rows = append(append([][]string{}, rows...), config.TotalRow)
	}
	totalIndex := -2
	if config.ShowTotal && len(config.TotalRow) > 0 {
		totalIndex = len(rows) - 1
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(config.Headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch row {
			case table.HeaderRow:
				return headerStyle
			case totalIndex:
				return totalStyle
			default:
				return cellStyle
			}
		})

	var b strings.Builder
	if config.Title != "" {
		b.WriteString(applyStyle(titleStyle, config.Title))
		b.WriteString("\n")
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
