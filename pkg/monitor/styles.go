package monitor

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	updateStyle    = lipgloss.NewStyle().Foreground(warningColor)

	// Queue state styles
	queueStateStyles = map[string]lipgloss.Style{
		"queued":            lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"pushing":           lipgloss.NewStyle().Foreground(warningColor),
		"applied":           lipgloss.NewStyle().Foreground(successColor),
		"duplicate_ignored": lipgloss.NewStyle().Foreground(mutedColor),
		"failed_retry":      lipgloss.NewStyle().Foreground(warningColor),
		"failed_permanent":  lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}

	// Receipt state styles
	receiptStateStyles = map[string]lipgloss.Style{
		"pending":   lipgloss.NewStyle().Foreground(warningColor),
		"confirmed": lipgloss.NewStyle().Foreground(successColor),
		"rejected":  lipgloss.NewStyle().Foreground(errorColor),
	}

	// Selected row style - inverted colors for visibility
	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("237")).
				Foreground(lipgloss.Color("255"))
)

func queueStateStyle(state string) lipgloss.Style {
	if s, ok := queueStateStyles[state]; ok {
		return s
	}
	return subtleStyle
}

func receiptStateStyle(state string) lipgloss.Style {
	if s, ok := receiptStateStyles[state]; ok {
		return s
	}
	return subtleStyle
}
