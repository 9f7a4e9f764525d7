package cmd

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle = lipgloss.NewStyle().Width(22)
)

// statusBadge renders a status word in the color that matches its outcome.
func statusBadge(status string) string {
	switch status {
	case "PASS", "SUCCESS", "complete", "OK":
		return passStyle.Render(status)
	case "FAIL", "FAILED", "failed":
		return failStyle.Render(status)
	case "PARTIAL", "SUCCESS_WITH_WARNINGS", "running", "skipped":
		return warnStyle.Render(status)
	default:
		return dimStyle.Render(status)
	}
}
