package watchui

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

// formatDesc collapses whitespace and truncates long descriptions.
func formatDesc(desc string) string {
	normalized := strings.Join(strings.Fields(desc), " ")
	const limit = 60
	if len(normalized) <= limit {
		return normalized
	}
	return normalized[:limit-3] + "..."
}

// formatProgress renders the completed count, with total and percentage when
// the total is known.
func formatProgress(task registry.TaskState) string {
	n := trimFloat(task.N)
	if task.Total == nil || *task.Total <= 0 {
		return n
	}
	pct := task.N / *task.Total * 100
	return n + "/" + trimFloat(*task.Total) + " (" + strconv.FormatFloat(pct, 'f', 1, 64) + "%)"
}

// trimFloat renders a float without trailing zeros.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatAge renders how long ago the task was created.
func formatAge(task registry.TaskState, now time.Time) string {
	created := epochTime(task.CreatedAt)
	if created.IsZero() || now.Before(created) {
		return ""
	}
	return now.Sub(created).Round(time.Second).String()
}

// epochTime converts wire epoch seconds to a time.Time.
func epochTime(s float64) time.Time {
	if s <= 0 {
		return time.Time{}
	}
	sec := int64(s)
	nsec := int64((s - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// renderHeader renders the board header line.
func renderHeader(server string, tasks int, elapsed time.Duration, noColor bool) string {
	line := "pulseboard"
	if server != "" {
		line += " | " + server
	}
	line += " | tasks: " + strconv.Itoa(tasks) +
		" | watching: " + elapsed.Round(time.Second).String()
	return stylize(line, noColor, lipgloss.Color("33"))
}

// renderFooter renders the key hint line.
func renderFooter(noColor bool) string {
	return stylize("q to quit", noColor, lipgloss.Color("241"))
}

// stylizeStatus colors a status label when enabled.
func stylizeStatus(status progress.Status, noColor bool) string {
	if noColor {
		return string(status)
	}
	return statusStyle(status).Render(string(status))
}

// statusStyle selects a color per lifecycle phase.
func statusStyle(status progress.Status) lipgloss.Style {
	color := lipgloss.Color("246")
	switch status {
	case progress.StatusStart:
		color = lipgloss.Color("39")
	case progress.StatusUpdate:
		color = lipgloss.Color("33")
	case progress.StatusClose:
		color = lipgloss.Color("42")
	case progress.StatusError:
		color = lipgloss.Color("196")
	case progress.StatusStale:
		color = lipgloss.Color("220")
	case progress.StatusRecovered:
		color = lipgloss.Color("201")
	}
	return lipgloss.NewStyle().Foreground(color)
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
