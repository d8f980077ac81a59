package watchui

import (
	"cmp"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/pulseboard/pulseboard/internal/registry"
)

// tableStyles returns table styles for the board.
func tableStyles(noColor bool) table.Styles {
	styles := table.DefaultStyles()
	if noColor {
		return styles
	}
	styles.Header = styles.Header.Foreground(lipgloss.Color("252")).Bold(true)
	return styles
}

// boardColumns sizes the columns for the given terminal width, letting the
// description soak up whatever the fixed columns leave over.
func boardColumns(width int) []table.Column {
	const fixed = 20 + 18 + 6 + 10 + 8
	desc := max(width-fixed-12, 12)
	return []table.Column{
		{Title: "ID", Width: 20},
		{Title: "DESCRIPTION", Width: desc},
		{Title: "PROGRESS", Width: 18},
		{Title: "UNIT", Width: 6},
		{Title: "STATUS", Width: 10},
		{Title: "AGE", Width: 8},
	}
}

// sortTasks orders a broadcast map by creation time, then id, so rows do not
// jump between frames.
func sortTasks(tasks map[string]registry.TaskState) []registry.TaskState {
	out := make([]registry.TaskState, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task)
	}
	slices.SortFunc(out, func(a, b registry.TaskState) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	return out
}

// rowsForTasks converts sorted task states into table rows.
func rowsForTasks(tasks []registry.TaskState, now time.Time, noColor bool) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, table.Row{
			task.TaskID,
			formatDesc(task.Desc),
			formatProgress(task),
			task.Unit,
			stylizeStatus(task.Status, noColor),
			formatAge(task, now),
		})
	}
	return rows
}
