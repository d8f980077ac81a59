// Package watchui renders the live task board for the terminal watcher.
package watchui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pulseboard/pulseboard/internal/registry"
)

const defaultWidth = 100

// Frame is one full-state broadcast decoded from the websocket feed.
type Frame struct {
	Tasks map[string]registry.TaskState
}

// Options configures the watcher UI model.
type Options struct {
	// Server is shown in the header line.
	Server string
	// NoColor disables lipgloss styling.
	NoColor bool
	// TickInterval drives age refreshes between frames. Defaults to 500ms.
	TickInterval time.Duration
}

// Model renders frames from the feed into a task table.
type Model struct {
	feed         <-chan Frame
	table        table.Model
	tasks        []registry.TaskState
	server       string
	noColor      bool
	tickInterval time.Duration
	now          time.Time
	startedAt    time.Time
}

// New constructs a watcher UI model reading from feed.
func New(feed <-chan Frame, opts Options) Model {
	tickInterval := opts.TickInterval
	if tickInterval <= 0 {
		tickInterval = 500 * time.Millisecond
	}
	t := table.New(
		table.WithColumns(boardColumns(defaultWidth)),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
	)
	t.SetStyles(tableStyles(opts.NoColor))
	now := time.Now()
	return Model{
		feed:         feed,
		table:        t,
		server:       opts.Server,
		noColor:      opts.NoColor,
		tickInterval: tickInterval,
		now:          now,
		startedAt:    now,
	}
}

// Init waits for the first frame and starts the age ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForFrame(m.feed), tick(m.tickInterval))
}

// Update consumes frames, ticks, resizes, and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		switch typed.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.table.SetWidth(typed.Width)
		m.table.SetHeight(max(typed.Height-3, 1))
		m.table.SetColumns(boardColumns(typed.Width))
		m.table.SetRows(rowsForTasks(m.tasks, m.now, m.noColor))
		return m, nil
	case FrameMsg:
		m.tasks = sortTasks(typed.Frame.Tasks)
		m.table.SetRows(rowsForTasks(m.tasks, m.now, m.noColor))
		return m, waitForFrame(m.feed)
	case tickMsg:
		m.now = time.Time(typed)
		m.table.SetRows(rowsForTasks(m.tasks, m.now, m.noColor))
		return m, tick(m.tickInterval)
	}
	return m, nil
}

// View renders the header line and the task table.
func (m Model) View() string {
	header := renderHeader(m.server, len(m.tasks), m.now.Sub(m.startedAt), m.noColor)
	footer := renderFooter(m.noColor)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.table.View(), footer)
}

// FrameMsg wraps a decoded broadcast for Bubble Tea.
type FrameMsg struct {
	Frame Frame
}

// tickMsg carries a clock tick for age refreshes.
type tickMsg time.Time

// waitForFrame blocks until the next broadcast; a closed feed quits the UI.
func waitForFrame(feed <-chan Frame) tea.Cmd {
	return func() tea.Msg {
		frame, ok := <-feed
		if !ok {
			return tea.Quit()
		}
		return FrameMsg{Frame: frame}
	}
}

// tick emits a periodic tick message.
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}
