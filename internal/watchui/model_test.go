package watchui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

func TestSortTasksOrdersByCreationThenID(t *testing.T) {
	t.Parallel()

	tasks := map[string]registry.TaskState{
		"young": {TaskID: "young", CreatedAt: 200},
		"old":   {TaskID: "old", CreatedAt: 100},
		"b":     {TaskID: "b", CreatedAt: 150},
		"a":     {TaskID: "a", CreatedAt: 150},
	}

	sorted := sortTasks(tasks)
	ids := make([]string, 0, len(sorted))
	for _, task := range sorted {
		ids = append(ids, task.TaskID)
	}
	require.Equal(t, []string{"old", "a", "b", "young"}, ids)
}

func TestFormatProgressWithTotal(t *testing.T) {
	t.Parallel()

	task := registry.TaskState{N: 3, Total: progress.Float64(10)}
	require.Equal(t, "3/10 (30.0%)", formatProgress(task))
}

func TestFormatProgressWithoutTotal(t *testing.T) {
	t.Parallel()

	require.Equal(t, "7", formatProgress(registry.TaskState{N: 7}))
	require.Equal(t, "7", formatProgress(registry.TaskState{N: 7, Total: progress.Float64(0)}))
	require.Equal(t, "2.5", formatProgress(registry.TaskState{N: 2.5}))
}

func TestFormatAge(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000100, 0)
	task := registry.TaskState{CreatedAt: 1700000000}
	require.Equal(t, "1m40s", formatAge(task, now))
	require.Empty(t, formatAge(registry.TaskState{}, now))
}

func TestFormatDescTruncates(t *testing.T) {
	t.Parallel()

	require.Equal(t, "two words", formatDesc("  two \n words "))

	long := formatDesc("averylongdescription averylongdescription averylongdescription")
	require.LessOrEqual(t, len(long), 60)
	require.Contains(t, long, "...")
}

func TestModelFrameUpdatesBoard(t *testing.T) {
	t.Parallel()

	feed := make(chan Frame, 1)
	m := New(feed, Options{Server: "localhost:8000", NoColor: true})

	frame := Frame{Tasks: map[string]registry.TaskState{
		"job-1": {
			TaskID:    "job-1",
			Status:    progress.StatusUpdate,
			N:         3,
			Total:     progress.Float64(10),
			Desc:      "loading rows",
			Unit:      "rows",
			CreatedAt: progress.EpochSeconds(time.Now().Add(-time.Minute)),
		},
	}}

	next, cmd := m.Update(FrameMsg{Frame: frame})
	m = next.(Model)
	require.NotNil(t, cmd)

	view := m.View()
	require.Contains(t, view, "job-1")
	require.Contains(t, view, "loading rows")
	require.Contains(t, view, "update")
	require.Contains(t, view, "localhost:8000")
	require.Contains(t, view, "tasks: 1")
}

func TestModelQuitKeys(t *testing.T) {
	t.Parallel()

	m := New(make(chan Frame), Options{NoColor: true})

	for _, key := range []tea.Key{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(tea.KeyMsg(key))
		require.NotNil(t, cmd)
		_, ok := cmd().(tea.QuitMsg)
		require.True(t, ok, "key %s should quit", key.String())
	}
}

func TestModelIgnoresOtherKeys(t *testing.T) {
	t.Parallel()

	m := New(make(chan Frame), Options{NoColor: true})
	_, cmd := m.Update(tea.KeyMsg(tea.Key{Type: tea.KeyRunes, Runes: []rune("x")}))
	require.Nil(t, cmd)
}

func TestModelResizeKeepsRendering(t *testing.T) {
	t.Parallel()

	m := New(make(chan Frame), Options{NoColor: true})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	m = next.(Model)
	require.NotEmpty(t, m.View())
}

func TestWaitForFrameDeliversAndQuits(t *testing.T) {
	t.Parallel()

	feed := make(chan Frame, 1)
	feed <- Frame{Tasks: map[string]registry.TaskState{"a": {TaskID: "a"}}}
	msg := waitForFrame(feed)()
	fm, ok := msg.(FrameMsg)
	require.True(t, ok)
	require.Contains(t, fm.Frame.Tasks, "a")

	close(feed)
	_, ok = waitForFrame(feed)().(tea.QuitMsg)
	require.True(t, ok)
}
