package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/progress"
)

// fakeClock hands out a controllable instant so merge timestamps are exact.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMergeCreatesTask(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := New(clk)

	task, created := reg.Merge(progress.Event{
		TaskID: "job-1",
		Status: progress.StatusStart,
		Desc:   progress.String("ingest rows"),
		Total:  progress.Float64(100),
	})

	require.True(t, created)
	require.Equal(t, "job-1", task.TaskID)
	require.Equal(t, progress.StatusStart, task.Status)
	require.Equal(t, "ingest rows", task.Desc)
	require.NotNil(t, task.Total)
	require.Equal(t, float64(100), *task.Total)
	require.Zero(t, task.N)

	now := progress.EpochSeconds(clk.Now())
	require.Equal(t, now, task.CreatedAt)
	require.Equal(t, now, task.UpdatedAt)
	require.Equal(t, now, task.Timestamp)
	require.Equal(t, 1, reg.Len())
}

func TestMergePartialUpdateKeepsAbsentFields(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := New(clk)

	reg.Merge(progress.Event{
		TaskID: "job-1",
		Status: progress.StatusStart,
		Desc:   progress.String("ingest rows"),
		Total:  progress.Float64(100),
		Unit:   progress.String("rows"),
	})

	clk.Advance(2 * time.Second)
	task, created := reg.Merge(progress.Event{
		TaskID: "job-1",
		N:      progress.Float64(42),
	})

	require.False(t, created)
	require.Equal(t, "ingest rows", task.Desc, "absent desc must not be overwritten")
	require.Equal(t, "rows", task.Unit)
	require.NotNil(t, task.Total)
	require.Equal(t, float64(100), *task.Total)
	require.Equal(t, float64(42), task.N)
	require.Equal(t, progress.StatusUpdate, task.Status, "missing status defaults to update")
	require.Equal(t, progress.EpochSeconds(clk.Now()), task.UpdatedAt)
	require.Greater(t, task.UpdatedAt, task.CreatedAt)
}

func TestMergeLastArrivalWins(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())

	reg.Merge(progress.Event{TaskID: "job-1", N: progress.Float64(90), Timestamp: 100})
	task, _ := reg.Merge(progress.Event{TaskID: "job-1", N: progress.Float64(10), Timestamp: 50})

	require.Equal(t, float64(10), task.N, "arrival order decides, not event timestamps")
	require.Equal(t, float64(50), task.Timestamp)
}

func TestMergeSetsDoneAtOnce(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := New(clk)

	reg.Merge(progress.Event{TaskID: "job-1", Status: progress.StatusStart})
	clk.Advance(time.Second)
	first, _ := reg.Merge(progress.Event{TaskID: "job-1", Status: progress.StatusClose})
	require.Equal(t, progress.EpochSeconds(clk.Now()), first.DoneAt)

	clk.Advance(time.Minute)
	second, _ := reg.Merge(progress.Event{TaskID: "job-1", Status: progress.StatusClose})
	require.Equal(t, first.DoneAt, second.DoneAt, "done_at is set once")
}

func TestMergeClearsRecovered(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := New(clk)
	reg.Restore(map[string]TaskState{
		"job-1": {
			TaskID:      "job-1",
			Status:      progress.StatusRecovered,
			Recovered:   true,
			RecoveredAt: progress.EpochSeconds(clk.Now()),
		},
	})

	task, created := reg.Merge(progress.Event{TaskID: "job-1", N: progress.Float64(1)})

	require.False(t, created)
	require.False(t, task.Recovered)
	require.Zero(t, task.RecoveredAt)
	require.Equal(t, progress.StatusUpdate, task.Status)
}

func TestMergeReplacesMetaWholesale(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())

	reg.Merge(progress.Event{TaskID: "job-1", Meta: map[string]any{"a": 1, "b": 2}})
	task, _ := reg.Merge(progress.Event{TaskID: "job-1", Meta: map[string]any{"c": 3}})

	require.Equal(t, map[string]any{"c": 3}, task.Meta)

	// Absent meta leaves the stored map untouched.
	task, _ = reg.Merge(progress.Event{TaskID: "job-1", N: progress.Float64(5)})
	require.Equal(t, map[string]any{"c": 3}, task.Meta)
}

func TestSnapshotIsDetached(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())
	reg.Merge(progress.Event{TaskID: "job-1", Meta: map[string]any{"k": "v"}})

	snap := reg.Snapshot()
	require.Len(t, snap, 1)

	// Mutating the snapshot must not reach the registry.
	snap["job-1"].Meta["k"] = "poisoned"
	current, ok := reg.Get("job-1")
	require.True(t, ok)
	require.Equal(t, "v", current.Meta["k"])

	// Later registry mutations must not reach the snapshot.
	reg.Merge(progress.Event{TaskID: "job-2"})
	require.Len(t, snap, 1)
}

func TestDeleteReturnsFinalRecord(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())
	reg.Merge(progress.Event{TaskID: "job-1", N: progress.Float64(7)})

	task, removed := reg.Delete("job-1")
	require.True(t, removed)
	require.Equal(t, float64(7), task.N)
	require.Zero(t, reg.Len())

	_, removed = reg.Delete("job-1")
	require.False(t, removed)
}

func TestDeleteWhereFiltersByPredicate(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())
	reg.Merge(progress.Event{TaskID: "job-1", Status: progress.StatusClose})
	reg.Merge(progress.Event{TaskID: "job-2", Status: progress.StatusUpdate})
	reg.Merge(progress.Event{TaskID: "job-3", Status: progress.StatusClose})

	removed := reg.DeleteWhere(func(task TaskState) bool {
		return task.Status == progress.StatusClose
	})

	require.Len(t, removed, 2)
	require.Equal(t, 1, reg.Len())
	_, ok := reg.Get("job-2")
	require.True(t, ok)
}

func TestSweepRemovesAndMarksUnderOnePass(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	reg := New(clk)
	reg.Merge(progress.Event{TaskID: "done", Status: progress.StatusClose})
	reg.Merge(progress.Event{TaskID: "quiet", Status: progress.StatusUpdate})
	reg.Merge(progress.Event{TaskID: "live", Status: progress.StatusUpdate})

	clk.Advance(10 * time.Second)
	removed, marked := reg.Sweep(func(task TaskState) SweepDecision {
		switch task.TaskID {
		case "done":
			return SweepRemove
		case "quiet":
			return SweepMarkStale
		default:
			return SweepKeep
		}
	})

	require.Len(t, removed, 1)
	require.Equal(t, "done", removed[0].TaskID)
	require.Len(t, marked, 1)
	require.Equal(t, progress.StatusStale, marked[0].Status)
	require.Equal(t, progress.EpochSeconds(clk.Now()), marked[0].StaleAt)

	quiet, ok := reg.Get("quiet")
	require.True(t, ok)
	require.Equal(t, progress.StatusStale, quiet.Status)

	// A second pass keeps stale_at pinned to the first marking.
	clk.Advance(time.Minute)
	_, marked = reg.Sweep(func(task TaskState) SweepDecision {
		if task.TaskID == "quiet" {
			return SweepMarkStale
		}
		return SweepKeep
	})
	require.Len(t, marked, 1)
	require.Equal(t, quiet.StaleAt, marked[0].StaleAt)
}

func TestRestoreSeedsTable(t *testing.T) {
	t.Parallel()

	reg := New(newFakeClock())
	reg.Restore(map[string]TaskState{
		"job-1": {TaskID: "job-1", Status: progress.StatusRecovered, Recovered: true},
		"job-2": {TaskID: "job-2", Status: progress.StatusClose},
	})

	require.Equal(t, 2, reg.Len())
	task, ok := reg.Get("job-1")
	require.True(t, ok)
	require.True(t, task.Recovered)
}
