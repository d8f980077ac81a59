// Package registry holds the in-memory task table that progress events merge
// into. All mutation goes through a single RWMutex and no method touches the
// network or disk while holding it; persistence and broadcast always work
// from detached snapshots taken after the mutation completes.
package registry

import (
	"maps"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/progress"
)

// Clock supplies the registry's notion of now. Tests inject fixed instants.
type Clock interface {
	Now() time.Time
}

// clockFunc adapts a plain function to Clock.
type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// TaskState is the server-resident record for one task id. Field names match
// the wire and snapshot JSON. Times are epoch seconds.
type TaskState struct {
	TaskID      string          `json:"task_id"`
	Status      progress.Status `json:"status"`
	N           float64         `json:"n"`
	Total       *float64        `json:"total,omitempty"`
	Desc        string          `json:"desc,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Timestamp   float64         `json:"timestamp"`
	Meta        map[string]any  `json:"meta,omitempty"`
	CreatedAt   float64         `json:"created_at"`
	UpdatedAt   float64         `json:"updated_at"`
	DoneAt      float64         `json:"done_at,omitempty"`
	StaleAt     float64         `json:"stale_at,omitempty"`
	Recovered   bool            `json:"recovered,omitempty"`
	RecoveredAt float64         `json:"recovered_at,omitempty"`
}

// clone returns a copy that shares no mutable memory with the receiver.
func (t TaskState) clone() TaskState {
	t.Meta = maps.Clone(t.Meta)
	if t.Total != nil {
		total := *t.Total
		t.Total = &total
	}
	return t
}

// SweepDecision is the verdict a retention policy hands back per task.
type SweepDecision int

// Sweep verdicts.
const (
	SweepKeep SweepDecision = iota
	SweepRemove
	SweepMarkStale
)

// Registry is the mutable task table. The zero value is not usable; call New.
type Registry struct {
	mu    sync.RWMutex
	clock Clock
	tasks map[string]TaskState
}

// New constructs an empty Registry. A nil clock falls back to the system
// clock in UTC.
func New(clk Clock) *Registry {
	if clk == nil {
		clk = clockFunc(func() time.Time { return time.Now().UTC() })
	}
	return &Registry{
		clock: clk,
		tasks: make(map[string]TaskState),
	}
}

// Merge folds one event into the table and returns the updated record plus
// whether this event created it. Present event fields overwrite, absent
// fields are left untouched, and arrival order decides precedence: a late
// event always wins regardless of its own timestamp.
func (r *Registry) Merge(evt progress.Event) (TaskState, bool) {
	now := progress.EpochSeconds(r.clock.Now())

	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[evt.TaskID]
	if !exists {
		task = TaskState{
			TaskID:    evt.TaskID,
			CreatedAt: now,
		}
	}

	if evt.Desc != nil {
		task.Desc = *evt.Desc
	}
	if evt.Total != nil {
		total := *evt.Total
		task.Total = &total
	}
	if evt.N != nil {
		task.N = *evt.N
	}
	if evt.Unit != nil {
		task.Unit = *evt.Unit
	}
	if evt.Meta != nil {
		// Meta replaces wholesale; events own their meta map completely.
		task.Meta = maps.Clone(evt.Meta)
	}

	task.Status = evt.Status
	if task.Status == "" {
		task.Status = progress.StatusUpdate
	}
	task.UpdatedAt = now
	task.Timestamp = evt.Timestamp
	if task.Timestamp == 0 {
		task.Timestamp = now
	}
	if task.Status == progress.StatusClose && task.DoneAt == 0 {
		task.DoneAt = now
	}

	// Any live event means the task is no longer merely restored from disk.
	task.Recovered = false
	task.RecoveredAt = 0

	r.tasks[evt.TaskID] = task
	return task.clone(), !exists
}

// Snapshot returns a detached point-in-time copy of the whole table.
func (r *Registry) Snapshot() map[string]TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TaskState, len(r.tasks))
	for id, task := range r.tasks {
		out[id] = task.clone()
	}
	return out
}

// Get fetches one record by id.
func (r *Registry) Get(taskID string) (TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return task.clone(), true
}

// Len reports the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Delete removes one entry, returning its final record and whether it existed.
func (r *Registry) Delete(taskID string) (TaskState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	delete(r.tasks, taskID)
	return task, true
}

// DeleteWhere removes every task matching pred in one exclusive pass and
// returns the final records of the removed tasks.
func (r *Registry) DeleteWhere(pred func(TaskState) bool) []TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []TaskState
	for id, task := range r.tasks {
		if pred(task) {
			removed = append(removed, task)
			delete(r.tasks, id)
		}
	}
	return removed
}

// Sweep evaluates decide against every task under one exclusive acquisition
// so retention policies see a single consistent view. Tasks decided
// SweepRemove are dropped; tasks decided SweepMarkStale transition to status
// stale with stale_at set exactly once and updated_at untouched. Returns the
// removed records and the records that were newly marked.
func (r *Registry) Sweep(decide func(TaskState) SweepDecision) (removed, marked []TaskState) {
	now := progress.EpochSeconds(r.clock.Now())

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, task := range r.tasks {
		switch decide(task) {
		case SweepRemove:
			removed = append(removed, task)
			delete(r.tasks, id)
		case SweepMarkStale:
			task.Status = progress.StatusStale
			if task.StaleAt == 0 {
				task.StaleAt = now
			}
			r.tasks[id] = task
			marked = append(marked, task.clone())
		case SweepKeep:
		}
	}
	return removed, marked
}

// Restore seeds the table with records recovered from a snapshot. Intended
// for startup, before the registry starts serving traffic.
func (r *Registry) Restore(tasks map[string]TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, task := range tasks {
		r.tasks[id] = task.clone()
	}
}
