// Package history archives tasks that leave the live board so completed and
// expired work stays queryable after removal.
package history

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

// Reason classifies why a task was removed from the live table.
type Reason string

const (
	// ReasonRetention marks finished tasks removed after their retention window.
	ReasonRetention Reason = "retention"
	// ReasonMaxAge marks tasks removed for exceeding the absolute age cap.
	ReasonMaxAge Reason = "max_age"
	// ReasonAPIDelete marks single-task removals through the HTTP API.
	ReasonAPIDelete Reason = "api_delete"
	// ReasonBulkDelete marks filtered bulk removals through the HTTP API.
	ReasonBulkDelete Reason = "bulk_delete"
)

// Entry is one archived task, frozen at the moment of removal.
type Entry struct {
	TaskID     string
	Status     progress.Status
	N          float64
	Total      *float64
	Desc       string
	Unit       string
	CreatedAt  float64
	UpdatedAt  float64
	DoneAt     float64
	Reason     Reason
	RecordedAt time.Time
}

// Archiver persists removed tasks. Recording is best-effort: callers log
// failures and keep going, so an archive outage never blocks the board.
type Archiver interface {
	Record(ctx context.Context, entries []Entry) error
	Close()
}

// FromTask freezes a removed task's final state into an archive entry.
func FromTask(task registry.TaskState, reason Reason, at time.Time) Entry {
	return Entry{
		TaskID:     task.TaskID,
		Status:     task.Status,
		N:          task.N,
		Total:      task.Total,
		Desc:       task.Desc,
		Unit:       task.Unit,
		CreatedAt:  task.CreatedAt,
		UpdatedAt:  task.UpdatedAt,
		DoneAt:     task.DoneAt,
		Reason:     reason,
		RecordedAt: at,
	}
}

// FromTasks maps a batch of removed tasks to entries sharing one reason.
func FromTasks(tasks []registry.TaskState, reason Reason, at time.Time) []Entry {
	if len(tasks) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(tasks))
	for _, task := range tasks {
		entries = append(entries, FromTask(task, reason, at))
	}
	return entries
}
