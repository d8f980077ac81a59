// Package notify pushes terminal task transitions to downstream automation,
// so pipelines can react to finished or failed work without polling.
package notify

import (
	"context"

	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

// Notification describes one terminal transition.
type Notification struct {
	TaskID string          `json:"task_id"`
	Status progress.Status `json:"status"`
	N      float64         `json:"n"`
	Total  *float64        `json:"total,omitempty"`
	Desc   string          `json:"desc,omitempty"`
	At     float64         `json:"at"`
}

// FromTask builds a notification from a task's current state.
func FromTask(task registry.TaskState) Notification {
	return Notification{
		TaskID: task.TaskID,
		Status: task.Status,
		N:      task.N,
		Total:  task.Total,
		Desc:   task.Desc,
		At:     task.UpdatedAt,
	}
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use; delivery is best-effort and callers log failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// NopNotifier discards notifications. It stands in when no downstream is
// configured so callers never branch on a nil notifier.
type NopNotifier struct{}

// Notify discards the notification.
func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// Close is a no-op.
func (NopNotifier) Close() error { return nil }
