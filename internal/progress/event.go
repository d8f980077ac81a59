package progress

import (
	"errors"
	"time"
)

// Status identifies the lifecycle phase reported by an Event or held by a
// task record.
type Status string

// Statuses a producer may put on the wire. Recovered is assigned only by the
// server when it restores tasks from a snapshot.
const (
	StatusStart     Status = "start"
	StatusUpdate    Status = "update"
	StatusClose     Status = "close"
	StatusError     Status = "error"
	StatusStale     Status = "stale"
	StatusRecovered Status = "recovered"
)

// Terminal reports whether the status marks the end of a task's live updates.
func (s Status) Terminal() bool {
	return s == StatusClose || s == StatusError
}

// Event captures one reported change to a task. Only TaskID is mandatory;
// every other field is merged only when present.
type Event struct {
	// TaskID is the stable identifier for one logical progress stream.
	TaskID string `json:"task_id"`
	// Status is the lifecycle phase; the registry defaults it to update
	// when absent.
	Status Status `json:"status,omitempty"`
	// N is the count of completed units.
	N *float64 `json:"n,omitempty"`
	// Total is the expected number of units; nil means the total is unknown.
	Total *float64 `json:"total,omitempty"`
	// Desc is a human-readable description of the task.
	Desc *string `json:"desc,omitempty"`
	// Unit names what N counts (rows, bytes, files).
	Unit *string `json:"unit,omitempty"`
	// Timestamp is the client-side emission time in epoch seconds; zero lets
	// the registry stamp arrival time instead.
	Timestamp float64 `json:"timestamp,omitempty"`
	// Meta carries free-form producer context merged into the task record.
	Meta map[string]any `json:"meta,omitempty"`
}

// Validate performs coarse validation on Event payloads. Unknown status
// strings are tolerated so that merge behavior stays last-write-wins over
// whatever the producer reported.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task_id is required")
	}
	return nil
}

// EpochSeconds converts t to floating-point seconds since the Unix epoch,
// the time representation used on the wire and in snapshots.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Float64 returns a pointer to v for optional event fields.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v for optional event fields.
func String(v string) *string { return &v }
