// Package snapshot persists point-in-time copies of the task table and
// restores them at startup. The durable envelope carries the full task map,
// the writing build's version, and the save time in epoch seconds.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

// Snapshot is the durable envelope written on every persist.
type Snapshot struct {
	Tasks   map[string]registry.TaskState `json:"tasks"`
	Version string                        `json:"version"`
	SavedAt float64                       `json:"saved_at"`
}

// ErrNotFound reports that no snapshot has been written yet.
var ErrNotFound = errors.New("snapshot not found")

// Store writes and reads durable snapshot envelopes. Persist must never
// expose a partially written snapshot to a concurrent Load.
type Store interface {
	Persist(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// NopStore discards snapshots. It backs deployments that disable durability.
type NopStore struct{}

// Persist discards the snapshot.
func (NopStore) Persist(context.Context, Snapshot) error { return nil }

// Load always reports that no snapshot exists.
func (NopStore) Load(context.Context) (Snapshot, error) { return Snapshot{}, ErrNotFound }

// decodeSnapshot tolerates individually corrupt task entries so one bad
// record cannot void an otherwise healthy restore.
func decodeSnapshot(data []byte) (Snapshot, error) {
	var env struct {
		Tasks   map[string]json.RawMessage `json:"tasks"`
		Version string                     `json:"version"`
		SavedAt float64                    `json:"saved_at"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := Snapshot{
		Tasks:   make(map[string]registry.TaskState, len(env.Tasks)),
		Version: env.Version,
		SavedAt: env.SavedAt,
	}
	for id, raw := range env.Tasks {
		var task registry.TaskState
		if err := json.Unmarshal(raw, &task); err != nil {
			continue
		}
		snap.Tasks[id] = task
	}
	return snap, nil
}

// Normalize prepares restored tasks for serving. Tasks that finished as
// close or stale keep that status; everything else becomes recovered, a
// display hint cleared by the next live merge. Missing bookkeeping fields
// are defaulted so downstream code never sees a half-formed record.
func Normalize(tasks map[string]registry.TaskState, now time.Time) map[string]registry.TaskState {
	epoch := progress.EpochSeconds(now)
	out := make(map[string]registry.TaskState, len(tasks))
	for id, task := range tasks {
		if task.TaskID == "" {
			task.TaskID = id
		}
		if task.CreatedAt == 0 {
			task.CreatedAt = epoch
		}
		if task.UpdatedAt == 0 {
			task.UpdatedAt = task.CreatedAt
		}
		switch task.Status {
		case progress.StatusClose, progress.StatusStale:
		default:
			task.Status = progress.StatusRecovered
			task.Recovered = true
			task.RecoveredAt = epoch
		}
		out[id] = task
	}
	return out
}

// Recover loads and normalizes the last snapshot from store. A missing or
// unreadable snapshot yields an empty table; problems are logged, never
// fatal, so the server always comes up.
func Recover(ctx context.Context, store Store, now time.Time, logger *zap.Logger) map[string]registry.TaskState {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		return map[string]registry.TaskState{}
	}
	snap, err := store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("failed to load persisted tasks", zap.Error(err))
		}
		return map[string]registry.TaskState{}
	}
	return Normalize(snap.Tasks, now)
}
