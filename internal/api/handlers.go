package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/notify"
	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

// handleProgress ingests one event: authenticate, merge, then fan the new
// state out to the persister and the watchers.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var evt progress.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	token := popMetaToken(&evt)
	if token == "" {
		token = tokenFromRequest(r)
	}
	if !s.authorized(token) {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := evt.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, created := s.registry.Merge(evt)
	metrics.ObserveEvent(string(state.Status), created)
	metrics.SetTasks(s.registry.Len())

	s.fanOut()

	if state.Status == progress.StatusClose || state.Status == progress.StatusError {
		if err := s.notifier.Notify(r.Context(), notify.FromTask(state)); err != nil {
			s.logger.Warn("terminal notification failed",
				zap.String("task_id", state.TaskID),
				zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": s.registry.Snapshot()})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(tokenFromRequest(r)) {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	taskID := chi.URLParam(r, "task_id")
	state, removed := s.registry.Delete(taskID)
	if removed {
		metrics.SetTasks(s.registry.Len())
		s.fanOut()
		s.archiveRemoved(r.Context(), []registry.TaskState{state}, history.ReasonAPIDelete)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// handleBulkDelete removes every task matching the optional status and
// minimum age filters and responds with the removed ids.
func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(tokenFromRequest(r)) {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	statusFilter := r.URL.Query().Get("status")

	var cutoff float64
	haveCutoff := false
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid older_than")
			return
		}
		if seconds != 0 {
			cutoff = progress.EpochSeconds(s.clock.Now()) - seconds
			haveCutoff = true
		}
	}

	removed := s.registry.DeleteWhere(func(task registry.TaskState) bool {
		if statusFilter != "" && string(task.Status) != statusFilter {
			return false
		}
		if haveCutoff && task.UpdatedAt > cutoff {
			return false
		}
		return true
	})

	ids := make([]string, 0, len(removed))
	for _, task := range removed {
		ids = append(ids, task.TaskID)
	}

	if len(removed) > 0 {
		metrics.SetTasks(s.registry.Len())
		s.fanOut()
		s.archiveRemoved(r.Context(), removed, history.ReasonBulkDelete)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tasks":  s.registry.Len(),
	})
}

// fanOut pushes the current state to the persister and the watchers. Called
// after any mutation, outside the registry lock.
func (s *Server) fanOut() {
	snapshot := s.registry.Snapshot()
	if s.snapshots != nil {
		s.snapshots.Enqueue(snapshot)
	}
	s.hub.Publish(snapshot)
}

func (s *Server) archiveRemoved(ctx context.Context, tasks []registry.TaskState, reason history.Reason) {
	if len(tasks) == 0 {
		return
	}
	if err := s.archiver.Record(ctx, history.FromTasks(tasks, reason, s.clock.Now())); err != nil {
		s.logger.Warn("archive of removed tasks failed",
			zap.String("reason", string(reason)),
			zap.Int("tasks", len(tasks)),
			zap.Error(err))
	}
}
