// Package sweeper expires and removes tasks on a fixed interval, keeping the
// live board bounded without any caller intervention.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/clock/system"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/notify"
	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

const defaultCleanupInterval = 10 * time.Second

// Config sets the sweep interval and policy thresholds. A zero threshold
// disables that policy.
type Config struct {
	// CleanupInterval is the time between sweep cycles. Defaults to 10s.
	CleanupInterval time.Duration
	// RetentionSeconds removes tasks that stayed closed this long.
	RetentionSeconds float64
	// StaleSeconds marks tasks stale after this long without an update.
	StaleSeconds float64
	// MaxTaskAge removes tasks this long after their last update, whatever
	// their status.
	MaxTaskAge float64
	// Clock supplies time. Defaults to the system clock.
	Clock registry.Clock
	// Logger is used for cycle reporting. Defaults to a no-op logger.
	Logger *zap.Logger
}

// SnapshotSink receives the post-sweep state for persistence.
type SnapshotSink interface {
	Enqueue(tasks map[string]registry.TaskState)
}

// Broadcaster receives the post-sweep state for watcher fan-out.
type Broadcaster interface {
	Publish(tasks map[string]registry.TaskState)
}

// Deps are the registry the sweeper prunes and the sinks a cycle feeds.
// Everything except Registry is optional.
type Deps struct {
	Registry  *registry.Registry
	Snapshots SnapshotSink
	Broadcast Broadcaster
	Archiver  history.Archiver
	Notifier  notify.Notifier
}

// Sweeper prunes the registry on a fixed interval.
type Sweeper struct {
	cfg      Config
	deps     Deps
	clock    registry.Clock
	logger   *zap.Logger
	archiver history.Archiver
	notifier notify.Notifier
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps) (*Sweeper, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.Clock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	archiver := deps.Archiver
	if archiver == nil {
		archiver = history.NopArchiver{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Sweeper{
		cfg:      cfg,
		deps:     deps,
		clock:    clk,
		logger:   logger,
		archiver: archiver,
		notifier: notifier,
	}, nil
}

// Run executes sweep cycles every CleanupInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.CleanupInterval),
		zap.Float64("retention_seconds", s.cfg.RetentionSeconds),
		zap.Float64("stale_seconds", s.cfg.StaleSeconds),
		zap.Float64("max_task_age", s.cfg.MaxTaskAge))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle guards one sweep with a recover so a panic in a sink cannot kill
// the loop.
func (s *Sweeper) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep cycle panicked", zap.Any("panic", r))
		}
	}()
	s.Sweep(ctx)
}

// classify applies the removal and staleness policies in order against one
// observation time.
func (s *Sweeper) classify(task registry.TaskState, now float64) (registry.SweepDecision, history.Reason) {
	age := now - task.UpdatedAt
	if s.cfg.RetentionSeconds > 0 && task.Status == progress.StatusClose && age > s.cfg.RetentionSeconds {
		return registry.SweepRemove, history.ReasonRetention
	}
	if s.cfg.MaxTaskAge > 0 && age > s.cfg.MaxTaskAge {
		return registry.SweepRemove, history.ReasonMaxAge
	}
	if s.cfg.StaleSeconds > 0 && task.Status != progress.StatusClose && task.Status != progress.StatusStale && age > s.cfg.StaleSeconds {
		return registry.SweepMarkStale, ""
	}
	return registry.SweepKeep, ""
}

// Sweep runs one cycle: expire and remove per policy, then fan the resulting
// state out. Side effects run after the registry releases its lock.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := progress.EpochSeconds(s.clock.Now())

	removed, marked := s.deps.Registry.Sweep(func(task registry.TaskState) registry.SweepDecision {
		decision, _ := s.classify(task, now)
		return decision
	})

	metrics.ObserveSweep()
	metrics.SetTasks(s.deps.Registry.Len())

	if len(removed) == 0 && len(marked) == 0 {
		return
	}
	if len(marked) > 0 {
		metrics.ObserveSweepMarkedStale(len(marked))
	}

	snapshot := s.deps.Registry.Snapshot()
	if s.deps.Snapshots != nil {
		s.deps.Snapshots.Enqueue(snapshot)
	}
	if s.deps.Broadcast != nil {
		s.deps.Broadcast.Publish(snapshot)
	}

	if len(removed) > 0 {
		s.archive(ctx, removed, now)
	}
	for _, task := range marked {
		if err := s.notifier.Notify(ctx, notify.FromTask(task)); err != nil {
			s.logger.Warn("stale notification failed",
				zap.String("task_id", task.TaskID),
				zap.Error(err))
		}
	}

	s.logger.Info("sweep pruned tasks",
		zap.Int("removed", len(removed)),
		zap.Int("stale", len(marked)),
		zap.Int("remaining", s.deps.Registry.Len()))
}

func (s *Sweeper) archive(ctx context.Context, removed []registry.TaskState, now float64) {
	byReason := make(map[history.Reason][]registry.TaskState)
	for _, task := range removed {
		_, reason := s.classify(task, now)
		byReason[reason] = append(byReason[reason], task)
	}

	at := s.clock.Now()
	for reason, tasks := range byReason {
		metrics.ObserveSweepRemoved(string(reason), len(tasks))
		if err := s.archiver.Record(ctx, history.FromTasks(tasks, reason, at)); err != nil {
			s.logger.Warn("archive of removed tasks failed",
				zap.String("reason", string(reason)),
				zap.Int("tasks", len(tasks)),
				zap.Error(err))
		}
	}
}
