package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/progress"
	"github.com/pulseboard/pulseboard/internal/registry"
)

const defaultPersistTimeout = 10 * time.Second

// WriterConfig controls the background persister.
type WriterConfig struct {
	// Store receives the durable envelopes. Defaults to NopStore.
	Store Store
	// Timeout bounds each persist call. Defaults to 10s.
	Timeout time.Duration
	// Version is stamped into every envelope.
	Version string
	// Logger is used for persist warnings. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Writer serializes snapshot persistence onto one background goroutine, off
// the request path. Enqueue never blocks: while a write is in flight at most
// one snapshot stays pending, and a newer snapshot replaces it. Skipping
// intermediates is safe because every snapshot carries the full state.
type Writer struct {
	cfg     WriterConfig
	logger  *zap.Logger
	pending chan map[string]registry.TaskState

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWriter starts the persister goroutine.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Store == nil {
		cfg.Store = NopStore{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPersistTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Writer{
		cfg:     cfg,
		logger:  logger,
		pending: make(chan map[string]registry.TaskState, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands the latest full snapshot to the persister. It never blocks;
// an older snapshot still waiting to be written is replaced.
func (w *Writer) Enqueue(tasks map[string]registry.TaskState) {
	if w == nil || w.closed.Load() {
		return
	}
	for {
		select {
		case w.pending <- tasks:
			return
		default:
		}
		select {
		case <-w.pending:
		default:
		}
	}
}

// Close stops the persister after flushing any pending snapshot. It waits
// for the goroutine to exit or ctx to expire.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.stopCh)
	})

	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("snapshot writer close wait: %w", ctx.Err())
	}
}

func (w *Writer) run() {
	defer close(w.doneCh)

	for {
		select {
		case tasks := <-w.pending:
			w.persist(tasks)
		case <-w.stopCh:
			select {
			case tasks := <-w.pending:
				w.persist(tasks)
			default:
			}
			return
		}
	}
}

func (w *Writer) persist(tasks map[string]registry.TaskState) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	snap := Snapshot{
		Tasks:   tasks,
		Version: w.cfg.Version,
		SavedAt: progress.EpochSeconds(time.Now().UTC()),
	}

	start := time.Now()
	err := w.cfg.Store.Persist(ctx, snap)
	metrics.ObserveSnapshotPersist(time.Since(start), err)
	if err != nil {
		w.logger.Warn("snapshot persist failed",
			zap.Int("tasks", len(tasks)),
			zap.Error(err))
		return
	}
	w.logger.Debug("snapshot persisted", zap.Int("tasks", len(tasks)))
}
