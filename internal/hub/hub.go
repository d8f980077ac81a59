// Package hub fans task snapshots out to connected watchers.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/registry"
)

const defaultWriteTimeout = 5 * time.Second

// Conn is the connection surface the hub writes to. Production wraps a
// websocket connection; tests use fakes.
type Conn interface {
	WriteText(ctx context.Context, payload []byte) error
	Close() error
}

// Config controls hub behavior.
type Config struct {
	// WriteTimeout bounds each watcher write. Defaults to 5s.
	WriteTimeout time.Duration
	// Logger is used for subscription and prune events. Defaults to no-op.
	Logger *zap.Logger
}

// Hub maintains the set of connected watchers and pushes every published
// snapshot to all of them. A watcher that cannot keep up is dropped rather
// than allowed to stall the broadcast.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[Conn]struct{}
	closed   bool
}

// New creates a Hub with defaults applied.
func New(cfg Config) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[Conn]struct{}),
	}
}

type envelope struct {
	Tasks map[string]registry.TaskState `json:"tasks"`
}

func marshalEnvelope(tasks map[string]registry.TaskState) ([]byte, error) {
	if tasks == nil {
		tasks = map[string]registry.TaskState{}
	}
	return json.Marshal(envelope{Tasks: tasks})
}

// Subscribe registers conn and pushes the current snapshot to it so a new
// watcher renders immediately. The conn is closed and not registered if the
// initial write fails.
func (h *Hub) Subscribe(conn Conn, tasks map[string]registry.TaskState) error {
	if conn == nil {
		return fmt.Errorf("conn is required")
	}
	payload, err := marshalEnvelope(tasks)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("hub is closed")
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cancel()
	if err := conn.WriteText(ctx, payload); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write initial snapshot: %w", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("hub is closed")
	}
	h.watchers[conn] = struct{}{}
	count := len(h.watchers)
	h.mu.Unlock()

	metrics.SetWatchers(count)
	h.logger.Debug("watcher subscribed", zap.Int("watchers", count))
	return nil
}

// Unsubscribe removes conn and closes it. Calling it for a conn that was
// already pruned is safe.
func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	_, ok := h.watchers[conn]
	if ok {
		delete(h.watchers, conn)
	}
	count := len(h.watchers)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close()
	metrics.SetWatchers(count)
	h.logger.Debug("watcher unsubscribed", zap.Int("watchers", count))
}

// Publish pushes the snapshot to every watcher. Writes happen outside the
// lock with a per-write deadline; watchers whose write fails are pruned and
// closed.
func (h *Hub) Publish(tasks map[string]registry.TaskState) {
	payload, err := marshalEnvelope(tasks)
	if err != nil {
		h.logger.Warn("failed to encode snapshot for broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed || len(h.watchers) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]Conn, 0, len(h.watchers))
	for c := range h.watchers {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var failed []Conn
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
		err := c.WriteText(ctx, payload)
		cancel()
		if err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range failed {
		delete(h.watchers, c)
	}
	count := len(h.watchers)
	h.mu.Unlock()

	for _, c := range failed {
		_ = c.Close()
	}
	metrics.SetWatchers(count)
	h.logger.Debug("pruned unresponsive watchers",
		zap.Int("pruned", len(failed)),
		zap.Int("watchers", count))
}

// Count returns the number of connected watchers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Close disconnects every watcher and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]Conn, 0, len(h.watchers))
	for c := range h.watchers {
		conns = append(conns, c)
	}
	h.watchers = make(map[Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	metrics.SetWatchers(0)
}
