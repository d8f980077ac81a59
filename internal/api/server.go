package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/clock/system"
	"github.com/pulseboard/pulseboard/internal/history"
	"github.com/pulseboard/pulseboard/internal/hub"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/notify"
	"github.com/pulseboard/pulseboard/internal/registry"
)

const defaultRequestTimeout = 60 * time.Second

// Config carries the request-facing knobs.
type Config struct {
	// Tokens lists accepted credentials. Empty means open access.
	Tokens []string
	// AllowedOrigins feeds the CORS layer. Defaults to allowing everything.
	AllowedOrigins []string
	// RequestTimeout bounds non-websocket requests. Defaults to 60s.
	RequestTimeout time.Duration
}

// SnapshotSink receives the post-change state for persistence.
type SnapshotSink interface {
	Enqueue(tasks map[string]registry.TaskState)
}

// Deps are the collaborators handlers talk to. Registry and Hub are
// required; the rest defaults to no-ops.
type Deps struct {
	Registry  *registry.Registry
	Hub       *hub.Hub
	Snapshots SnapshotSink
	Archiver  history.Archiver
	Notifier  notify.Notifier
	Clock     registry.Clock
	Logger    *zap.Logger
}

// Server wires the HTTP handlers to the registry, hub, and sinks.
type Server struct {
	router    chi.Router
	cfg       Config
	registry  *registry.Registry
	hub       *hub.Hub
	snapshots SnapshotSink
	archiver  history.Archiver
	notifier  notify.Notifier
	clock     registry.Clock
	logger    *zap.Logger
	tokens    map[string]struct{}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	clk := deps.Clock
	if clk == nil {
		clk = system.Clock{}
	}
	logger := deps.Logger
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
	tokens := make(map[string]struct{}, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}

	s := &Server{
		cfg:       cfg,
		registry:  deps.Registry,
		hub:       deps.Hub,
		snapshots: deps.Snapshots,
		archiver:  archiver,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
		tokens:    tokens,
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(metrics.Middleware)

	// The websocket route stays outside the timeout group: TimeoutHandler's
	// response writer cannot be hijacked.
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/progress", s.handleProgress)
		r.Get("/tasks", s.handleListTasks)
		r.Delete("/tasks", s.handleBulkDelete)
		r.Delete("/tasks/{task_id}", s.handleDeleteTask)
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
