// Package metrics exposes Prometheus collectors for the pulseboard server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsReceivedTotal        *prometheus.CounterVec
	tasksCreatedTotal          prometheus.Counter
	tasksGauge                 prometheus.Gauge
	watchersGauge              prometheus.Gauge
	sweepRunsTotal             prometheus.Counter
	sweepRemovedTotal          *prometheus.CounterVec
	sweepMarkedStaleTotal      prometheus.Counter
	snapshotPersistSeconds     prometheus.Histogram
	snapshotPersistErrorsTotal prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors on the default registry.
// It is safe to call multiple times. Observe helpers are no-ops until Init
// runs, so library code may record metrics unconditionally.
func Init() {
	once.Do(func() {
		eventsReceivedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_events_received_total",
				Help: "Total progress events accepted, labeled by status.",
			},
			[]string{"status"},
		)

		tasksCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulseboard_tasks_created_total",
				Help: "Total tasks created by a first-seen event.",
			},
		)

		tasksGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulseboard_tasks",
				Help: "Number of tasks currently held in the registry.",
			},
		)

		watchersGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulseboard_watchers",
				Help: "Number of live websocket watchers.",
			},
		)

		sweepRunsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulseboard_sweep_runs_total",
				Help: "Total sweep cycles executed.",
			},
		)

		sweepRemovedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_sweep_removed_total",
				Help: "Tasks removed by retention policies, labeled by reason.",
			},
			[]string{"reason"},
		)

		sweepMarkedStaleTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulseboard_sweep_marked_stale_total",
				Help: "Tasks transitioned to stale by the sweeper.",
			},
		)

		snapshotPersistSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulseboard_snapshot_persist_seconds",
				Help:    "Latency of durable snapshot writes.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		snapshotPersistErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulseboard_snapshot_persist_errors_total",
				Help: "Snapshot writes that failed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulseboard_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent counts one accepted progress event.
func ObserveEvent(status string, created bool) {
	if eventsReceivedTotal == nil {
		return
	}
	eventsReceivedTotal.WithLabelValues(status).Inc()
	if created {
		tasksCreatedTotal.Inc()
	}
}

// SetTasks records the current registry size.
func SetTasks(n int) {
	if tasksGauge == nil {
		return
	}
	tasksGauge.Set(float64(n))
}

// SetWatchers records the current watcher count.
func SetWatchers(n int) {
	if watchersGauge == nil {
		return
	}
	watchersGauge.Set(float64(n))
}

// ObserveSweep counts one completed sweep cycle.
func ObserveSweep() {
	if sweepRunsTotal == nil {
		return
	}
	sweepRunsTotal.Inc()
}

// ObserveSweepRemoved counts tasks removed by one retention policy.
func ObserveSweepRemoved(reason string, n int) {
	if sweepRemovedTotal == nil || n == 0 {
		return
	}
	sweepRemovedTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveSweepMarkedStale counts tasks transitioned to stale.
func ObserveSweepMarkedStale(n int) {
	if sweepMarkedStaleTotal == nil || n == 0 {
		return
	}
	sweepMarkedStaleTotal.Add(float64(n))
}

// ObserveSnapshotPersist records the outcome of one durable snapshot write.
func ObserveSnapshotPersist(duration time.Duration, err error) {
	if snapshotPersistSeconds == nil {
		return
	}
	snapshotPersistSeconds.Observe(duration.Seconds())
	if err != nil {
		snapshotPersistErrorsTotal.Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
