// Package api hosts the HTTP server, middleware, and handlers of the relay.
// Notable routes:
//   - POST /progress for event ingest from emitters.
//   - GET /ws for watchers receiving full-state broadcasts.
//   - GET /tasks and DELETE /tasks[/{task_id}] for operator access.
//   - GET /health and /metrics for probes and Prometheus scraping.
package api
