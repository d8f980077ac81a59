// Package main hosts the pulseboard server entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes event ingest, task listing and deletion, health,
//     and metrics endpoints. Events are validated, merged into the in-memory registry with
//     last-write-wins semantics, and fanned out to the snapshot writer and the watcher hub.
//   - Registry: internal/registry holds the authoritative task table behind a single mutex.
//     Reads hand out deep copies, so snapshots and broadcasts never share mutable state with
//     the table.
//   - Sweeper: one goroutine applies the retention, staleness, and max-age policies on the
//     cleanup interval. Removed tasks are archived (Postgres or SQLite) and stale/terminal
//     transitions are published to the configured notifier (Pub/Sub).
//   - Snapshots: internal/snapshot serializes persistence onto one writer goroutine. The file
//     backend writes temp-then-rename; the GCS backend relies on object-write atomicity. On
//     boot the latest snapshot is recovered and restored tasks are marked recovered.
//   - Watchers: internal/hub pushes the full task map to every websocket subscriber after each
//     change; a watcher that cannot keep up is dropped rather than allowed to stall the rest.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one goroutine per request, one sweeper, one snapshot writer, one read
//     loop per watcher. No lock is held across a network write. Shutdown drains in order:
//     HTTP, hub, final snapshot flush, archive and notifier close.
//   - Delivery is best-effort: emitters throttle and coalesce updates client-side, and the
//     terminal close event is the only guaranteed-send. State converges because every event
//     carries the emitter's full view.
//
// Quick checklist:
//   - Configure env vars with the PULSEBOARD_ prefix (PULSEBOARD_SERVER_PORT,
//     PULSEBOARD_SERVER_API_TOKENS, PULSEBOARD_SNAPSHOT_BACKEND, ...) or pass -config
//     pointing at a YAML file.
//   - Run locally: go run ./cmd/pulseboardd -config config.yaml, then drive it with
//     cmd/pulseboard-demo and observe with cmd/pulseboard-watch.
//   - The process reacts to SIGINT/SIGTERM with a 10s graceful drain and a final snapshot
//     flush so a restart resumes from the freshest state.
package main
