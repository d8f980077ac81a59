package history

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for the archive.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type batchCloser interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresArchiver writes archive entries into Postgres. The table is
// expected to exist; schema management lives with the deployment.
type PostgresArchiver struct {
	pool  batchCloser
	table string
}

// NewPostgresArchiver creates a Postgres-backed archiver from config.
func NewPostgresArchiver(ctx context.Context, cfg PostgresConfig) (*PostgresArchiver, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "task_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresArchiver{
		pool:  pool,
		table: table,
	}, nil
}

// NewPostgresArchiverWithPool constructs an archiver from an existing pool
// (primarily for testing).
func NewPostgresArchiverWithPool(pool batchCloser, table string) (*PostgresArchiver, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "task_archive"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresArchiver{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (a *PostgresArchiver) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

// Record inserts the entries in a single batched round trip.
func (a *PostgresArchiver) Record(ctx context.Context, entries []Entry) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("postgres archiver is not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	task_id,
	status,
	n,
	total,
	description,
	unit,
	created_at,
	updated_at,
	done_at,
	reason,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, a.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			e.TaskID,
			string(e.Status),
			e.N,
			e.Total,
			e.Desc,
			e.Unit,
			e.CreatedAt,
			e.UpdatedAt,
			e.DoneAt,
			string(e.Reason),
			e.RecordedAt,
		)
	}

	results := a.pool.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert archive entry: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close archive batch: %w", err)
	}
	return nil
}
