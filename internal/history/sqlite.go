package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchiver stores archive entries in a local SQLite database using the
// pure Go driver, for single-node deployments that skip Postgres.
type SQLiteArchiver struct {
	db *sql.DB
}

// NewSQLiteArchiver opens (or creates) the database at path and ensures the
// archive table exists.
func NewSQLiteArchiver(path string) (*SQLiteArchiver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history.sqlite.path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &SQLiteArchiver{db: db}
	if err := a.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchiver) init() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS task_archive (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	n REAL NOT NULL,
	total REAL,
	description TEXT,
	unit TEXT,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	done_at REAL,
	reason TEXT NOT NULL,
	recorded_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create archive table: %w", err)
	}
	return nil
}

// Close closes the database.
func (a *SQLiteArchiver) Close() {
	if a == nil || a.db == nil {
		return
	}
	_ = a.db.Close()
}

// Record inserts the entries inside one transaction.
func (a *SQLiteArchiver) Record(ctx context.Context, entries []Entry) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("sqlite archiver is not configured")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}

	const query = `INSERT INTO task_archive
	(task_id, status, n, total, description, unit, created_at, updated_at, done_at, reason, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
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
			e.RecordedAt.UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert archive entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive entries: %w", err)
	}
	return nil
}
