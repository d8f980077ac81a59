package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/progress"
)

func TestPostgresArchiverRecordsBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	arch, err := NewPostgresArchiverWithPool(mock, "task_archive")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	total := 10.0
	entries := []Entry{
		{
			TaskID:     "build",
			Status:     progress.StatusClose,
			N:          10,
			Total:      &total,
			Desc:       "compiling",
			Unit:       "files",
			CreatedAt:  1699999000,
			UpdatedAt:  1699999900,
			DoneAt:     1699999900,
			Reason:     ReasonRetention,
			RecordedAt: now,
		},
		{
			TaskID:     "upload",
			Status:     progress.StatusStale,
			N:          3,
			CreatedAt:  1699999100,
			UpdatedAt:  1699999200,
			Reason:     ReasonMaxAge,
			RecordedAt: now,
		},
	}

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			"build", "close", 10.0, &total, "compiling", "files",
			1699999000.0, 1699999900.0, 1699999900.0, "retention", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			"upload", "stale", 3.0, (*float64)(nil), "", "",
			1699999100.0, 1699999200.0, 0.0, "max_age", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, arch.Record(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiverEmptyBatchSkipsRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	arch, err := NewPostgresArchiverWithPool(mock, "")
	require.NoError(t, err)

	require.NoError(t, arch.Record(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiverInsertError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	arch, err := NewPostgresArchiverWithPool(mock, "task_archive")
	require.NoError(t, err)

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			"a", "close", 0.0, (*float64)(nil), "", "",
			0.0, 0.0, 0.0, "api_delete", time.Time{},
		).
		WillReturnError(errors.New("relation does not exist"))

	err = arch.Record(context.Background(), []Entry{
		{TaskID: "a", Status: progress.StatusClose, Reason: ReasonAPIDelete},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert archive entry")
}

func TestNewPostgresArchiverWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresArchiverWithPool(nil, "task_archive")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresArchiverWithPool(mock, "bad;table")
	require.Error(t, err)

	arch, err := NewPostgresArchiverWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "task_archive", arch.table)
}
