package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-harvester/internal/store"
)

func newMockStore(t *testing.T) (*ProgressStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewProgressStoreWithPool(mock, "download_runs")
	require.NoError(t, err)
	return s, mock
}

func TestNewProgressStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewProgressStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewProgressStoreWithPool(nil, "download_runs")
	require.Error(t, err)

	s, err := NewProgressStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "download_runs", s.table)
}

func TestProgressStoreRunLifecycle(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS download_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO download_runs").
		WithArgs(runID, "job-1", 40, started, "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE download_runs").
		WithArgs(int64(8), int64(2), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE download_runs").
		WithArgs(finished, "success", int64(48), (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.StartRun(ctx, runID, "job-1", 40, started))
	require.NoError(t, s.RecordPage(ctx, runID, 8, 2, started))
	require.NoError(t, s.CompleteRun(ctx, runID, finished, store.RunSuccess, 48, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreRecordPageUnknownRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	mock.ExpectExec("UPDATE download_runs").
		WithArgs(int64(1), int64(0), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.RecordPage(context.Background(), runID, 1, 0, time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	downloaded := int64(12)
	msg := "transfer failed"

	columns := []string{
		"run_id", "job_id", "start_offset", "started_at", "finished_at", "status",
		"pages", "items", "skipped", "downloaded_files", "error_message",
	}
	mock.ExpectQuery("SELECT (.+) FROM download_runs WHERE run_id").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			runID, "job-1", 10, started, &finished, "error",
			int64(1), int64(2), int64(0), &downloaded, &msg,
		))

	run, err := s.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, runID, run.RunID)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, int64(12), *run.DownloadedFiles)
	require.Equal(t, msg, *run.ErrorMessage)
	require.Equal(t, finished, *run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM download_runs").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProgressStoreListRuns(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	columns := []string{
		"run_id", "job_id", "start_offset", "started_at", "finished_at", "status",
		"pages", "items", "skipped", "downloaded_files", "error_message",
	}
	mock.ExpectQuery("SELECT (.+) FROM download_runs").
		WithArgs("job-1", 20, 0).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(uuid.New(), "job-1", 5, started.Add(time.Hour), (*time.Time)(nil), "running",
				int64(0), int64(0), int64(0), (*int64)(nil), (*string)(nil)).
			AddRow(uuid.New(), "job-1", 0, started, (*time.Time)(nil), "error",
				int64(1), int64(5), int64(0), (*int64)(nil), (*string)(nil)))

	runs, err := s.ListRuns(context.Background(), "job-1", 20, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, store.RunRunning, runs[0].Status)
	require.Nil(t, runs[0].FinishedAt)
	require.Equal(t, 5, runs[0].StartOffset)
	require.NoError(t, mock.ExpectationsWereMet())
}
