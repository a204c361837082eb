// Package store declares interfaces for persisting download-run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("download run not found")

// RunStatus mirrors the download_runs status column.
type RunStatus string

// Download run statuses persisted in download_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// DownloadRun models one downloader invocation for a job.
type DownloadRun struct {
	// RunID is the primary key generated by the downloader.
	RunID uuid.UUID `json:"run_id"`
	// JobID is the remote crawl job id.
	JobID string `json:"job_id"`
	// StartOffset is the cursor the run resumed from.
	StartOffset int `json:"start_offset"`
	// StartedAt captures when the run began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/success/error.
	Status RunStatus `json:"status"`
	// Pages counts result pages processed.
	Pages int64 `json:"pages"`
	// Items counts items written.
	Items int64 `json:"items"`
	// Skipped counts items without a text body.
	Skipped int64 `json:"skipped"`
	// DownloadedFiles is the cursor persisted when the run finished.
	DownloadedFiles *int64 `json:"downloaded_files,omitempty"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ProgressRepository persists incremental download-run progress.
type ProgressRepository interface {
	// StartRun inserts (or idempotently keeps) a running row.
	StartRun(ctx context.Context, runID uuid.UUID, jobID string, startOffset int, startedAt time.Time) error
	// RecordPage applies per-page item deltas.
	RecordPage(ctx context.Context, runID uuid.UUID, items, skipped int64, at time.Time) error
	// CompleteRun marks the run finished with the final cursor and optional error.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		downloaded int64,
		errMsg *string,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (DownloadRun, error)
	// ListRuns returns the runs for one job, newest first.
	ListRuns(ctx context.Context, jobID string, limit, offset int) ([]DownloadRun, error)
}
