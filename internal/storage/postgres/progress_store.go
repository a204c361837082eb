// Package postgres provides the Postgres-backed download-run audit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-harvester/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for download runs.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool  querier
	table string
}

var _ store.ProgressRepository = (*ProgressStore)(nil)

// NewProgressStore connects to Postgres using cfg.
func NewProgressStore(ctx context.Context, cfg Config) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool, table: table}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool querier, table string) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProgressStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "download_runs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the runs table when it does not exist yet.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id uuid PRIMARY KEY,
			job_id text NOT NULL,
			start_offset integer NOT NULL,
			started_at timestamptz NOT NULL,
			finished_at timestamptz,
			status text NOT NULL,
			pages bigint NOT NULL DEFAULT 0,
			items bigint NOT NULL DEFAULT 0,
			skipped bigint NOT NULL DEFAULT 0,
			downloaded_files bigint,
			error_message text
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// StartRun inserts a running row; replays of the same run id are ignored.
func (s *ProgressStore) StartRun(
	ctx context.Context,
	runID uuid.UUID,
	jobID string,
	startOffset int,
	startedAt time.Time,
) error {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, job_id, start_offset, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING;
	`, s.table)
	_, err := s.pool.Exec(ctx, query, runID, jobID, startOffset, startedAt, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordPage adds one page worth of item counters to the run.
func (s *ProgressStore) RecordPage(ctx context.Context, runID uuid.UUID, items, skipped int64, _ time.Time) error {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`
		UPDATE %s
		SET pages = pages + 1, items = items + $1, skipped = skipped + $2
		WHERE run_id = $3;
	`, s.table)
	res, err := s.pool.Exec(ctx, query, items, skipped, runID)
	if err != nil {
		return fmt.Errorf("failed to record page: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("record page for run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// CompleteRun marks a run finished with a status, final cursor and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	downloaded int64,
	errMsg *string,
) error {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, downloaded_files = $3, error_message = $4
		WHERE run_id = $5;
	`, s.table)
	_, err := s.pool.Exec(ctx, query, finishedAt, string(status), downloaded, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `run_id, job_id, start_offset, started_at, finished_at, status, ` +
	`pages, items, skipped, downloaded_files, error_message`

// GetRun retrieves a single run by its id.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.DownloadRun, error) {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.DownloadRun{}, store.ErrNotFound
		}
		return store.DownloadRun{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the runs for a job, newest first.
func (s *ProgressStore) ListRuns(ctx context.Context, jobID string, limit, offset int) ([]store.DownloadRun, error) {
	// #nosec G201 -- table name validated against validTableName.
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE job_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, runColumns, s.table)
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.DownloadRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.DownloadRun, error) {
	var (
		run    store.DownloadRun
		status string
	)
	err := row.Scan(
		&run.RunID,
		&run.JobID,
		&run.StartOffset,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Pages,
		&run.Items,
		&run.Skipped,
		&run.DownloadedFiles,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.DownloadRun{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
