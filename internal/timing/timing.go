// Package timing records ingestion runs so their duration and outcome can be
// reported and the next run's duration predicted.
package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Run struct {
	ID             int64      `json:"id"`
	CorrelationID  string     `json:"correlation_id"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	FilesListed    int        `json:"files_listed"`
	FilesFailed    int        `json:"files_failed"`
	PatternsStored int        `json:"patterns_stored"`
	DurationMs     int64      `json:"duration_ms"`
	ArchiveKey     string     `json:"archive_key,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Outcome is what a finished run reports.
type Outcome struct {
	FilesListed    int
	FilesFailed    int
	PatternsStored int
	Duration       time.Duration
	ArchiveKey     string
	Err            error
}

type Recorder struct {
	db dbConn
}

func NewRecorder(db dbConn) *Recorder {
	return &Recorder{db: db}
}

// StartRun inserts a running row and returns its id.
func (r *Recorder) StartRun(ctx context.Context, correlationID, source string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO ingest_runs (correlation_id, source, status) VALUES ($1, $2, $3) RETURNING id`,
		correlationID, source, StatusRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record ingest run: %w", err)
	}
	return id, nil
}

func (r *Recorder) FinishRun(ctx context.Context, id int64, o Outcome) error {
	status := StatusSucceeded
	errText := ""
	if o.Err != nil {
		status = StatusFailed
		errText = o.Err.Error()
	}
	_, err := r.db.Exec(ctx,
		`UPDATE ingest_runs SET status = $2, files_listed = $3, files_failed = $4, patterns_stored = $5,
			duration_ms = $6, archive_key = $7, error = $8, finished_at = now()
		WHERE id = $1`,
		id, status, o.FilesListed, o.FilesFailed, o.PatternsStored, o.Duration.Milliseconds(), o.ArchiveKey, errText)
	if err != nil {
		return fmt.Errorf("failed to finish ingest run %d: %w", id, err)
	}
	return nil
}

// RecentRuns lists the latest runs, newest first.
func (r *Recorder) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, correlation_id, source, status, files_listed, files_failed, patterns_stored,
			duration_ms, archive_key, error, started_at, finished_at
		FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var run Run
		err := row.Scan(&run.ID, &run.CorrelationID, &run.Source, &run.Status, &run.FilesListed,
			&run.FilesFailed, &run.PatternsStored, &run.DurationMs, &run.ArchiveKey, &run.Error,
			&run.StartedAt, &run.FinishedAt)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest runs: %w", err)
	}
	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}

// PredictDuration averages the last successful runs. It returns 0 when there
// is no history.
func (r *Recorder) PredictDuration(ctx context.Context) (time.Duration, error) {
	var avg float64
	err := r.db.QueryRow(ctx,
		`SELECT coalesce(avg(duration_ms), 0) FROM (
			SELECT duration_ms FROM ingest_runs WHERE status = $1
			ORDER BY started_at DESC LIMIT 5
		) recent`, StatusSucceeded).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to predict ingest duration: %w", err)
	}
	return time.Duration(avg) * time.Millisecond, nil
}
