// Package jobs runs the scrubbing pipeline for uploaded files and keeps job
// records in SQLite and job outputs on disk until they are deleted.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned when a job id is already in use.
	ErrExists = errors.New("job already exists")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the persisted record of one upload.
type Job struct {
	ID           string     `json:"jobId"`
	Status       Status     `json:"status"`
	OriginalName string     `json:"originalName,omitempty"`
	Format       string     `json:"format,omitempty"`
	InputSize    int64      `json:"inputSize"`
	OutputSize   int64      `json:"outputSize"`
	Rows         int        `json:"rows"`
	CellsChanged int        `json:"cellsChanged"`
	DurationMS   int64      `json:"durationMs"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// Stats aggregates job records for the metrics endpoint.
type Stats struct {
	TotalJobs           int     `json:"totalJobs"`
	SuccessfulJobs      int     `json:"successfulJobs"`
	FailedJobs          int     `json:"failedJobs"`
	ProcessingJobs      int     `json:"processingJobs"`
	AvgProcessingTimeMS float64 `json:"avgProcessingTimeMs"`
	SuccessRate         float64 `json:"successRate"`
}

// Store persists job records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the job database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating job database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		input_size INTEGER NOT NULL DEFAULT 0,
		output_size INTEGER NOT NULL DEFAULT 0,
		row_count INTEGER NOT NULL DEFAULT 0,
		cells_changed INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const jobColumns = `(id, status, original_name, format, input_size, output_size, row_count, cells_changed,
	 duration_ms, error_message, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Create inserts a new job record, or returns ErrExists when the id is taken.
func (s *Store) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs `+jobColumns, jobArgs(j)...)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrExists, j.ID)
	}
	if err != nil {
		return fmt.Errorf("creating job %s: %w", j.ID, err)
	}
	return nil
}

// Save inserts or replaces a job record.
func (s *Store) Save(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO jobs `+jobColumns, jobArgs(j)...)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

func jobArgs(j *Job) []any {
	var finished sql.NullString
	if j.FinishedAt != nil {
		finished = sql.NullString{String: j.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	return []any{
		j.ID, string(j.Status), j.OriginalName, j.Format, j.InputSize, j.OutputSize, j.Rows,
		j.CellsChanged, j.DurationMS, j.ErrorMessage, j.CreatedAt.UTC().Format(time.RFC3339Nano), finished,
	}
}

// Get returns the job with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, original_name, format, input_size, output_size, row_count, cells_changed,
		       duration_ms, error_message, created_at, finished_at
		FROM jobs WHERE id = ?`, id)

	var (
		j        Job
		status   string
		created  string
		finished sql.NullString
	)
	err := row.Scan(&j.ID, &status, &j.OriginalName, &j.Format, &j.InputSize, &j.OutputSize,
		&j.Rows, &j.CellsChanged, &j.DurationMS, &j.ErrorMessage, &created, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}

	j.Status = Status(status)
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at of job %s: %w", id, err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at of job %s: %w", id, err)
		}
		j.FinishedAt = &t
	}
	return &j, nil
}

// Delete removes a job record. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return nil
}

// Stats counts jobs by status and averages the duration of completed ones.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var (
		st  Stats
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN duration_ms END)
		FROM jobs`).Scan(&st.TotalJobs, &st.SuccessfulJobs, &st.FailedJobs, &st.ProcessingJobs, &avg)
	if err != nil {
		return nil, fmt.Errorf("computing job stats: %w", err)
	}
	if avg.Valid {
		st.AvgProcessingTimeMS = avg.Float64
	}
	if st.TotalJobs > 0 {
		st.SuccessRate = math.Round(float64(st.SuccessfulJobs)/float64(st.TotalJobs)*10000) / 100
	}
	return &st, nil
}
