package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aragossa/tablescrub/pkg/pipeline"
	"github.com/aragossa/tablescrub/pkg/table"
)

// ErrInvalidID rejects caller-supplied ids that are not safe directory names.
var ErrInvalidID = errors.New("invalid job id")

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

const outputBase = "output"

// Service runs uploads through the pipeline and manages their outputs under
// a base directory, one sub-directory per job.
type Service struct {
	store *Store
	dir   string
	now   func() time.Time
}

// NewService creates the base directory if needed.
func NewService(store *Store, dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating job directory: %w", err)
	}
	return &Service{store: store, dir: dir, now: time.Now}, nil
}

// Run scrubs input as job id (a new UUID when id is empty). The returned job
// is never nil once the record has been created; err carries the pipeline
// failure for failed jobs.
func (s *Service) Run(ctx context.Context, id, originalName string, input io.Reader) (*Job, error) {
	if id == "" {
		id = uuid.NewString()
	} else if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	job := &Job{
		ID:        id,
		Status:    StatusProcessing,
		CreatedAt: s.now(),
	}
	if originalName != "" {
		job.OriginalName = filepath.Base(originalName)
	}
	// The insert claims the id; concurrent uploads with the same id get ErrExists.
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	logger := log.With().Str("job_id", id).Logger()
	logger.Info().Str("original_name", job.OriginalName).Msg("job started")

	runErr := s.process(job, input)

	finished := s.now()
	job.FinishedAt = &finished
	job.DurationMS = finished.Sub(job.CreatedAt).Milliseconds()
	if runErr != nil {
		job.Status = StatusFailed
		job.ErrorMessage = runErr.Error()
		if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
			logger.Warn().Err(err).Msg("removing failed job directory")
		}
		logger.Warn().Err(runErr).Msg("job failed")
	} else {
		job.Status = StatusCompleted
		logger.Info().
			Str("format", job.Format).
			Int("rows", job.Rows).
			Int64("output_size", job.OutputSize).
			Int64("duration_ms", job.DurationMS).
			Msg("job completed")
	}

	if err := s.store.Save(ctx, job); err != nil {
		return job, err
	}
	return job, runErr
}

func (s *Service) process(job *Job, input io.Reader) error {
	jobDir := filepath.Join(s.dir, job.ID)
	if err := os.MkdirAll(jobDir, 0o700); err != nil {
		return &pipeline.UnexpectedError{Op: "creating job directory", Err: err}
	}

	tmp, err := os.CreateTemp(jobDir, outputBase+"-*.tmp")
	if err != nil {
		return &pipeline.UnexpectedError{Op: "creating output file", Err: err}
	}
	defer os.Remove(tmp.Name())

	in := &countingReader{r: input}
	bw := bufio.NewWriter(tmp)
	out := &countingWriter{w: bw}
	res, err := pipeline.Process(in, out)
	job.InputSize = in.n
	if err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return &pipeline.UnexpectedError{Op: "writing output", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &pipeline.UnexpectedError{Op: "writing output", Err: err}
	}

	if err := os.Rename(tmp.Name(), outputPath(jobDir, res.Format)); err != nil {
		return &pipeline.UnexpectedError{Op: "storing output", Err: err}
	}

	job.Format = string(res.Format)
	job.OutputSize = out.n
	job.Rows = res.Rows
	job.CellsChanged = res.Stats.CellsChanged
	return nil
}

// Get returns the job record.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if !validID.MatchString(id) {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// Output returns the path and format of a job's output file, or ErrNotFound.
func (s *Service) Output(id string) (string, table.Format, error) {
	if !validID.MatchString(id) {
		return "", "", ErrNotFound
	}
	jobDir := filepath.Join(s.dir, id)
	for _, f := range []table.Format{table.FormatCSV, table.FormatJSON} {
		p := outputPath(jobDir, f)
		if _, err := os.Stat(p); err == nil {
			return p, f, nil
		}
	}
	return "", "", ErrNotFound
}

// Delete removes a job's directory and record. Unknown ids are ignored.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return fmt.Errorf("removing job directory: %w", err)
	}
	return s.store.Delete(ctx, id)
}

// Stats proxies the store's aggregate counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}

func outputPath(jobDir string, f table.Format) string {
	return filepath.Join(jobDir, outputBase+f.Extension())
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
