package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

// DataError marks a failure caused by the file contents rather than the
// infrastructure. Jobs failing with a DataError are not retried.
type DataError struct {
	Row int // 1-based data row, 0 when the whole file failed to parse
	Err error
}

func (e *DataError) Error() string {
	if e.Row == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

type runStats struct {
	imported   int
	duplicates int
	processed  int
}

// checkpointFunc persists progress outside the run's session.
type checkpointFunc func(ctx context.Context, processed int)

// Run imports a file on the request path. Everything, including the job,
// is written in one session; on failure the session is rolled back and only
// the failed job is stored. The returned error is non-nil only when the job
// itself could not be recorded.
func (s *ImportService) Run(ctx context.Context, owner uuid.UUID, filename string, content []byte) (job *repository.ImportJob, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "import.run", attribute.String("filename", filename))
	defer func() { metrics.EndSpan(span, err) }()

	job = &repository.ImportJob{
		ID:         uuid.New(),
		UserID:     owner,
		Filename:   filename,
		SourceType: UnknownSourceType,
		Status:     repository.StatusPending,
		Source:     repository.SourceUpload,
	}

	p := s.Detect(ctx, content, filename)
	if p == nil {
		job.Status = repository.StatusFailed
		job.SetError(NoParserMessage)
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to record import job: %w", err)
		}
		s.metrics.ImportFinished(string(job.Status), job.SourceType, 0, 0, 0)
		return job, nil
	}

	job.SourceType = p.Name()
	job.Status = repository.StatusProcessing

	sess, err := s.store.BeginSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin import session: %w", err)
	}
	defer sess.Rollback(ctx)

	runErr := sess.CreateJob(ctx, job)
	if runErr == nil {
		runErr = s.execute(ctx, sess, job, p, content, nil)
	}
	if runErr == nil {
		runErr = sess.Commit(ctx)
	}
	if runErr != nil {
		if err := sess.Rollback(ctx); err != nil {
			s.logger.Warn("rollback failed", slog.Any("error", err))
		}
		s.markFailed(job, runErr)
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to record failed import job: %w", err)
		}
	}
	return job, nil
}

// Process imports content into an existing job on the background path. Row
// staging happens in one session while processed_rows is checkpointed every
// 100 rows through the autocommit store so pollers see progress.
//
// A non-nil error means the attempt may succeed if retried. Data errors
// leave the job failed and return nil.
func (s *ImportService) Process(ctx context.Context, jobID uuid.UUID, content []byte) (job *repository.ImportJob, err error) {
	ctx, span := s.metrics.StartSpan(ctx, "import.process", attribute.String("job_id", jobID.String()))
	defer func() { metrics.EndSpan(span, err) }()

	job, err = s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !repository.CanTransition(job.Status, repository.StatusProcessing) {
		s.logger.Info("import job already processed",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(job.Status)))
		return job, nil
	}

	p := s.Detect(ctx, content, job.Filename)
	if p == nil {
		job.Status = repository.StatusFailed
		job.SetError(NoParserMessage)
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
		s.metrics.ImportFinished(string(job.Status), job.SourceType, 0, 0, 0)
		return job, nil
	}

	job.SourceType = p.Name()
	job.Status = repository.StatusProcessing
	job.ErrorMessage = nil
	job.ProcessedRows = 0
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	sess, err := s.store.BeginSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin import session: %w", err)
	}
	defer sess.Rollback(ctx)

	runErr := s.execute(ctx, sess, job, p, content, s.checkpoint(job.ID))
	if runErr == nil {
		runErr = sess.Commit(ctx)
	}
	if runErr == nil {
		return job, nil
	}

	if err := sess.Rollback(ctx); err != nil {
		s.logger.Warn("rollback failed", slog.Any("error", err))
	}
	if ctx.Err() != nil {
		// Left in processing so ResumeInterrupted picks it up again.
		return job, fmt.Errorf("import interrupted: %w", ctx.Err())
	}
	s.markFailed(job, runErr)
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, errors.Join(runErr, err)
	}

	var dataErr *DataError
	if errors.As(runErr, &dataErr) {
		return job, nil
	}
	return job, runErr
}

// execute parses content and writes every row through repo, then records
// the completed job through repo too.
func (s *ImportService) execute(ctx context.Context, repo repository.ImportRepository, job *repository.ImportJob, p plugin.FileParser, content []byte, checkpoint checkpointFunc) error {
	started := s.now()

	rows, err := p.Parse(ctx, content, job.Filename)
	if err != nil {
		return &DataError{Err: fmt.Errorf("failed to parse file: %w", err)}
	}
	job.TotalRows = len(rows)

	stats, err := s.importRows(ctx, repo, job, rows, checkpoint)
	if err != nil {
		return err
	}

	job.ImportedRows = stats.imported
	job.DuplicateRows = stats.duplicates
	job.ProcessedRows = stats.processed
	if err := job.Transition(repository.StatusCompleted); err != nil {
		return err
	}
	job.Complete(s.now())
	if err := repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	s.metrics.ImportFinished(string(job.Status), job.SourceType, stats.imported, stats.duplicates, s.now().Sub(started))
	s.logger.Info("import completed",
		slog.String("job_id", job.ID.String()),
		slog.String("parser", job.SourceType),
		slog.Int("total", job.TotalRows),
		slog.Int("imported", stats.imported),
		slog.Int("duplicates", stats.duplicates))
	return nil
}

func (s *ImportService) importRows(ctx context.Context, repo repository.ImportRepository, job *repository.ImportJob, rows []plugin.RawRow, checkpoint checkpointFunc) (runStats, error) {
	var stats runStats
	resolver := NewResolver(repo, &job.UserID)
	dedup := NewDeduplicator(repo)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		inst, err := resolver.Institution(ctx, row.InstitutionName)
		if err != nil {
			return stats, err
		}
		acct, err := resolver.Account(ctx, inst, row.AccountName, row.AccountType, row.AccountNumberLast4)
		if err != nil {
			return stats, err
		}
		cat, err := resolver.Category(ctx, row.CategoryName)
		if err != nil {
			return stats, err
		}

		date, err := parseISODate(row.Date)
		if err != nil {
			return stats, &DataError{Row: i + 1, Err: err}
		}
		var originalDate *time.Time
		if row.OriginalDate != "" {
			d, err := parseISODate(row.OriginalDate)
			if err != nil {
				return stats, &DataError{Row: i + 1, Err: err}
			}
			originalDate = &d
		}

		dup, err := dedup.IsDuplicate(ctx, acct.ID, date, row.AmountCents, row.Description)
		if err != nil {
			return stats, err
		}
		if dup {
			stats.duplicates++
		} else {
			txn := newTransaction(row, acct.ID, cat.ID, job.ID, date, originalDate)
			if err := repo.InsertTransaction(ctx, txn); err != nil {
				return stats, err
			}
			stats.imported++
		}

		stats.processed = i + 1
		if checkpoint != nil && stats.processed%checkpointEvery == 0 {
			checkpoint(ctx, stats.processed)
		}
	}
	return stats, nil
}

func (s *ImportService) checkpoint(jobID uuid.UUID) checkpointFunc {
	return func(ctx context.Context, processed int) {
		if err := s.store.UpdateJobProgress(ctx, jobID, processed); err != nil {
			s.logger.Warn("failed to record import progress",
				slog.String("job_id", jobID.String()),
				slog.Any("error", err))
			return
		}
		s.logger.Info("import progress",
			slog.String("job_id", jobID.String()),
			slog.Int("processed", processed))
	}
}

// markFailed resets the staged counters, which were rolled back, and
// records the cause.
func (s *ImportService) markFailed(job *repository.ImportJob, cause error) {
	job.Status = repository.StatusFailed
	job.ImportedRows = 0
	job.DuplicateRows = 0
	job.ProcessedRows = 0
	job.CompletedAt = nil
	job.SetError(cause.Error())

	s.metrics.ImportFinished(string(job.Status), job.SourceType, 0, 0, 0)
	s.logger.Error("import failed",
		slog.String("job_id", job.ID.String()),
		slog.String("filename", job.Filename),
		slog.Any("error", cause))
}

func parseISODate(value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return d, nil
}

func newTransaction(row plugin.RawRow, accountID, categoryID, jobID uuid.UUID, date time.Time, originalDate *time.Time) *repository.Transaction {
	return &repository.Transaction{
		ID:                  uuid.New(),
		AccountID:           accountID,
		Date:                date,
		OriginalDate:        originalDate,
		AmountCents:         row.AmountCents,
		Description:         row.Description,
		OriginalDescription: optional(row.OriginalDescription),
		MerchantName:        optional(row.MerchantName),
		CategoryID:          &categoryID,
		CustomName:          optional(row.CustomName),
		Note:                optional(row.Note),
		IsTransfer:          row.IsTransfer,
		IsTaxDeductible:     row.IsTaxDeductible,
		Tags:                row.Tags,
		ImportJobID:         &jobID,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
