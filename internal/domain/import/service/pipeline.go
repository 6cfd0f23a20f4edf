package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/handoff"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/worker"
)

const pipelineTaskName = "import.pipeline"

// ProcessResult is the output of the process stage and the complete input
// of the categorize stage.
type ProcessResult struct {
	JobID      uuid.UUID
	Status     repository.JobStatus
	Imported   int
	Duplicates int
	Total      int
	Error      string
}

// Failed reports whether the categorize stage should skip this job.
func (r ProcessResult) Failed() bool {
	return r.JobID == uuid.Nil || r.Status == repository.StatusFailed
}

func resultFromJob(job *repository.ImportJob) ProcessResult {
	r := ProcessResult{
		JobID:      job.ID,
		Status:     job.Status,
		Imported:   job.ImportedRows,
		Duplicates: job.DuplicateRows,
		Total:      job.TotalRows,
	}
	if job.ErrorMessage != nil {
		r.Error = *job.ErrorMessage
	}
	return r
}

func failedResult(jobID uuid.UUID, msg string) ProcessResult {
	return ProcessResult{JobID: jobID, Status: repository.StatusFailed, Error: msg}
}

// newPipelineTask chains the two stages. Stage 1 is retried on
// infrastructure errors; stage 2 runs exactly once with stage 1's result,
// including after stage 1 gives up.
func (s *ImportService) newPipelineTask(jobID uuid.UUID, filePath string) *worker.Task {
	task := &worker.Task{
		ID:         uuid.New().String(),
		Name:       pipelineTaskName,
		MaxRetries: s.maxRetries,
		RetryDelay: s.retryDelay,
	}

	task.Run = func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			s.metrics.TaskRetried()
		}
		result, err := s.processStage(ctx, jobID, filePath)
		if err != nil {
			if attempt < task.MaxRetries {
				s.markRetryPending(ctx, jobID, err)
			}
			return err
		}
		s.categorizeStage(ctx, result)
		return nil
	}
	task.OnExhausted = func(ctx context.Context, err error) {
		result := s.failStage(ctx, jobID, err)
		s.categorizeStage(ctx, result)
	}
	return task
}

// processStage loads the job's bytes and runs Process.
func (s *ImportService) processStage(ctx context.Context, jobID uuid.UUID, filePath string) (ProcessResult, error) {
	content, err := s.loadContent(ctx, jobID, filePath)
	if errors.Is(err, handoff.ErrMissing) {
		return s.failStage(ctx, jobID, errors.New(MissingContentMessage)), nil
	}
	if err != nil {
		return ProcessResult{}, err
	}

	job, err := s.Process(ctx, jobID, content)
	if errors.Is(err, repository.ErrJobNotFound) {
		s.logger.Error("import job not found", slog.String("job_id", jobID.String()))
		return failedResult(jobID, "Job not found"), nil
	}
	if err != nil {
		return ProcessResult{}, err
	}

	if filePath == "" && s.handoff != nil {
		if err := s.handoff.Delete(ctx, jobID); err != nil {
			s.logger.Warn("failed to delete hand-off entry",
				slog.String("job_id", jobID.String()),
				slog.Any("error", err))
		}
	}
	return resultFromJob(job), nil
}

func (s *ImportService) loadContent(ctx context.Context, jobID uuid.UUID, filePath string) ([]byte, error) {
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read watched file: %w", err)
		}
	}
	if s.handoff == nil {
		return nil, handoff.ErrMissing
	}
	return s.handoff.Get(ctx, jobID)
}

// failStage records a permanent stage 1 failure and returns the result the
// categorize stage receives.
func (s *ImportService) failStage(ctx context.Context, jobID uuid.UUID, cause error) ProcessResult {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("failed to load job after import failure",
			slog.String("job_id", jobID.String()),
			slog.Any("error", err))
		return failedResult(jobID, cause.Error())
	}

	if job.Status != repository.StatusFailed || job.RetryPending() {
		job.Status = repository.StatusFailed
		job.SetError(cause.Error())
		if err := s.store.UpdateJob(ctx, job); err != nil {
			s.logger.Error("failed to mark job failed",
				slog.String("job_id", jobID.String()),
				slog.Any("error", err))
		}
	}
	return resultFromJob(job)
}

// markRetryPending flags a job failed by a retryable error so an interrupted
// retry can be found again after a restart.
func (s *ImportService) markRetryPending(ctx context.Context, jobID uuid.UUID, cause error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil || job.Status != repository.StatusFailed {
		return
	}
	job.SetError(repository.RetryPendingPrefix + cause.Error())
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("failed to flag job for retry",
			slog.String("job_id", jobID.String()),
			slog.Any("error", err))
	}
}

// categorizeStage runs the best-effort second stage and then notifies.
func (s *ImportService) categorizeStage(ctx context.Context, in ProcessResult) {
	if s.categorizer != nil && !in.Failed() {
		if err := s.categorizer.CategorizeImportJob(ctx, in); err != nil {
			s.logger.Warn("categorization stage failed",
				slog.String("job_id", in.JobID.String()),
				slog.Any("error", err))
		}
	}
	s.notify(ctx, in)
}

func (s *ImportService) notify(ctx context.Context, in ProcessResult) {
	notifiers := s.registry.Notifiers()
	if len(notifiers) == 0 || in.JobID == uuid.Nil {
		return
	}

	job, err := s.store.GetJob(ctx, in.JobID)
	if err != nil {
		return
	}
	subject, body := jobMessage(job)
	for _, n := range notifiers {
		if err := n.Notify(ctx, subject, body); err != nil {
			s.logger.Warn("notification failed",
				slog.String("notifier", n.Name()),
				slog.String("job_id", in.JobID.String()),
				slog.Any("error", err))
		}
	}
}

func jobMessage(job *repository.ImportJob) (subject, body string) {
	subject = fmt.Sprintf("Import %s: %s", job.Status, job.Filename)
	body = fmt.Sprintf("%d of %d rows imported, %d duplicates skipped, %d categorized.",
		job.ImportedRows, job.TotalRows, job.DuplicateRows, job.CategorizedRows)
	if job.ErrorMessage != nil {
		body += "\n" + *job.ErrorMessage
	}
	return subject, body
}
