package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
)

// ResumeInterrupted re-enqueues every job whose import task did not finish,
// typically because the previous process stopped. Processing jobs are
// failed first so the new task may move them back to processing. It must
// run before any worker picks up new jobs.
func (s *ImportService) ResumeInterrupted(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, ErrNoPipeline
	}

	jobs, err := s.store.ListInterruptedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list interrupted jobs: %w", err)
	}

	resumed := 0
	for i := range jobs {
		job := &jobs[i]
		if job.Status == repository.StatusProcessing {
			job.Status = repository.StatusFailed
			job.SetError(InterruptedMessage)
		}

		filePath := ""
		if job.FilePath != nil {
			filePath = *job.FilePath
		}
		task := s.newPipelineTask(job.ID, filePath)
		job.TaskHandle = &task.ID
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return resumed, fmt.Errorf("failed to update interrupted job: %w", err)
		}
		if _, err := s.dispatcher.Publish(ctx, task); err != nil {
			return resumed, fmt.Errorf("failed to re-enqueue import: %w", err)
		}

		resumed++
		s.logger.Info("resumed interrupted import",
			slog.String("job_id", job.ID.String()),
			slog.String("filename", job.Filename),
			slog.String("source", string(job.Source)))
	}
	return resumed, nil
}
