// Package service provides the import orchestration logic: parser
// selection, entity resolution, deduplication, job bookkeeping and the
// two-stage background pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/handoff"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/internal/worker"
)

var (
	ErrNoParser     = errors.New("no parser found for this file format")
	ErrEmptyFile    = errors.New("file is empty")
	ErrNotRetryable = errors.New("job status does not allow re-categorization")
	ErrNoPipeline   = errors.New("background pipeline is not configured")
)

const (
	NoParserMessage       = "No parser found for this file format"
	MissingContentMessage = "File content not found in hand-off cache or on disk"
	ForceCompleteMarker   = "[Force-completed via CLI]"
	InterruptedMessage    = "Interrupted before completion"
	UnknownSourceType     = "unknown"

	checkpointEvery    = 100
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 60 * time.Second
	DefaultHistorySize = 50
)

// SchemaInferrer learns a parser schema for a file no parser recognizes.
// Implementations reload the schema parser once the schema is stored.
type SchemaInferrer interface {
	InferSchema(ctx context.Context, filename string, content []byte) error
}

// Categorizer runs the second pipeline stage for one job.
type Categorizer interface {
	CategorizeImportJob(ctx context.Context, in ProcessResult) error
}

// ImportService orchestrates import runs and the background pipeline
type ImportService struct {
	store    repository.SessionStore
	registry *plugin.Registry
	logger   *slog.Logger

	inferrer    SchemaInferrer   // optional
	handoff     *handoff.Cache   // required by Submit
	dispatcher  worker.Publisher // required by Submit and the watcher
	categorizer Categorizer      // optional second stage
	metrics     *metrics.Metrics // optional
	maxRetries  int
	retryDelay  time.Duration
	now         func() time.Time
}

// NewImportService creates a new import service
func NewImportService(store repository.SessionStore, registry *plugin.Registry, logger *slog.Logger) *ImportService {
	return &ImportService{
		store:      store,
		registry:   registry,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
	}
}

// WithSchemaInferrer enables schema inference for unrecognized uploads
func (s *ImportService) WithSchemaInferrer(inferrer SchemaInferrer) *ImportService {
	s.inferrer = inferrer
	return s
}

// WithHandoff sets the cache that carries upload bytes to the worker
func (s *ImportService) WithHandoff(cache *handoff.Cache) *ImportService {
	s.handoff = cache
	return s
}

// WithDispatcher sets where pipeline tasks are published
func (s *ImportService) WithDispatcher(dispatcher worker.Publisher) *ImportService {
	s.dispatcher = dispatcher
	return s
}

// WithCategorizer adds the categorization stage to the pipeline
func (s *ImportService) WithCategorizer(categorizer Categorizer) *ImportService {
	s.categorizer = categorizer
	return s
}

// WithMetrics adds Prometheus counters and tracing spans
func (s *ImportService) WithMetrics(m *metrics.Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithRetryPolicy overrides how often and how fast the process stage retries
func (s *ImportService) WithRetryPolicy(maxRetries int, delay time.Duration) *ImportService {
	if maxRetries >= 0 {
		s.maxRetries = maxRetries
	}
	if delay >= 0 {
		s.retryDelay = delay
	}
	return s
}

// Detect returns the first registered parser that recognizes the file.
func (s *ImportService) Detect(ctx context.Context, content []byte, filename string) plugin.FileParser {
	for _, p := range s.registry.Parsers() {
		if p.Detect(ctx, content, filename) {
			return p
		}
	}
	return nil
}

// Submit is the upload boundary. It detects the format (inferring a schema
// once when nothing matches), records a pending job, hands the bytes to the
// worker and enqueues the pipeline. Processing failures are only visible
// through the job afterwards.
func (s *ImportService) Submit(ctx context.Context, owner uuid.UUID, filename string, content []byte) (*repository.ImportJob, error) {
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if s.dispatcher == nil || s.handoff == nil {
		return nil, ErrNoPipeline
	}

	p := s.Detect(ctx, content, filename)
	if p == nil && s.inferrer != nil {
		if err := s.inferrer.InferSchema(ctx, filename, content); err != nil {
			s.logger.Warn("schema inference failed",
				slog.String("filename", filename),
				slog.Any("error", err))
		} else {
			p = s.Detect(ctx, content, filename)
		}
	}
	if p == nil {
		return nil, ErrNoParser
	}

	job := &repository.ImportJob{
		ID:         uuid.New(),
		UserID:     owner,
		Filename:   filename,
		SourceType: UnknownSourceType,
		Status:     repository.StatusPending,
		Source:     repository.SourceUpload,
	}
	task := s.newPipelineTask(job.ID, "")
	job.TaskHandle = &task.ID

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	if err := s.handoff.Put(ctx, job.ID, filename, content); err != nil {
		return nil, s.abortSubmit(ctx, job, err)
	}
	if _, err := s.dispatcher.Publish(ctx, task); err != nil {
		if ctx.Err() != nil {
			// The job stays resumable.
			return nil, fmt.Errorf("import interrupted: %w", err)
		}
		return nil, s.abortSubmit(ctx, job, err)
	}

	s.logger.Info("import job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("filename", filename),
		slog.String("detected", p.Name()))
	return job, nil
}

func (s *ImportService) abortSubmit(ctx context.Context, job *repository.ImportJob, cause error) error {
	job.Status = repository.StatusFailed
	job.SetError(cause.Error())
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to mark job failed", slog.String("job_id", job.ID.String()), slog.Any("error", err))
	}
	return fmt.Errorf("failed to enqueue import: %w", cause)
}

// GetJob returns one job.
func (s *ImportService) GetJob(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	return s.store.GetJob(ctx, id)
}

// History returns the newest jobs, optionally restricted to one user.
func (s *ImportService) History(ctx context.Context, owner *uuid.UUID, limit int) ([]repository.ImportJob, error) {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return s.store.ListJobs(ctx, owner, limit)
}

// ListErrors returns the newest jobs that recorded an error message.
func (s *ImportService) ListErrors(ctx context.Context, limit int) ([]repository.ImportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListJobsWithErrors(ctx, limit)
}

// ForceComplete moves a job to completed regardless of its current status
// and marks the error message so the override stays visible.
func (s *ImportService) ForceComplete(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := job.Status
	job.Status = repository.StatusCompleted
	job.Complete(s.now())
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		job.SetError(*job.ErrorMessage + " " + ForceCompleteMarker)
	} else {
		job.SetError(ForceCompleteMarker)
	}

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to force-complete job: %w", err)
	}
	s.logger.Warn("import job force-completed",
		slog.String("job_id", id.String()),
		slog.String("previous_status", string(previous)))
	return job, nil
}

// RetryCategorize re-runs the categorization stage for a finished job.
func (s *ImportService) RetryCategorize(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	if s.categorizer == nil {
		return nil, ErrNoPipeline
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.StatusCompleted && job.Status != repository.StatusPartiallyFailed {
		return nil, fmt.Errorf("%w: %s", ErrNotRetryable, job.Status)
	}

	if err := s.categorizer.CategorizeImportJob(ctx, resultFromJob(job)); err != nil {
		return nil, fmt.Errorf("failed to categorize job: %w", err)
	}
	return s.store.GetJob(ctx, id)
}

// WatchProgress polls a job every interval and emits snapshots until it
// reaches a terminal status, the job disappears or ctx is cancelled.
func (s *ImportService) WatchProgress(ctx context.Context, id uuid.UUID, interval time.Duration) <-chan repository.ImportJob {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan repository.ImportJob)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			job, err := s.store.GetJob(ctx, id)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Warn("stopped watching import job",
						slog.String("job_id", id.String()),
						slog.Any("error", err))
				}
				return
			}

			select {
			case out <- *job:
			case <-ctx.Done():
				return
			}
			if job.Status.Terminal() {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
