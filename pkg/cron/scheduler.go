// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	importservice "github.com/FACorreiaa/familyfinance/internal/domain/import/service"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
)

const (
	DefaultSweepInterval  = 10 * time.Minute
	DefaultSchemaInterval = time.Minute
	jobTimeout            = 5 * time.Minute
)

// Scanner dispatches imports for new files in a directory.
type Scanner interface {
	ScanDirectory(ctx context.Context, dir string, owner uuid.UUID) (*importservice.ScanResult, error)
}

// Sweeper removes expired hand-off entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SchemaReloader refreshes cached parser schemas from the database.
type SchemaReloader interface {
	Reload(ctx context.Context) error
}

// Config selects which jobs run and how often.
type Config struct {
	WatchDir      string
	Owner         uuid.UUID
	ScanInterval  time.Duration
	SweepInterval time.Duration
	// SchemaInterval defaults to DefaultSchemaInterval.
	SchemaInterval time.Duration
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	scanner Scanner
	sweeper Sweeper
	schemas SchemaReloader
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScheduler creates a new job scheduler. A nil scanner or sweeper
// disables that job.
func NewScheduler(cfg Config, scanner Scanner, sweeper Sweeper, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SchemaInterval <= 0 {
		cfg.SchemaInterval = DefaultSchemaInterval
	}
	return &Scheduler{
		cron:    c,
		cfg:     cfg,
		scanner: scanner,
		sweeper: sweeper,
		metrics: m,
		logger:  logger,
	}
}

// WithSchemaReloader periodically reloads r so schema edits made through the
// CLI reach a running daemon.
func (s *Scheduler) WithSchemaReloader(r SchemaReloader) *Scheduler {
	s.schemas = r
	return s
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if s.scanner != nil && s.cfg.WatchDir != "" && s.cfg.ScanInterval > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.ScanInterval), s.scanWatchDir); err != nil {
			return fmt.Errorf("failed to schedule watch scan: %w", err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(every(s.cfg.SweepInterval), s.sweepHandoff); err != nil {
			return fmt.Errorf("failed to schedule hand-off sweep: %w", err)
		}
	}
	if s.schemas != nil {
		if _, err := s.cron.AddFunc(every(s.cfg.SchemaInterval), s.reloadSchemas); err != nil {
			return fmt.Errorf("failed to schedule schema reload: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a watch scan immediately.
func (s *Scheduler) RunNow() {
	go s.scanWatchDir()
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Scheduler) scanWatchDir() {
	if s.scanner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.scanner.ScanDirectory(ctx, s.cfg.WatchDir, s.cfg.Owner)
	if err != nil {
		s.logger.Error("watch directory scan failed",
			slog.String("dir", s.cfg.WatchDir),
			slog.Any("error", err))
		return
	}
	if result.Skipped {
		s.logger.Debug("watch directory scan skipped", slog.String("reason", result.Reason))
		return
	}
	if len(result.Dispatched) > 0 {
		s.logger.Info("watch directory scan completed",
			slog.Int("dispatched", len(result.Dispatched)))
	}
}

func (s *Scheduler) sweepHandoff() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("hand-off sweep failed", slog.Any("error", err))
	}
	s.metrics.HandoffEvicted(removed)
}

func (s *Scheduler) reloadSchemas() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.schemas.Reload(ctx); err != nil {
		s.logger.Warn("schema reload failed", slog.Any("error", err))
	}
}
