package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/familyfinance/internal/ai/gemini"
	"github.com/FACorreiaa/familyfinance/internal/domain/categorization"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/handoff"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
	importrepo "github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/familyfinance/internal/domain/import/service"
	"github.com/FACorreiaa/familyfinance/internal/domain/schema"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/internal/worker"
	"github.com/FACorreiaa/familyfinance/pkg/config"
	"github.com/FACorreiaa/familyfinance/pkg/cron"
	"github.com/FACorreiaa/familyfinance/pkg/db"
	"github.com/FACorreiaa/familyfinance/pkg/email"
	"github.com/FACorreiaa/familyfinance/pkg/push"
	"github.com/FACorreiaa/familyfinance/pkg/storage"
)

// Mode selects how pipeline tasks run.
type Mode int

const (
	// ModeCLI runs pipeline tasks inline so a command finishes its work.
	ModeCLI Mode = iota
	// ModeDaemon runs pipeline tasks on the worker queue and starts the scheduler.
	ModeDaemon
)

const queueBuffer = 256

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	mode    Mode

	// Plugins
	Registry     *plugin.Registry
	SchemaParser *parser.SchemaParser
	Gemini       *gemini.Provider // nil without an API key

	// Repositories
	ImportStore        *importrepo.PostgresStore
	CategorizationRepo *categorization.Repository
	SchemaRepo         *schema.Repository

	// Services
	FileStorage           storage.Storage
	Handoff               *handoff.Cache
	Queue                 *worker.Queue // daemon mode only
	ImportService         *importservice.ImportService
	CategorizationService *categorization.Service
	SchemaService         *schema.Service
	SchemaInferrer        *schema.Inferrer
	Scheduler             *cron.Scheduler // daemon mode only
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode Mode) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		mode:   mode,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = metrics.New()
	}

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initPlugins(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init plugins: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.New(ctx, db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.ImportStore = importrepo.NewPostgresStore(d.DB.Pool)
	d.CategorizationRepo = categorization.NewRepository(d.DB.Pool)
	d.SchemaRepo = schema.NewRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initPlugins builds the registry: parsers, AI providers and notifiers.
func (d *Dependencies) initPlugins(ctx context.Context) error {
	d.Registry = plugin.NewRegistry()
	d.SchemaParser = parser.NewSchemaParser(d.SchemaRepo, d.Logger)

	if d.Config.Gemini.APIKey != "" {
		provider, err := gemini.New(ctx, gemini.Config{
			APIKey: d.Config.Gemini.APIKey,
			Model:  d.Config.Gemini.Model,
			RPS:    d.Config.Gemini.RPS,
			Burst:  d.Config.Gemini.Burst,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Gemini = provider
	}

	err := d.Registry.Discover(
		d.parserSource,
		d.aiSource,
		d.notifierSource,
	)
	if err != nil {
		return err
	}

	d.Logger.Info("plugins registered",
		slog.Int("parsers", len(d.Registry.All(plugin.KindParser))),
		slog.Int("ai_providers", len(d.Registry.All(plugin.KindAI))),
		slog.Int("notifiers", len(d.Registry.All(plugin.KindNotification))))
	return nil
}

func (d *Dependencies) parserSource(r *plugin.Registry) error {
	if err := r.Register(plugin.KindParser, parser.NewRocketMoneyParser()); err != nil {
		return err
	}
	return r.Register(plugin.KindParser, d.SchemaParser)
}

func (d *Dependencies) aiSource(r *plugin.Registry) error {
	if err := r.Register(plugin.KindAI, categorization.NewKeywordProvider(d.Logger)); err != nil {
		return err
	}
	if d.Gemini != nil {
		return r.Register(plugin.KindAI, d.Gemini)
	}
	return nil
}

func (d *Dependencies) notifierSource(r *plugin.Registry) error {
	n := d.Config.Notify
	if n.ResendAPIKey != "" {
		mailer, err := email.NewNotifier(n.ResendAPIKey, n.EmailFrom, n.EmailTo, d.Logger)
		if err != nil {
			return err
		}
		if err := r.Register(plugin.KindNotification, mailer); err != nil {
			return err
		}
	}
	if pusher := push.NewService(n.ExpoPushTokens, d.Logger); pusher.Enabled() {
		return r.Register(plugin.KindNotification, pusher)
	}
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	fileStorage, err := storage.New(ctx, &storage.Config{
		Type:      storage.StorageType(d.Config.Storage.Backend),
		LocalPath: d.Config.Storage.LocalDir,
		S3Bucket:  d.Config.Storage.S3Bucket,
		S3Region:  d.Config.Storage.S3Region,
		S3Prefix:  d.Config.Storage.S3Prefix,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage
	d.Handoff = handoff.New(fileStorage, d.Config.Import.HandoffTTL, d.Logger)

	d.CategorizationService = categorization.NewService(d.CategorizationRepo, d.ImportStore, d.Registry, d.Logger).
		WithDefaultProvider(d.Config.AIProvider()).
		WithMetrics(d.Metrics)

	d.SchemaService = schema.NewService(d.SchemaRepo, d.SchemaParser, d.Logger)

	// Without Gemini the inferrer derives schemas from the sniffed layout.
	var generator schema.Generator
	if d.Gemini != nil {
		generator = d.Gemini
	}
	d.SchemaInferrer = schema.NewInferrer(generator, d.SchemaRepo, d.SchemaParser, d.Logger).
		WithMetrics(d.Metrics)

	var dispatcher worker.Publisher = worker.Inline{}
	if d.mode == ModeDaemon {
		d.Queue = worker.NewQueue(queueBuffer, d.Logger)
		dispatcher = d.Queue
	}

	d.ImportService = importservice.NewImportService(d.ImportStore, d.Registry, d.Logger).
		WithSchemaInferrer(d.SchemaInferrer).
		WithHandoff(d.Handoff).
		WithDispatcher(dispatcher).
		WithCategorizer(newCategorizationAdapter(d.CategorizationService)).
		WithMetrics(d.Metrics).
		WithRetryPolicy(d.Config.Import.MaxRetries, d.Config.Import.RetryDelay)

	if d.mode == ModeDaemon {
		cronCfg := cron.Config{
			WatchDir:       d.Config.Import.WatchDir,
			ScanInterval:   d.Config.Import.ScanInterval,
			SchemaInterval: d.Config.Import.SchemaRefresh,
		}
		if d.Config.Import.DefaultUserID != nil {
			cronCfg.Owner = *d.Config.Import.DefaultUserID
		}
		d.Scheduler = cron.NewScheduler(cronCfg, d.ImportService, d.Handoff, d.Metrics, d.Logger).
			WithSchemaReloader(d.SchemaParser)
	}

	d.Logger.Info("services initialized",
		slog.String("ai_provider", d.Config.AIProvider()),
		slog.String("storage", d.Config.Storage.Backend))
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
