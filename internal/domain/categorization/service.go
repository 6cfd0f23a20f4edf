// Package categorization assigns categories to imported transactions through
// the registered AI providers.
package categorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/familyfinance/internal/domain/import/service"
	"github.com/FACorreiaa/familyfinance/internal/metrics"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

const (
	// BatchSize is the number of transactions sent to a provider at once.
	BatchSize = 20
	// MaxWarnings is the number of batch failures quoted in the job message.
	MaxWarnings = 5
	// SingleConfidence is reported for single-transaction categorization.
	SingleConfidence = 0.8
	// WarningsPrefix starts the job message left by failed batches.
	WarningsPrefix = "Categorization warnings"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// JobStore reads and writes import jobs.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error)
	UpdateJob(ctx context.Context, job *repository.ImportJob) error
}

// Result is the categorization outcome of one transaction.
type Result struct {
	TransactionID      uuid.UUID
	CategoryName       string
	Confidence         float64
	MerchantNormalized string
}

// Summary reports a recategorization run.
type Summary struct {
	Categorized int
	Total       int
}

// JobSummary reports the categorize stage of an import job.
type JobSummary struct {
	JobID       uuid.UUID
	Skipped     bool
	Reason      string
	Categorized int
	Total       int
	Warnings    int
}

// Service handles transaction categorization logic
type Service struct {
	store    Store
	jobs     JobStore
	registry *plugin.Registry
	provider string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new categorization service
func NewService(store Store, jobs JobStore, registry *plugin.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		jobs:     jobs,
		registry: registry,
		provider: KeywordProviderName,
		logger:   logger,
		now:      time.Now,
	}
}

// WithDefaultProvider sets the provider used when callers pass no name.
func (s *Service) WithDefaultProvider(name string) *Service {
	if name != "" {
		s.provider = name
	}
	return s
}

// WithMetrics records batch outcomes.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) aiProvider(name string) (plugin.AIProvider, error) {
	if name == "" {
		name = s.provider
	}
	return s.registry.AIProvider(name)
}

// matchCategory resolves a provider answer to a stored category, exact name
// first and then ignoring case. It returns nil when nothing matches.
func matchCategory(ctx context.Context, store Store, name string) (*repository.Category, error) {
	cat, err := store.FindCategory(ctx, name)
	if err != nil || cat != nil {
		return cat, err
	}
	return store.FindCategoryFold(ctx, name)
}

// CategorizeOne asks the provider for one transaction and links the
// matching category. An answer that matches no category is returned as-is.
func (s *Service) CategorizeOne(ctx context.Context, txnID uuid.UUID, providerName string) (*Result, error) {
	provider, err := s.aiProvider(providerName)
	if err != nil {
		return nil, err
	}

	txns, err := s.store.Transactions(ctx, []uuid.UUID{txnID})
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txnID)
	}
	txn := txns[0]

	desc := txn.Description
	if txn.MerchantName != nil && *txn.MerchantName != "" {
		desc = *txn.MerchantName + " - " + desc
	}

	name, ok := provider.Categorize(ctx, desc)
	if !ok {
		name = plugin.UncategorizedName
	}

	cat, err := matchCategory(ctx, s.store, name)
	if err != nil {
		return nil, err
	}
	result := &Result{TransactionID: txn.ID, CategoryName: name, Confidence: SingleConfidence}
	if cat != nil {
		result.CategoryName = cat.Name
		if err := s.store.UpdateTransaction(ctx, txn.ID, &cat.ID, txn.MerchantName); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CategorizeBatch categorizes ids in one provider call and one database
// transaction. Unknown ids are dropped; the output follows the input order.
func (s *Service) CategorizeBatch(ctx context.Context, ids []uuid.UUID, providerName string) ([]Result, error) {
	if len(ids) == 0 {
		return []Result{}, nil
	}
	provider, err := s.aiProvider(providerName)
	if err != nil {
		return nil, err
	}

	var out []Result
	err = s.store.WithinTx(ctx, func(tx Store) error {
		found, err := tx.Transactions(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]Transaction, len(found))
		for _, t := range found {
			byID[t.ID] = t
		}

		ordered := make([]Transaction, 0, len(ids))
		items := make([]plugin.BatchItem, 0, len(ids))
		for _, id := range ids {
			t, ok := byID[id]
			if !ok {
				continue
			}
			ordered = append(ordered, t)
			items = append(items, plugin.BatchItem{
				Description:  t.Description,
				MerchantName: deref(t.MerchantName),
				AmountCents:  t.AmountCents,
			})
		}
		if len(ordered) == 0 {
			out = []Result{}
			return nil
		}

		answers := provider.CategorizeBatch(ctx, items)
		out = make([]Result, 0, len(ordered))
		for i, t := range ordered {
			answer := plugin.BatchResult{Category: plugin.UncategorizedName}
			if i < len(answers) {
				answer = answers[i]
			}

			res := Result{
				TransactionID:      t.ID,
				CategoryName:       answer.Category,
				Confidence:         answer.Confidence,
				MerchantNormalized: answer.MerchantNormalized,
			}

			categoryID := t.CategoryID
			cat, err := matchCategory(ctx, tx, answer.Category)
			if err != nil {
				return err
			}
			if cat != nil {
				categoryID = &cat.ID
				res.CategoryName = cat.Name
			}

			merchant := t.MerchantName
			if answer.MerchantNormalized != "" && deref(t.MerchantName) != "" {
				merchant = &answer.MerchantNormalized
			}

			if err := tx.UpdateTransaction(ctx, t.ID, categoryID, merchant); err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to categorize batch: %w", err)
	}
	return out, nil
}

// RecategorizeUncategorized runs every uncategorized transaction of owner
// through the provider in batches.
func (s *Service) RecategorizeUncategorized(ctx context.Context, owner uuid.UUID, providerName string) (Summary, error) {
	uncat, err := s.store.FindCategory(ctx, plugin.UncategorizedName)
	if err != nil || uncat == nil {
		return Summary{}, err
	}

	ids, err := s.store.UncategorizedByOwner(ctx, owner, uncat.ID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: len(ids)}
	for start := 0; start < len(ids); start += BatchSize {
		results, err := s.CategorizeBatch(ctx, ids[start:min(start+BatchSize, len(ids))], providerName)
		if err != nil {
			return summary, err
		}
		summary.Categorized += countCategorized(results)
	}

	s.logger.Info("recategorization finished",
		slog.String("user_id", owner.String()),
		slog.Int("categorized", summary.Categorized),
		slog.Int("total", summary.Total))
	return summary, nil
}

// CategorizeImportJob is the second pipeline stage. It is best-effort: batch
// failures become a warning on the job, which always ends COMPLETED.
func (s *Service) CategorizeImportJob(ctx context.Context, in importservice.ProcessResult) (summary *JobSummary, err error) {
	if in.Failed() {
		return &JobSummary{JobID: in.JobID, Skipped: true, Reason: "Import failed or missing"}, nil
	}

	ctx, span := s.metrics.StartSpan(ctx, "categorization.job", attribute.String("job_id", in.JobID.String()))
	defer func() { metrics.EndSpan(span, err) }()

	job, err := s.jobs.GetJob(ctx, in.JobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return &JobSummary{JobID: in.JobID, Skipped: true, Reason: "Job not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import job: %w", err)
	}

	uncat, err := s.store.FindCategory(ctx, plugin.UncategorizedName)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if uncat != nil {
		if ids, err = s.store.UncategorizedByJob(ctx, job.ID, uncat.ID); err != nil {
			return nil, err
		}
	}

	summary = &JobSummary{JobID: job.ID, Total: len(ids)}
	if len(ids) == 0 {
		return summary, s.completeJob(ctx, job.ID, nil)
	}

	if err := job.Transition(repository.StatusCategorizing); err != nil {
		return nil, err
	}
	job.UncategorizedRows = len(ids)
	job.CategorizedRows = 0
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job categorizing: %w", err)
	}

	var warnings []string
	for start, batch := 0, 1; start < len(ids); start, batch = start+BatchSize, batch+1 {
		chunk := ids[start:min(start+BatchSize, len(ids))]
		categorized, err := s.runJobBatch(ctx, job.ID, chunk, summary.Categorized)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Batch %d: %v", batch, err))
			s.metrics.CategorizationBatch(false, 0)
			s.logger.Warn("categorization batch failed",
				slog.Int("batch", batch),
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
			continue
		}
		s.metrics.CategorizationBatch(true, categorized)
		summary.Categorized += categorized
	}

	summary.Warnings = len(warnings)
	if err := s.completeJob(ctx, job.ID, warnings); err != nil {
		return summary, err
	}

	s.logger.Info("categorization completed",
		slog.String("job_id", job.ID.String()),
		slog.Int("categorized", summary.Categorized),
		slog.Int("total", summary.Total),
		slog.Int("warnings", summary.Warnings))
	return summary, nil
}

// runJobBatch categorizes one chunk and records the running total on the job.
func (s *Service) runJobBatch(ctx context.Context, jobID uuid.UUID, ids []uuid.UUID, before int) (int, error) {
	results, err := s.CategorizeBatch(ctx, ids, "")
	if err != nil {
		return 0, err
	}
	categorized := countCategorized(results)

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	job.CategorizedRows = before + categorized
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return 0, err
	}
	return categorized, nil
}

// completeJob moves the job to COMPLETED regardless of its current status.
// Warnings from an earlier run are replaced by this run's, or cleared when it
// had none.
func (s *Service) completeJob(ctx context.Context, jobID uuid.UUID, warnings []string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load import job: %w", err)
	}

	job.Status = repository.StatusCompleted
	job.Complete(s.now())
	if job.ErrorMessage != nil && strings.HasPrefix(*job.ErrorMessage, WarningsPrefix) {
		job.ErrorMessage = nil
	}
	if len(warnings) > 0 {
		quoted := warnings[:min(len(warnings), MaxWarnings)]
		job.SetError(fmt.Sprintf("%s (%d batches): %s", WarningsPrefix, len(warnings), strings.Join(quoted, "; ")))
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete import job: %w", err)
	}
	return nil
}

// Categories lists the stored categories.
func (s *Service) Categories(ctx context.Context) ([]repository.Category, error) {
	return s.store.ListCategories(ctx)
}

// SeedCategories creates the default category set, skipping existing names.
func (s *Service) SeedCategories(ctx context.Context) (int, error) {
	created, err := s.store.SeedCategories(ctx, plugin.Categories)
	if err != nil {
		return created, err
	}
	s.logger.Info("categories seeded", slog.Int("created", created))
	return created, nil
}

// Ask answers a question about recent transactions.
func (s *Service) Ask(ctx context.Context, owner *uuid.UUID, question, providerName string, limit int) (string, error) {
	provider, err := s.aiProvider(providerName)
	if err != nil {
		return "", err
	}
	records, err := s.store.ContextRecords(ctx, owner, limit)
	if err != nil {
		return "", err
	}
	return provider.Query(ctx, question, records), nil
}

// Summarize describes recent transactions.
func (s *Service) Summarize(ctx context.Context, owner *uuid.UUID, providerName string) (string, error) {
	provider, err := s.aiProvider(providerName)
	if err != nil {
		return "", err
	}
	records, err := s.store.ContextRecords(ctx, owner, plugin.MaxSummaryRecords)
	if err != nil {
		return "", err
	}
	return provider.Summarize(ctx, records), nil
}

func countCategorized(results []Result) int {
	n := 0
	for _, r := range results {
		if r.CategoryName != plugin.UncategorizedName {
			n++
		}
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
