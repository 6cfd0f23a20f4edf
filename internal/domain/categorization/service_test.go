package categorization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/familyfinance/internal/domain/import/service"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

type fakeStore struct {
	mu         sync.Mutex
	categories []repository.Category
	txns       map[uuid.UUID]*Transaction
	order      []uuid.UUID
	jobOf      map[uuid.UUID]uuid.UUID
	ownerOf    map[uuid.UUID]uuid.UUID
	loads      int
	failLoad   map[int]error // keyed by Transactions call number
	updates    int
}

func newFakeStore(names ...string) *fakeStore {
	s := &fakeStore{
		txns:     make(map[uuid.UUID]*Transaction),
		jobOf:    make(map[uuid.UUID]uuid.UUID),
		ownerOf:  make(map[uuid.UUID]uuid.UUID),
		failLoad: make(map[int]error),
	}
	for _, n := range names {
		s.categories = append(s.categories, repository.Category{ID: uuid.New(), Name: n})
	}
	return s
}

func (s *fakeStore) category(name string) *repository.Category {
	for i := range s.categories {
		if s.categories[i].Name == name {
			return &s.categories[i]
		}
	}
	return nil
}

func (s *fakeStore) add(job, owner uuid.UUID, description, merchant, category string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Transaction{ID: uuid.New(), Description: description, AmountCents: 1000}
	if merchant != "" {
		t.MerchantName = &merchant
	}
	if c := s.category(category); c != nil {
		t.CategoryID = &c.ID
	}
	s.txns[t.ID] = t
	s.order = append(s.order, t.ID)
	s.jobOf[t.ID] = job
	s.ownerOf[t.ID] = owner
	return t.ID
}

func (s *fakeStore) categoryOf(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.txns[id]
	if t.CategoryID == nil {
		return ""
	}
	for _, c := range s.categories {
		if c.ID == *t.CategoryID {
			return c.Name
		}
	}
	return ""
}

func (s *fakeStore) FindCategory(_ context.Context, name string) (*repository.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.category(name), nil
}

func (s *fakeStore) FindCategoryFold(_ context.Context, name string) (*repository.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.categories {
		if strings.EqualFold(s.categories[i].Name, name) {
			return &s.categories[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListCategories(context.Context) ([]repository.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.Category(nil), s.categories...), nil
}

func (s *fakeStore) SeedCategories(_ context.Context, names []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, n := range names {
		if s.category(n) == nil {
			s.categories = append(s.categories, repository.Category{ID: uuid.New(), Name: n, IsSystem: true})
			created++
		}
	}
	return created, nil
}

func (s *fakeStore) Transactions(_ context.Context, ids []uuid.UUID) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if err := s.failLoad[s.loads]; err != nil {
		return nil, err
	}
	var out []Transaction
	// Storage order, not request order.
	for _, id := range s.order {
		for _, want := range ids {
			if id == want {
				out = append(out, *s.txns[id])
			}
		}
	}
	return out, nil
}

func (s *fakeStore) uncategorized(match func(uuid.UUID) bool, uncategorizedID uuid.UUID) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, id := range s.order {
		t := s.txns[id]
		if match(id) && t.CategoryID != nil && *t.CategoryID == uncategorizedID {
			out = append(out, id)
		}
	}
	return out
}

func (s *fakeStore) UncategorizedByJob(_ context.Context, jobID, uncategorizedID uuid.UUID) ([]uuid.UUID, error) {
	return s.uncategorized(func(id uuid.UUID) bool { return s.jobOf[id] == jobID }, uncategorizedID), nil
}

func (s *fakeStore) UncategorizedByOwner(_ context.Context, owner, uncategorizedID uuid.UUID) ([]uuid.UUID, error) {
	return s.uncategorized(func(id uuid.UUID) bool { return s.ownerOf[id] == owner }, uncategorizedID), nil
}

func (s *fakeStore) UpdateTransaction(_ context.Context, id uuid.UUID, categoryID *uuid.UUID, merchantName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return errors.New("no such transaction")
	}
	t.CategoryID = categoryID
	t.MerchantName = merchantName
	s.updates++
	return nil
}

func (s *fakeStore) ContextRecords(_ context.Context, _ *uuid.UUID, limit int) ([]plugin.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []plugin.ContextRecord
	for _, id := range s.order {
		if len(out) == limit {
			break
		}
		t := s.txns[id]
		out = append(out, plugin.ContextRecord{Description: t.Description, AmountCents: t.AmountCents})
	}
	return out, nil
}

func (s *fakeStore) WithinTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]repository.ImportJob
}

func newFakeJobs(jobs ...repository.ImportJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[uuid.UUID]repository.ImportJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) GetJob(_ context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &j, nil
}

func (f *fakeJobs) UpdateJob(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeJobs) get(id uuid.UUID) repository.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

// scriptedProvider answers from a description -> category table.
type scriptedProvider struct {
	mu         sync.Mutex
	answers    map[string]string
	normalized string
	short      bool // answer one item less than asked
	descs      []string
	batchSizes []int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Categorize(_ context.Context, description string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descs = append(p.descs, description)
	c, ok := p.answers[description]
	return c, ok
}

func (p *scriptedProvider) CategorizeBatch(_ context.Context, items []plugin.BatchItem) []plugin.BatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchSizes = append(p.batchSizes, len(items))
	out := plugin.UncategorizedResults(len(items))
	for i, it := range items {
		if c, ok := p.answers[it.Description]; ok {
			out[i] = plugin.BatchResult{Category: c, Confidence: 0.95, MerchantNormalized: p.normalized}
		}
	}
	if p.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out
}

func (p *scriptedProvider) Query(context.Context, string, []plugin.ContextRecord) string {
	return "answer"
}

func (p *scriptedProvider) NormalizeMerchant(_ context.Context, raw string) string { return raw }

func (p *scriptedProvider) Summarize(_ context.Context, records []plugin.ContextRecord) string {
	return fmt.Sprintf("%d records", len(records))
}

func newTestService(t *testing.T, store *fakeStore, jobs *fakeJobs, provider *scriptedProvider) *Service {
	t.Helper()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(plugin.KindAI, provider))
	svc := NewService(store, jobs, r, quietLogger()).WithDefaultProvider(provider.Name())
	svc.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestService_CategorizeBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps input order and drops unknown ids", func(t *testing.T) {
		store := newFakeStore("Groceries", "Shopping", plugin.UncategorizedName)
		a := store.add(uuid.Nil, uuid.Nil, "WHOLE FOODS", "WFM", plugin.UncategorizedName)
		b := store.add(uuid.Nil, uuid.Nil, "TARGET", "", plugin.UncategorizedName)
		provider := &scriptedProvider{
			answers:    map[string]string{"WHOLE FOODS": "groceries", "TARGET": "Shopping"},
			normalized: "Whole Foods",
		}
		svc := newTestService(t, store, newFakeJobs(), provider)

		results, err := svc.CategorizeBatch(ctx, []uuid.UUID{b, uuid.New(), a}, "")
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, b, results[0].TransactionID)
		assert.Equal(t, "Shopping", results[0].CategoryName)
		assert.Equal(t, a, results[1].TransactionID)
		assert.Equal(t, "Groceries", results[1].CategoryName, "case-insensitive match returns the stored name")
		assert.Equal(t, 0.95, results[1].Confidence)

		assert.Equal(t, "Groceries", store.categoryOf(a))
		assert.Equal(t, "Whole Foods", *store.txns[a].MerchantName)
		assert.Nil(t, store.txns[b].MerchantName, "merchant only replaced when present")
		assert.Equal(t, []int{2}, provider.batchSizes)
	})

	t.Run("empty input", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), newFakeJobs(), &scriptedProvider{})
		results, err := svc.CategorizeBatch(ctx, nil, "")
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.NotNil(t, results)
	})

	t.Run("unknown category name keeps the link", func(t *testing.T) {
		store := newFakeStore(plugin.UncategorizedName)
		id := store.add(uuid.Nil, uuid.Nil, "PARKING", "", plugin.UncategorizedName)
		svc := newTestService(t, store, newFakeJobs(), &scriptedProvider{answers: map[string]string{"PARKING": "Parking Lots"}})

		results, err := svc.CategorizeBatch(ctx, []uuid.UUID{id}, "")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Parking Lots", results[0].CategoryName)
		assert.Equal(t, plugin.UncategorizedName, store.categoryOf(id))
	})

	t.Run("missing provider answers become uncategorized", func(t *testing.T) {
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		a := store.add(uuid.Nil, uuid.Nil, "TARGET", "", plugin.UncategorizedName)
		b := store.add(uuid.Nil, uuid.Nil, "TARGET", "", plugin.UncategorizedName)
		svc := newTestService(t, store, newFakeJobs(), &scriptedProvider{
			answers: map[string]string{"TARGET": "Shopping"},
			short:   true,
		})

		results, err := svc.CategorizeBatch(ctx, []uuid.UUID{a, b}, "")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "Shopping", results[0].CategoryName)
		assert.Equal(t, plugin.UncategorizedName, results[1].CategoryName)
		assert.Zero(t, results[1].Confidence)
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), newFakeJobs(), &scriptedProvider{})
		_, err := svc.CategorizeBatch(ctx, []uuid.UUID{uuid.New()}, "nope")
		assert.ErrorIs(t, err, plugin.ErrNotRegistered)
	})
}

func TestService_CategorizeOne(t *testing.T) {
	ctx := context.Background()

	t.Run("prefixes the merchant and links the category", func(t *testing.T) {
		store := newFakeStore("Dining & Drinks", plugin.UncategorizedName)
		id := store.add(uuid.Nil, uuid.Nil, "STORE 00421", "Starbucks", plugin.UncategorizedName)
		provider := &scriptedProvider{answers: map[string]string{"Starbucks - STORE 00421": "Dining & Drinks"}}
		svc := newTestService(t, store, newFakeJobs(), provider)

		res, err := svc.CategorizeOne(ctx, id, "")
		require.NoError(t, err)
		assert.Equal(t, "Dining & Drinks", res.CategoryName)
		assert.Equal(t, SingleConfidence, res.Confidence)
		assert.Equal(t, []string{"Starbucks - STORE 00421"}, provider.descs)
		assert.Equal(t, "Dining & Drinks", store.categoryOf(id))
	})

	t.Run("no answer falls back to uncategorized", func(t *testing.T) {
		store := newFakeStore(plugin.UncategorizedName, "Shopping")
		id := store.add(uuid.Nil, uuid.Nil, "MYSTERY", "", "Shopping")
		svc := newTestService(t, store, newFakeJobs(), &scriptedProvider{})

		res, err := svc.CategorizeOne(ctx, id, "")
		require.NoError(t, err)
		assert.Equal(t, plugin.UncategorizedName, res.CategoryName)
		assert.Equal(t, plugin.UncategorizedName, store.categoryOf(id))
	})

	t.Run("missing transaction", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), newFakeJobs(), &scriptedProvider{})
		_, err := svc.CategorizeOne(ctx, uuid.New(), "")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

func TestService_RecategorizeUncategorized(t *testing.T) {
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	store := newFakeStore("Shopping", plugin.UncategorizedName)
	for i := 0; i < 45; i++ {
		desc := "TARGET"
		if i%3 == 0 {
			desc = "UNKNOWN"
		}
		store.add(uuid.Nil, owner, desc, "", plugin.UncategorizedName)
	}
	store.add(uuid.Nil, other, "TARGET", "", plugin.UncategorizedName)

	provider := &scriptedProvider{answers: map[string]string{"TARGET": "Shopping"}}
	svc := newTestService(t, store, newFakeJobs(), provider)

	summary, err := svc.RecategorizeUncategorized(ctx, owner, "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Categorized: 30, Total: 45}, summary)
	assert.Equal(t, []int{20, 20, 5}, provider.batchSizes)

	t.Run("without the uncategorized category", func(t *testing.T) {
		svc := newTestService(t, newFakeStore("Shopping"), newFakeJobs(), &scriptedProvider{})
		summary, err := svc.RecategorizeUncategorized(ctx, owner, "")
		require.NoError(t, err)
		assert.Equal(t, Summary{}, summary)
	})
}

func completedJob() repository.ImportJob {
	return repository.ImportJob{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Filename:     "rocket.csv",
		Status:       repository.StatusCompleted,
		ImportedRows: 45,
		TotalRows:    45,
	}
}

func TestService_CategorizeImportJob(t *testing.T) {
	ctx := context.Background()

	t.Run("skips failed imports", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		svc := newTestService(t, newFakeStore(), jobs, &scriptedProvider{})

		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusFailed})
		require.NoError(t, err)
		assert.True(t, summary.Skipped)
		assert.Equal(t, "Import failed or missing", summary.Reason)
		assert.Equal(t, job, jobs.get(job.ID))
	})

	t.Run("skips missing jobs", func(t *testing.T) {
		svc := newTestService(t, newFakeStore(), newFakeJobs(), &scriptedProvider{})
		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: uuid.New(), Status: repository.StatusCompleted})
		require.NoError(t, err)
		assert.True(t, summary.Skipped)
		assert.Equal(t, "Job not found", summary.Reason)
	})

	t.Run("completes when nothing is uncategorized", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		store.add(job.ID, job.UserID, "TARGET", "", "Shopping")
		provider := &scriptedProvider{}
		svc := newTestService(t, store, jobs, provider)

		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Total)

		got := jobs.get(job.ID)
		assert.Equal(t, repository.StatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.Nil(t, got.ErrorMessage)
		assert.Empty(t, provider.batchSizes)
	})

	t.Run("completes without an uncategorized category", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		svc := newTestService(t, newFakeStore("Shopping"), jobs, &scriptedProvider{})

		_, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, jobs.get(job.ID).Status)
	})

	t.Run("categorizes in batches and records progress", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		for i := 0; i < 45; i++ {
			store.add(job.ID, job.UserID, "TARGET", "", plugin.UncategorizedName)
		}
		store.add(uuid.New(), job.UserID, "TARGET", "", plugin.UncategorizedName)
		provider := &scriptedProvider{answers: map[string]string{"TARGET": "Shopping"}}
		svc := newTestService(t, store, jobs, provider)

		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusCompleted, Imported: 45, Total: 45})
		require.NoError(t, err)
		assert.Equal(t, &JobSummary{JobID: job.ID, Categorized: 45, Total: 45}, summary)
		assert.Equal(t, []int{20, 20, 5}, provider.batchSizes)

		got := jobs.get(job.ID)
		assert.Equal(t, repository.StatusCompleted, got.Status)
		assert.Equal(t, 45, got.UncategorizedRows)
		assert.Equal(t, 45, got.CategorizedRows)
		assert.Nil(t, got.ErrorMessage)
		require.NotNil(t, got.CompletedAt)
		assert.Equal(t, svc.now(), *got.CompletedAt)
	})

	t.Run("batch failures become warnings", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		for i := 0; i < 45; i++ {
			store.add(job.ID, job.UserID, "TARGET", "", plugin.UncategorizedName)
		}
		store.failLoad[2] = errors.New("provider timeout")
		svc := newTestService(t, store, jobs, &scriptedProvider{answers: map[string]string{"TARGET": "Shopping"}})

		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, 25, summary.Categorized)
		assert.Equal(t, 1, summary.Warnings)

		got := jobs.get(job.ID)
		assert.Equal(t, repository.StatusCompleted, got.Status)
		assert.Equal(t, 25, got.CategorizedRows)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "Categorization warnings (1 batches): Batch 2: failed to categorize batch: provider timeout", *got.ErrorMessage)
	})

	t.Run("quotes only the first five warnings", func(t *testing.T) {
		job := completedJob()
		jobs := newFakeJobs(job)
		store := newFakeStore(plugin.UncategorizedName)
		for i := 0; i < 7*BatchSize; i++ {
			store.add(job.ID, job.UserID, "X", "", plugin.UncategorizedName)
		}
		for n := 1; n <= 7; n++ {
			store.failLoad[n] = fmt.Errorf("boom %d", n)
		}
		svc := newTestService(t, store, jobs, &scriptedProvider{})

		summary, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, 7, summary.Warnings)

		msg := *jobs.get(job.ID).ErrorMessage
		assert.True(t, strings.HasPrefix(msg, "Categorization warnings (7 batches): Batch 1: "), msg)
		assert.Contains(t, msg, "Batch 5: ")
		assert.NotContains(t, msg, "Batch 6: ")
		assert.Equal(t, 4, strings.Count(msg, "; "))
		assert.Equal(t, repository.StatusCompleted, jobs.get(job.ID).Status)
	})

	t.Run("retry from partially failed", func(t *testing.T) {
		job := completedJob()
		job.Status = repository.StatusPartiallyFailed
		jobs := newFakeJobs(job)
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		store.add(job.ID, job.UserID, "TARGET", "", plugin.UncategorizedName)
		svc := newTestService(t, store, jobs, &scriptedProvider{answers: map[string]string{"TARGET": "Shopping"}})

		_, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusPartiallyFailed})
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, jobs.get(job.ID).Status)
		assert.Equal(t, 1, jobs.get(job.ID).CategorizedRows)
	})

	t.Run("successful retry clears earlier warnings", func(t *testing.T) {
		job := completedJob()
		job.Status = repository.StatusPartiallyFailed
		job.SetError(WarningsPrefix + " (1 batches): batch 1: provider timeout")
		jobs := newFakeJobs(job)
		store := newFakeStore("Shopping", plugin.UncategorizedName)
		store.add(job.ID, job.UserID, "TARGET", "", plugin.UncategorizedName)
		svc := newTestService(t, store, jobs, &scriptedProvider{answers: map[string]string{"TARGET": "Shopping"}})

		_, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusPartiallyFailed})
		require.NoError(t, err)
		got := jobs.get(job.ID)
		assert.Equal(t, repository.StatusCompleted, got.Status)
		assert.Nil(t, got.ErrorMessage)
	})

	t.Run("unrelated job messages survive a retry", func(t *testing.T) {
		job := completedJob()
		job.Status = repository.StatusPartiallyFailed
		job.SetError(importservice.ForceCompleteMarker)
		jobs := newFakeJobs(job)
		svc := newTestService(t, newFakeStore("Shopping", plugin.UncategorizedName), jobs, &scriptedProvider{})

		_, err := svc.CategorizeImportJob(ctx, importservice.ProcessResult{JobID: job.ID, Status: repository.StatusPartiallyFailed})
		require.NoError(t, err)
		got := jobs.get(job.ID)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, importservice.ForceCompleteMarker, *got.ErrorMessage)
	})
}

func TestService_SeedAndAsk(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(plugin.UncategorizedName)
	store.add(uuid.Nil, uuid.Nil, "TARGET", "", plugin.UncategorizedName)
	svc := newTestService(t, store, newFakeJobs(), &scriptedProvider{})

	created, err := svc.SeedCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(plugin.Categories)-1, created)

	created, err = svc.SeedCategories(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, len(plugin.Categories))

	answer, err := svc.Ask(ctx, nil, "anything", "", 10)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer)

	summary, err := svc.Summarize(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "1 records", summary)
}
