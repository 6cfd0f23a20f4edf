package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/handoff"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
	"github.com/FACorreiaa/familyfinance/internal/worker"
	"github.com/FACorreiaa/familyfinance/pkg/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func loadSample(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../parser/testdata/sample_rocket_money.csv")
	require.NoError(t, err)
	return data
}

func newTestService(t *testing.T, parsers ...plugin.FileParser) (*ImportService, *memStore, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry()
	if len(parsers) == 0 {
		parsers = []plugin.FileParser{parser.NewRocketMoneyParser()}
	}
	for _, p := range parsers {
		require.NoError(t, reg.Register(plugin.KindParser, p))
	}
	store := newMemStore()
	svc := NewImportService(store, reg, quietLogger).WithRetryPolicy(2, 0)
	return svc, store, reg
}

func withPipeline(t *testing.T, svc *ImportService) *handoff.Cache {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cache := handoff.New(local, time.Hour, quietLogger)
	svc.WithHandoff(cache).WithDispatcher(worker.Inline{})
	return cache
}

func row(date string, cents int64, desc string) plugin.RawRow {
	return plugin.RawRow{
		Date:            date,
		AmountCents:     cents,
		Description:     desc,
		InstitutionName: "Test Bank",
		AccountName:     "Checking",
		AccountType:     "checking",
		CategoryName:    "Groceries",
	}
}

func TestImportService_Run(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	t.Run("imports then deduplicates a re-upload", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		content := loadSample(t)

		job, err := svc.Run(ctx, owner, "rocket.csv", content)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, job.Status)
		assert.Equal(t, parser.RocketMoneyName, job.SourceType)
		assert.Equal(t, 8, job.TotalRows)
		assert.Equal(t, 8, job.ImportedRows)
		assert.Equal(t, 0, job.DuplicateRows)
		assert.Equal(t, 8, job.ProcessedRows)
		assert.NotNil(t, job.CompletedAt)

		again, err := svc.Run(ctx, owner, "rocket.csv", content)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, again.Status)
		assert.Equal(t, 0, again.ImportedRows)
		assert.Equal(t, 8, again.DuplicateRows)

		txns := store.transactions()
		require.Len(t, txns, 8)
		for _, txn := range txns {
			require.NotNil(t, txn.ImportJobID)
			assert.Equal(t, job.ID, *txn.ImportJobID)
		}
		assert.Equal(t, 2, store.institutionCount())
	})

	t.Run("transfer rows are flagged", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		_, err := svc.Run(ctx, owner, "rocket.csv", loadSample(t))
		require.NoError(t, err)

		transfers := map[string]bool{}
		for _, txn := range store.transactions() {
			transfers[txn.Description] = txn.IsTransfer
		}
		assert.True(t, transfers["TRANSFER TO SAVINGS"])
		assert.True(t, transfers["CITI CARD PAYMENT"])
		assert.False(t, transfers["NETFLIX.COM"])
	})

	t.Run("no parser fails the job without parsing", func(t *testing.T) {
		svc, store, _ := newTestService(t)

		job, err := svc.Run(ctx, owner, "notes.txt", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, job.Status)
		assert.Equal(t, UnknownSourceType, job.SourceType)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, NoParserMessage, *job.ErrorMessage)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, stored.Status)
	})

	t.Run("invalid date rolls back everything", func(t *testing.T) {
		stub := &stubParser{name: "stub", suffix: ".stub", rows: []plugin.RawRow{
			row("2024-01-01", 100, "ok"),
			row("01/02/2024", 200, "bad"),
		}}
		svc, store, _ := newTestService(t, stub)

		job, err := svc.Run(ctx, owner, "file.stub", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, job.Status)
		assert.Equal(t, 0, job.ImportedRows)
		require.NotNil(t, job.ErrorMessage)
		assert.Contains(t, *job.ErrorMessage, "row 2")
		assert.Contains(t, *job.ErrorMessage, "invalid date")

		assert.Empty(t, store.transactions())
		assert.Equal(t, 0, store.institutionCount())

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, stored.Status)
	})

	t.Run("error message is truncated", func(t *testing.T) {
		long := make([]byte, 3000)
		for i := range long {
			long[i] = 'x'
		}
		stub := &stubParser{name: "stub", suffix: ".stub", err: errors.New(string(long))}
		svc, _, _ := newTestService(t, stub)

		job, err := svc.Run(ctx, owner, "file.stub", []byte("x"))
		require.NoError(t, err)
		require.NotNil(t, job.ErrorMessage)
		assert.Len(t, *job.ErrorMessage, repository.MaxErrorMessageLen)
	})

	t.Run("institution race is resolved by re-lookup", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		store.hooks.raceInstitution = "Chase"

		job, err := svc.Run(ctx, owner, "rocket.csv", loadSample(t))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, job.Status)
		assert.Equal(t, 8, job.ImportedRows)
		assert.Equal(t, 2, store.institutionCount())
	})

	t.Run("identical rows in one file count as duplicates", func(t *testing.T) {
		stub := &stubParser{name: "stub", suffix: ".stub", rows: []plugin.RawRow{
			row("2024-01-01", 100, "COFFEE"),
			row("2024-01-01", 100, "COFFEE"),
		}}
		svc, _, _ := newTestService(t, stub)

		job, err := svc.Run(ctx, owner, "file.stub", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, 1, job.ImportedRows)
		assert.Equal(t, 1, job.DuplicateRows)
	})
}

func TestImportService_Process(t *testing.T) {
	ctx := context.Background()

	pendingJob := func(t *testing.T, store *memStore, filename string) uuid.UUID {
		t.Helper()
		job := &repository.ImportJob{
			ID:         uuid.New(),
			UserID:     uuid.New(),
			Filename:   filename,
			SourceType: UnknownSourceType,
			Status:     repository.StatusPending,
			Source:     repository.SourceUpload,
		}
		require.NoError(t, store.CreateJob(ctx, job))
		return job.ID
	}

	t.Run("checkpoints every 100 rows", func(t *testing.T) {
		rows := make([]plugin.RawRow, 250)
		for i := range rows {
			rows[i] = row("2024-03-01", int64(i+1), fmt.Sprintf("ROW %d", i))
		}
		stub := &stubParser{name: "stub", suffix: ".stub", rows: rows}
		svc, store, _ := newTestService(t, stub)
		id := pendingJob(t, store, "big.stub")

		job, err := svc.Process(ctx, id, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, job.Status)
		assert.Equal(t, []int{100, 200}, store.hooks.progress)
		assert.Equal(t, 250, job.ProcessedRows)
		assert.Len(t, store.transactions(), 250)
	})

	t.Run("infrastructure failure is retryable and rolls back", func(t *testing.T) {
		rows := []plugin.RawRow{row("2024-01-01", 1, "A"), row("2024-01-02", 2, "B")}
		stub := &stubParser{name: "stub", suffix: ".stub", rows: rows}
		svc, store, _ := newTestService(t, stub)
		store.hooks.failInsertAfter = 1
		id := pendingJob(t, store, "f.stub")

		job, err := svc.Process(ctx, id, []byte("x"))
		require.Error(t, err)
		require.NotNil(t, job)
		assert.Equal(t, repository.StatusFailed, job.Status)
		assert.Empty(t, store.transactions())

		stored, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, stored.Status)
		assert.Contains(t, *stored.ErrorMessage, "connection reset")
	})

	t.Run("data failure is not retryable", func(t *testing.T) {
		stub := &stubParser{name: "stub", suffix: ".stub", rows: []plugin.RawRow{row("yesterday", 1, "A")}}
		svc, store, _ := newTestService(t, stub)
		id := pendingJob(t, store, "f.stub")

		job, err := svc.Process(ctx, id, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, job.Status)
	})

	t.Run("failed job can be reprocessed", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		id := pendingJob(t, store, "rocket.csv")
		store.hooks.failInsertAfter = 3

		_, err := svc.Process(ctx, id, loadSample(t))
		require.Error(t, err)

		store.hooks.failInsertAfter = 0
		job, err := svc.Process(ctx, id, loadSample(t))
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, job.Status)
		assert.Equal(t, 8, job.ImportedRows)
		assert.Nil(t, job.ErrorMessage)
	})

	t.Run("missing job", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Process(ctx, uuid.New(), loadSample(t))
		assert.ErrorIs(t, err, repository.ErrJobNotFound)
	})
}

func TestImportService_Submit(t *testing.T) {
	ctx := context.Background()
	owner := uuid.New()

	t.Run("runs both stages in order", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		cache := withPipeline(t, svc)
		cat := &recordingCategorizer{}
		svc.WithCategorizer(cat)

		job, err := svc.Submit(ctx, owner, "rocket.csv", loadSample(t))
		require.NoError(t, err)
		require.NotNil(t, job.TaskHandle)
		assert.Equal(t, repository.SourceUpload, job.Source)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, stored.Status)
		assert.Equal(t, 8, stored.ImportedRows)
		assert.Equal(t, *job.TaskHandle, *stored.TaskHandle)

		calls := cat.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, ProcessResult{
			JobID:    job.ID,
			Status:   repository.StatusCompleted,
			Imported: 8,
			Total:    8,
		}, calls[0])

		_, err = cache.Get(ctx, job.ID)
		assert.ErrorIs(t, err, handoff.ErrMissing)
	})

	t.Run("empty file", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		withPipeline(t, svc)
		_, err := svc.Submit(ctx, owner, "rocket.csv", nil)
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("no parser after failed inference persists nothing", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		withPipeline(t, svc)
		inferrer := &stubInferrer{err: errors.New("model unavailable")}
		svc.WithSchemaInferrer(inferrer)

		_, err := svc.Submit(ctx, owner, "mystery.dat", []byte("a|b|c"))
		assert.ErrorIs(t, err, ErrNoParser)
		assert.Equal(t, 1, inferrer.calls)

		jobs, err := store.ListJobs(ctx, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("inferred schema is used on the same upload", func(t *testing.T) {
		svc, store, reg := newTestService(t)
		withPipeline(t, svc)
		learned := &stubParser{name: "schema_based", suffix: ".dat", rows: []plugin.RawRow{row("2024-05-01", 900, "LEARNED")}}
		inferrer := &stubInferrer{onOK: func() {
			require.NoError(t, reg.Register(plugin.KindParser, learned))
		}}
		svc.WithSchemaInferrer(inferrer)

		job, err := svc.Submit(ctx, owner, "mystery.dat", []byte("a|b|c"))
		require.NoError(t, err)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "schema_based", stored.SourceType)
		assert.Equal(t, 1, stored.ImportedRows)
	})

	t.Run("requires a pipeline", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Submit(ctx, owner, "rocket.csv", loadSample(t))
		assert.ErrorIs(t, err, ErrNoPipeline)
	})
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("exhausted retries fail the job and skip categorization", func(t *testing.T) {
		svc, store, reg := newTestService(t)
		withPipeline(t, svc)
		cat := &recordingCategorizer{}
		notifier := &recordingNotifier{}
		require.NoError(t, reg.Register(plugin.KindNotification, notifier))
		svc.WithCategorizer(cat)
		store.hooks.failBegin = errors.New("too many connections")

		job, err := svc.Submit(ctx, uuid.New(), "rocket.csv", loadSample(t))
		require.NoError(t, err)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, stored.Status)
		assert.Contains(t, *stored.ErrorMessage, "too many connections")
		assert.Empty(t, cat.calls())
		assert.Equal(t, []string{"Import failed: rocket.csv"}, notifier.subjects)
	})

	t.Run("missing hand-off content fails without retry", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		withPipeline(t, svc)
		job := &repository.ImportJob{ID: uuid.New(), UserID: uuid.New(), Filename: "gone.csv", Status: repository.StatusPending}
		require.NoError(t, store.CreateJob(ctx, job))

		result, err := svc.processStage(ctx, job.ID, "")
		require.NoError(t, err)
		assert.True(t, result.Failed())
		assert.Equal(t, MissingContentMessage, result.Error)
	})

	t.Run("categorization failure keeps the import", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		withPipeline(t, svc)
		svc.WithCategorizer(&recordingCategorizer{err: errors.New("provider down")})

		job, err := svc.Submit(ctx, uuid.New(), "rocket.csv", loadSample(t))
		require.NoError(t, err)

		stored, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, stored.Status)
	})
}

func TestImportService_JobOperations(t *testing.T) {
	ctx := context.Background()

	create := func(t *testing.T, store *memStore, status repository.JobStatus, msg string) uuid.UUID {
		t.Helper()
		job := &repository.ImportJob{ID: uuid.New(), UserID: uuid.New(), Filename: "x.csv", Status: status}
		if msg != "" {
			job.ErrorMessage = &msg
		}
		require.NoError(t, store.CreateJob(ctx, job))
		return job.ID
	}

	t.Run("force complete appends marker", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		id := create(t, store, repository.StatusCategorizing, "Batch 1: timeout")

		job, err := svc.ForceComplete(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCompleted, job.Status)
		assert.NotNil(t, job.CompletedAt)
		assert.Equal(t, "Batch 1: timeout "+ForceCompleteMarker, *job.ErrorMessage)
	})

	t.Run("force complete without previous error", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		id := create(t, store, repository.StatusProcessing, "")

		job, err := svc.ForceComplete(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ForceCompleteMarker, *job.ErrorMessage)
	})

	t.Run("retry categorize checks status", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		cat := &recordingCategorizer{}
		svc.WithCategorizer(cat)

		processing := create(t, store, repository.StatusProcessing, "")
		_, err := svc.RetryCategorize(ctx, processing)
		assert.ErrorIs(t, err, ErrNotRetryable)

		partial := create(t, store, repository.StatusPartiallyFailed, "")
		_, err = svc.RetryCategorize(ctx, partial)
		require.NoError(t, err)
		require.Len(t, cat.calls(), 1)
		assert.Equal(t, repository.StatusPartiallyFailed, cat.calls()[0].Status)
	})

	t.Run("watch progress stops at terminal status", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		id := create(t, store, repository.StatusCompleted, "")

		var seen []repository.ImportJob
		for job := range svc.WatchProgress(ctx, id, time.Millisecond) {
			seen = append(seen, job)
		}
		require.Len(t, seen, 1)
		assert.Equal(t, repository.StatusCompleted, seen[0].Status)
	})

	t.Run("watch progress follows a running job", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		id := create(t, store, repository.StatusProcessing, "")

		updates := svc.WatchProgress(ctx, id, 5*time.Millisecond)
		first := <-updates
		assert.Equal(t, repository.StatusProcessing, first.Status)

		first.Status = repository.StatusFailed
		require.NoError(t, store.UpdateJob(ctx, &first))

		var last repository.ImportJob
		for job := range updates {
			last = job
		}
		assert.Equal(t, repository.StatusFailed, last.Status)
	})

	t.Run("history and errors", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		create(t, store, repository.StatusCompleted, "")
		create(t, store, repository.StatusFailed, "boom")

		jobs, err := svc.History(ctx, nil, 0)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)

		failed, err := svc.ListErrors(ctx, 0)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "boom", *failed[0].ErrorMessage)
	})
}

func TestImportService_ScanDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jan.csv"), loadSample(t), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	svc, store, _ := newTestService(t)
	withPipeline(t, svc)
	owner := uuid.New()

	t.Run("skips without default user", func(t *testing.T) {
		res, err := svc.ScanDirectory(ctx, dir, uuid.Nil)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	})

	t.Run("skips missing directory", func(t *testing.T) {
		res, err := svc.ScanDirectory(ctx, filepath.Join(dir, "nope"), owner)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	})

	t.Run("dispatches new files once", func(t *testing.T) {
		res, err := svc.ScanDirectory(ctx, dir, owner)
		require.NoError(t, err)
		assert.Equal(t, []string{"jan.csv"}, res.Dispatched)

		jobs, err := store.ListJobs(ctx, &owner, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, repository.SourceWatch, jobs[0].Source)
		assert.Equal(t, repository.StatusCompleted, jobs[0].Status)
		assert.Equal(t, 8, jobs[0].ImportedRows)

		res, err = svc.ScanDirectory(ctx, dir, owner)
		require.NoError(t, err)
		assert.Empty(t, res.Dispatched)
	})
}
