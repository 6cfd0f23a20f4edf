package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
)

// WatchExtensions lists the file types picked up from the watch directory.
var WatchExtensions = map[string]bool{
	".csv":  true,
	".ofx":  true,
	".qfx":  true,
	".tsv":  true,
	".xlsx": true,
}

// ScanResult reports one directory scan.
type ScanResult struct {
	Dispatched []string
	Skipped    bool
	Reason     string
}

// ScanDirectory creates a pending watch job for every supported file in dir
// that was not imported from the watch source before, and enqueues its
// pipeline. Files are read by the worker straight from disk.
func (s *ImportService) ScanDirectory(ctx context.Context, dir string, owner uuid.UUID) (*ScanResult, error) {
	if owner == uuid.Nil {
		return &ScanResult{Skipped: true, Reason: "IMPORT_DEFAULT_USER_ID not configured"}, nil
	}
	if s.dispatcher == nil {
		return nil, ErrNoPipeline
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return &ScanResult{Skipped: true, Reason: fmt.Sprintf("Watch directory %s does not exist", dir)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watch directory: %w", err)
	}

	result := &ScanResult{}
	for _, entry := range entries {
		if entry.IsDir() || !WatchExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		seen, err := s.store.JobExists(ctx, entry.Name(), repository.SourceWatch)
		if err != nil {
			return result, err
		}
		if seen {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		job := &repository.ImportJob{
			ID:         uuid.New(),
			UserID:     owner,
			Filename:   entry.Name(),
			SourceType: UnknownSourceType,
			Status:     repository.StatusPending,
			Source:     repository.SourceWatch,
			FilePath:   &path,
		}
		task := s.newPipelineTask(job.ID, path)
		job.TaskHandle = &task.ID

		if err := s.store.CreateJob(ctx, job); err != nil {
			return result, fmt.Errorf("failed to create watch job: %w", err)
		}
		if _, err := s.dispatcher.Publish(ctx, task); err != nil {
			return result, s.abortSubmit(ctx, job, err)
		}

		result.Dispatched = append(result.Dispatched, entry.Name())
		s.logger.Info("dispatched import for watched file",
			slog.String("filename", entry.Name()),
			slog.String("job_id", job.ID.String()))
	}
	return result, nil
}
