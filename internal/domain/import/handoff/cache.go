// Package handoff passes uploaded file bytes from the request path to the
// background import task. Entries have a bounded lifetime and are removed by
// the consumer once processing finishes, or by Sweep after they expire.
package handoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/pkg/storage"
)

const (
	keyPrefix  = "import_file:"
	DefaultTTL = time.Hour
)

var ErrMissing = errors.New("file content not found in hand-off cache")

// Cache stores job payloads in a storage backend with a TTL.
type Cache struct {
	store  storage.Storage
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a hand-off cache. A non-positive ttl uses DefaultTTL.
func New(store storage.Storage, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Key returns the cache key for a job.
func Key(jobID uuid.UUID) string {
	return keyPrefix + jobID.String()
}

// Put stores content for jobID until the TTL elapses.
func (c *Cache) Put(ctx context.Context, jobID uuid.UUID, filename string, content []byte) error {
	_, err := c.store.Put(ctx, Key(jobID), filename, "application/octet-stream", bytes.NewReader(content), c.now().Add(c.ttl))
	if err != nil {
		return fmt.Errorf("handoff put %s: %w", jobID, err)
	}
	return nil
}

// Get returns the content for jobID. Expired or absent entries yield ErrMissing.
func (c *Cache) Get(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	rc, info, err := c.store.Get(ctx, Key(jobID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("handoff get %s: %w", jobID, err)
	}
	defer rc.Close()

	if info.Expired(c.now()) {
		return nil, ErrMissing
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("handoff read %s: %w", jobID, err)
	}
	return data, nil
}

// Delete removes the entry for jobID.
func (c *Cache) Delete(ctx context.Context, jobID uuid.UUID) error {
	return c.store.Delete(ctx, Key(jobID))
}

// Sweep deletes expired entries and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	files, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("handoff sweep: %w", err)
	}

	now := c.now()
	removed := 0
	for _, f := range files {
		if !f.Expired(now) {
			continue
		}
		if err := c.store.Delete(ctx, f.Key); err != nil {
			c.logger.Warn("failed to delete expired hand-off entry",
				slog.String("key", f.Key),
				slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("swept expired hand-off entries", slog.Int("count", removed))
	}
	return removed, nil
}
