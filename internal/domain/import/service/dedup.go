package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
)

// Deduplicator reports whether a transaction with the same natural key
// (account, date, amount, description) is already stored. Matching is
// exact; there is no fuzzy or cross-account comparison.
type Deduplicator struct {
	repo repository.ImportRepository
}

func NewDeduplicator(repo repository.ImportRepository) *Deduplicator {
	return &Deduplicator{repo: repo}
}

func (d *Deduplicator) IsDuplicate(ctx context.Context, accountID uuid.UUID, date time.Time, amountCents int64, description string) (bool, error) {
	exists, err := d.repo.TransactionExists(ctx, accountID, date, amountCents, description)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return exists, nil
}
