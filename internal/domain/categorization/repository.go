package categorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

// Transaction is the part of a ledger line categorization reads and writes.
type Transaction struct {
	ID           uuid.UUID
	Description  string
	MerchantName *string
	AmountCents  int64
	CategoryID   *uuid.UUID
}

// Store is the persistence surface of the categorization service.
type Store interface {
	// FindCategory and FindCategoryFold return nil, nil when nothing matches.
	FindCategory(ctx context.Context, name string) (*repository.Category, error)
	FindCategoryFold(ctx context.Context, name string) (*repository.Category, error)
	ListCategories(ctx context.Context) ([]repository.Category, error)
	SeedCategories(ctx context.Context, names []string) (int, error)

	Transactions(ctx context.Context, ids []uuid.UUID) ([]Transaction, error)
	UncategorizedByJob(ctx context.Context, jobID, uncategorizedID uuid.UUID) ([]uuid.UUID, error)
	UncategorizedByOwner(ctx context.Context, owner, uncategorizedID uuid.UUID) ([]uuid.UUID, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, merchantName *string) error
	ContextRecords(ctx context.Context, owner *uuid.UUID, limit int) ([]plugin.ContextRecord, error)

	// WithinTx runs fn on a store bound to one transaction.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// Repository handles database operations for categorization
type Repository struct {
	db repository.Beginner
}

// NewRepository creates a new categorization repository
func NewRepository(db repository.Beginner) *Repository {
	return &Repository{db: db}
}

// WithinTx runs fn inside a transaction, committing when it returns nil.
func (r *Repository) WithinTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

const categoryColumns = `id, name, parent_id, icon, color, is_system, created_at`

func scanCategory(row pgx.Row) (*repository.Category, error) {
	var c repository.Category
	err := row.Scan(&c.ID, &c.Name, &c.ParentID, &c.Icon, &c.Color, &c.IsSystem, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCategory looks a category up by exact name.
func (r *Repository) FindCategory(ctx context.Context, name string) (*repository.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE name = $1`
	c, err := scanCategory(r.db.QueryRow(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return c, nil
}

// FindCategoryFold looks a category up ignoring case.
func (r *Repository) FindCategoryFold(ctx context.Context, name string) (*repository.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE lower(name) = lower($1) ORDER BY created_at LIMIT 1`
	c, err := scanCategory(r.db.QueryRow(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return c, nil
}

// ListCategories returns every category ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]repository.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []repository.Category
	for rows.Next() {
		var c repository.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.Icon, &c.Color, &c.IsSystem, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SeedCategories inserts the missing names as system categories and returns
// how many were created.
func (r *Repository) SeedCategories(ctx context.Context, names []string) (int, error) {
	query := `
		INSERT INTO categories (id, name, is_system)
		VALUES ($1, $2, true)
		ON CONFLICT (name) DO NOTHING
	`
	created := 0
	for _, name := range names {
		tag, err := r.db.Exec(ctx, query, uuid.New(), name)
		if err != nil {
			return created, fmt.Errorf("failed to seed category %q: %w", name, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// Transactions loads the given ids. Unknown ids are absent from the result.
func (r *Repository) Transactions(ctx context.Context, ids []uuid.UUID) ([]Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, description, merchant_name, amount_cents, category_id
		FROM transactions
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Description, &t.MerchantName, &t.AmountCents, &t.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UncategorizedByJob returns the ids of the job's transactions still in the
// uncategorized category.
func (r *Repository) UncategorizedByJob(ctx context.Context, jobID, uncategorizedID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM transactions
		WHERE import_job_id = $1 AND category_id = $2
		ORDER BY date, id
	`
	return r.ids(ctx, query, jobID, uncategorizedID)
}

// UncategorizedByOwner returns the ids of the owner's uncategorized transactions.
func (r *Repository) UncategorizedByOwner(ctx context.Context, owner, uncategorizedID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT t.id FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = $1 AND t.category_id = $2
		ORDER BY t.date, t.id
	`
	return r.ids(ctx, query, owner, uncategorizedID)
}

func (r *Repository) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateTransaction stores the category link and merchant name.
func (r *Repository) UpdateTransaction(ctx context.Context, id uuid.UUID, categoryID *uuid.UUID, merchantName *string) error {
	query := `
		UPDATE transactions
		SET category_id = $2, merchant_name = $3, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, categoryID, merchantName); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// ContextRecords returns the most recent transactions as provider context,
// restricted to owner's accounts when owner is set.
func (r *Repository) ContextRecords(ctx context.Context, owner *uuid.UUID, limit int) ([]plugin.ContextRecord, error) {
	query := `
		SELECT to_char(t.date, 'YYYY-MM-DD'), t.description, coalesce(t.merchant_name, ''),
			coalesce(c.name, ''), t.amount_cents
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE ($1::uuid IS NULL OR a.user_id = $1)
		ORDER BY t.date DESC, t.id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load context records: %w", err)
	}
	defer rows.Close()

	var out []plugin.ContextRecord
	for rows.Next() {
		var rec plugin.ContextRecord
		if err := rows.Scan(&rec.Date, &rec.Description, &rec.MerchantName, &rec.Category, &rec.AmountCents); err != nil {
			return nil, fmt.Errorf("failed to scan context record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
