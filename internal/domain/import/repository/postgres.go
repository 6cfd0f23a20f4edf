package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Queries implements ImportRepository over any Querier: a pool, a
// transaction or a mock.
type Queries struct {
	db Querier
}

// NewQueries binds the repository to q.
func NewQueries(q Querier) *Queries {
	return &Queries{db: q}
}

// PostgresStore is the autocommit repository backed by a pool.
type PostgresStore struct {
	*Queries
	pool Beginner
}

// NewPostgresStore creates a store over a pgx pool (or pgxmock pool).
func NewPostgresStore(pool Beginner) *PostgresStore {
	return &PostgresStore{Queries: NewQueries(pool), pool: pool}
}

// BeginSession starts a database transaction.
func (s *PostgresStore) BeginSession(ctx context.Context) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresSession{Queries: NewQueries(tx), tx: tx}, nil
}

type postgresSession struct {
	*Queries
	tx pgx.Tx
}

func (s *postgresSession) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

// Rollback is safe to call after Commit.
func (s *postgresSession) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// insertOrConflict runs an INSERT ... ON CONFLICT DO NOTHING RETURNING
// statement, reporting a skipped insert as ErrConflict.
func insertOrConflict(row pgx.Row, dest ...any) error {
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// FindInstitution looks up an institution by exact name
func (q *Queries) FindInstitution(ctx context.Context, name string) (*Institution, error) {
	query := `SELECT id, name, created_at FROM institutions WHERE name = $1`

	inst := &Institution{}
	err := q.db.QueryRow(ctx, query, name).Scan(&inst.ID, &inst.Name, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find institution: %w", err)
	}
	return inst, nil
}

// CreateInstitution inserts an institution, returning ErrConflict if the name exists
func (q *Queries) CreateInstitution(ctx context.Context, inst *Institution) error {
	query := `
		INSERT INTO institutions (id, name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING created_at`

	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	err := insertOrConflict(q.db.QueryRow(ctx, query, inst.ID, inst.Name), &inst.CreatedAt)
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("failed to create institution: %w", err)
	}
	return err
}

// FindAccount looks up an account by institution and name, narrowed by the
// last four digits only when last4 is non-empty. Without last4 the oldest
// matching account wins.
func (q *Queries) FindAccount(ctx context.Context, institutionID uuid.UUID, name, last4 string) (*Account, error) {
	query := `
		SELECT id, user_id, institution_id, name, account_type, account_number_last4, is_shared, balance_cents, created_at
		FROM accounts
		WHERE institution_id = $1 AND name = $2 AND ($3 = '' OR account_number_last4 = $3)
		ORDER BY created_at, id
		LIMIT 1`

	acct := &Account{}
	err := q.db.QueryRow(ctx, query, institutionID, name, last4).Scan(
		&acct.ID,
		&acct.UserID,
		&acct.InstitutionID,
		&acct.Name,
		&acct.AccountType,
		&acct.AccountNumberLast4,
		&acct.IsShared,
		&acct.BalanceCents,
		&acct.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acct, nil
}

// CreateAccount inserts an account, returning ErrConflict on a concurrent create
func (q *Queries) CreateAccount(ctx context.Context, acct *Account) error {
	query := `
		INSERT INTO accounts (id, user_id, institution_id, name, account_type, account_number_last4, is_shared, balance_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
		RETURNING created_at`

	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	err := insertOrConflict(q.db.QueryRow(ctx, query,
		acct.ID,
		acct.UserID,
		acct.InstitutionID,
		acct.Name,
		acct.AccountType,
		acct.AccountNumberLast4,
		acct.IsShared,
		acct.BalanceCents,
	), &acct.CreatedAt)
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return err
}

// FindCategory looks up a category by exact name
func (q *Queries) FindCategory(ctx context.Context, name string) (*Category, error) {
	query := `SELECT id, name, parent_id, icon, color, is_system, created_at FROM categories WHERE name = $1`

	cat := &Category{}
	err := q.db.QueryRow(ctx, query, name).Scan(
		&cat.ID, &cat.Name, &cat.ParentID, &cat.Icon, &cat.Color, &cat.IsSystem, &cat.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category: %w", err)
	}
	return cat, nil
}

// CreateCategory inserts a category, returning ErrConflict if the name exists
func (q *Queries) CreateCategory(ctx context.Context, cat *Category) error {
	query := `
		INSERT INTO categories (id, name, parent_id, icon, color, is_system)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING created_at`

	if cat.ID == uuid.Nil {
		cat.ID = uuid.New()
	}
	err := insertOrConflict(q.db.QueryRow(ctx, query,
		cat.ID, cat.Name, cat.ParentID, cat.Icon, cat.Color, cat.IsSystem,
	), &cat.CreatedAt)
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return err
}

// TransactionExists checks the dedup key (account, date, amount, description)
func (q *Queries) TransactionExists(ctx context.Context, accountID uuid.UUID, date time.Time, amountCents int64, description string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE account_id = $1 AND date = $2 AND amount_cents = $3 AND description = $4
		)`

	var exists bool
	if err := q.db.QueryRow(ctx, query, accountID, date, amountCents, description).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return exists, nil
}

// InsertTransaction stores a new transaction
func (q *Queries) InsertTransaction(ctx context.Context, txn *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, account_id, date, original_date, amount_cents, description, original_description,
			merchant_name, category_id, custom_name, note, is_transfer, is_tax_deductible, tags, import_job_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx, query,
		txn.ID,
		txn.AccountID,
		txn.Date,
		txn.OriginalDate,
		txn.AmountCents,
		txn.Description,
		txn.OriginalDescription,
		txn.MerchantName,
		txn.CategoryID,
		txn.CustomName,
		txn.Note,
		txn.IsTransfer,
		txn.IsTaxDeductible,
		txn.Tags,
		txn.ImportJobID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, filename, source_type, status, total_rows, processed_rows, imported_rows,
		duplicate_rows, categorized_rows, uncategorized_rows, error_message, task_handle, source, file_path,
		created_at, completed_at`

func scanJob(row pgx.Row) (*ImportJob, error) {
	job := &ImportJob{}
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Filename,
		&job.SourceType,
		&job.Status,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.ImportedRows,
		&job.DuplicateRows,
		&job.CategorizedRows,
		&job.UncategorizedRows,
		&job.ErrorMessage,
		&job.TaskHandle,
		&job.Source,
		&job.FilePath,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	return job, err
}

// CreateJob inserts a new import job
func (q *Queries) CreateJob(ctx context.Context, job *ImportJob) error {
	query := `
		INSERT INTO import_jobs (id, user_id, filename, source_type, status, total_rows, error_message, task_handle,
			source, file_path, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Source == "" {
		job.Source = SourceUpload
	}
	err := q.db.QueryRow(ctx, query,
		job.ID,
		job.UserID,
		job.Filename,
		job.SourceType,
		job.Status,
		job.TotalRows,
		job.ErrorMessage,
		job.TaskHandle,
		job.Source,
		job.FilePath,
		job.CompletedAt,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// GetJob retrieves an import job by ID
func (q *Queries) GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`

	job, err := scanJob(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

// UpdateJob writes every mutable job field
func (q *Queries) UpdateJob(ctx context.Context, job *ImportJob) error {
	query := `
		UPDATE import_jobs
		SET source_type = $2, status = $3, total_rows = $4, processed_rows = $5, imported_rows = $6,
			duplicate_rows = $7, categorized_rows = $8, uncategorized_rows = $9, error_message = $10,
			task_handle = $11, completed_at = $12
		WHERE id = $1`

	result, err := q.db.Exec(ctx, query,
		job.ID,
		job.SourceType,
		job.Status,
		job.TotalRows,
		job.ProcessedRows,
		job.ImportedRows,
		job.DuplicateRows,
		job.CategorizedRows,
		job.UncategorizedRows,
		job.ErrorMessage,
		job.TaskHandle,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// UpdateJobProgress records the processed row count checkpoint
func (q *Queries) UpdateJobProgress(ctx context.Context, id uuid.UUID, processedRows int) error {
	query := `UPDATE import_jobs SET processed_rows = $2 WHERE id = $1`

	if _, err := q.db.Exec(ctx, query, id, processedRows); err != nil {
		return fmt.Errorf("failed to update import progress: %w", err)
	}
	return nil
}

// ListJobs returns the newest jobs, optionally for one user
func (q *Queries) ListJobs(ctx context.Context, userID *uuid.UUID, limit int) ([]ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs`
	args := []any{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return q.listJobs(ctx, query, args...)
}

// ListJobsWithErrors returns the newest jobs that recorded an error message
func (q *Queries) ListJobsWithErrors(ctx context.Context, limit int) ([]ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs
		WHERE error_message IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1`

	return q.listJobs(ctx, query, limit)
}

// ListInterruptedJobs returns jobs whose import task never finished: pending
// or processing jobs, and failed jobs still waiting for a retry.
func (q *Queries) ListInterruptedJobs(ctx context.Context) ([]ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs
		WHERE status IN ('pending', 'processing')
		   OR (status = 'failed' AND error_message LIKE $1)
		ORDER BY created_at`

	return q.listJobs(ctx, query, RetryPendingPrefix+"%")
}

func (q *Queries) listJobs(ctx context.Context, query string, args ...any) ([]ImportJob, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// JobExists reports whether a file was already imported from source
func (q *Queries) JobExists(ctx context.Context, filename string, source Source) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM import_jobs WHERE filename = $1 AND source = $2)`

	var exists bool
	if err := q.db.QueryRow(ctx, query, filename, source).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check import job: %w", err)
	}
	return exists, nil
}
