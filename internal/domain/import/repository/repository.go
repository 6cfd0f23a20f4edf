// Package repository provides database operations for the import pipeline:
// reference data (institutions, accounts, categories), transactions and
// import jobs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict is returned when a create lost a race on a unique key.
	ErrConflict          = errors.New("unique constraint conflict")
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid import job status transition")
)

// MaxErrorMessageLen bounds ImportJob.ErrorMessage.
const MaxErrorMessageLen = 1000

// RetryPendingPrefix marks a failed job whose import task will run again.
const RetryPendingPrefix = "Retry pending: "

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	StatusPending         JobStatus = "pending"
	StatusProcessing      JobStatus = "processing"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"
	StatusCategorizing    JobStatus = "categorizing"
	StatusPartiallyFailed JobStatus = "partially_failed"
)

var transitions = map[JobStatus][]JobStatus{
	StatusPending:         {StatusProcessing, StatusFailed},
	StatusProcessing:      {StatusCompleted, StatusFailed},
	StatusFailed:          {StatusProcessing},
	StatusCompleted:       {StatusCategorizing},
	StatusCategorizing:    {StatusCompleted, StatusPartiallyFailed},
	StatusPartiallyFailed: {StatusCategorizing},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether pollers should stop watching a job in this status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartiallyFailed
}

// Source records how a file entered the system.
type Source string

const (
	SourceUpload Source = "upload"
	SourceWatch  Source = "watch"
)

// AccountType enumerates the stored account kinds.
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
	AccountBrokerage  AccountType = "brokerage"
	AccountRetirement AccountType = "retirement"
	AccountCrypto     AccountType = "crypto"
	AccountHSA        AccountType = "hsa"
	AccountLoan       AccountType = "loan"
	AccountMortgage   AccountType = "mortgage"
	AccountCash       AccountType = "cash"
)

// ParseAccountType maps a parser code to an AccountType, defaulting to checking.
func ParseAccountType(code string) AccountType {
	switch t := AccountType(code); t {
	case AccountChecking, AccountSavings, AccountCreditCard, AccountBrokerage, AccountRetirement,
		AccountCrypto, AccountHSA, AccountLoan, AccountMortgage, AccountCash:
		return t
	}
	return AccountChecking
}

// Institution is a bank or card issuer, unique by name.
type Institution struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Account is unique by (institution, name, last4).
type Account struct {
	ID                 uuid.UUID
	UserID             *uuid.UUID
	InstitutionID      uuid.UUID
	Name               string
	AccountType        AccountType
	AccountNumberLast4 *string
	IsShared           bool
	BalanceCents       int64
	CreatedAt          time.Time
}

// Category is unique by name. ParentID is nil for top-level categories.
type Category struct {
	ID        uuid.UUID
	Name      string
	ParentID  *uuid.UUID
	Icon      *string
	Color     *string
	IsSystem  bool
	CreatedAt time.Time
}

// Transaction is a persisted ledger line.
type Transaction struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	Date                time.Time
	OriginalDate        *time.Time
	AmountCents         int64
	Description         string
	OriginalDescription *string
	MerchantName        *string
	CategoryID          *uuid.UUID
	CustomName          *string
	Note                *string
	IsTransfer          bool
	IsTaxDeductible     bool
	Tags                []string
	ImportJobID         *uuid.UUID
	CreatedAt           time.Time
}

// ImportJob tracks one file through parsing and categorization.
type ImportJob struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Filename          string
	SourceType        string
	Status            JobStatus
	TotalRows         int
	ProcessedRows     int
	ImportedRows      int
	DuplicateRows     int
	CategorizedRows   int
	UncategorizedRows int
	ErrorMessage      *string
	TaskHandle        *string
	Source            Source
	FilePath          *string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// Transition moves the job to status, enforcing the allowed transitions.
func (j *ImportJob) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// SetError stores msg truncated to MaxErrorMessageLen characters.
func (j *ImportJob) SetError(msg string) {
	msg = Truncate(msg, MaxErrorMessageLen)
	j.ErrorMessage = &msg
}

// RetryPending reports whether the job failed with another attempt scheduled.
func (j *ImportJob) RetryPending() bool {
	return j.Status == StatusFailed && j.ErrorMessage != nil && strings.HasPrefix(*j.ErrorMessage, RetryPendingPrefix)
}

// Complete marks the job finished now.
func (j *ImportJob) Complete(now time.Time) {
	j.CompletedAt = &now
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Querier is the subset of pgx shared by pools, transactions and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner can open a transaction.
type Beginner interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ImportRepository defines the persistence operations used by the pipeline.
// Find methods return nil, nil when nothing matches.
type ImportRepository interface {
	FindInstitution(ctx context.Context, name string) (*Institution, error)
	CreateInstitution(ctx context.Context, inst *Institution) error
	FindAccount(ctx context.Context, institutionID uuid.UUID, name, last4 string) (*Account, error)
	CreateAccount(ctx context.Context, acct *Account) error
	FindCategory(ctx context.Context, name string) (*Category, error)
	CreateCategory(ctx context.Context, cat *Category) error

	TransactionExists(ctx context.Context, accountID uuid.UUID, date time.Time, amountCents int64, description string) (bool, error)
	InsertTransaction(ctx context.Context, txn *Transaction) error

	CreateJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	UpdateJob(ctx context.Context, job *ImportJob) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, processedRows int) error
	ListJobs(ctx context.Context, userID *uuid.UUID, limit int) ([]ImportJob, error)
	ListJobsWithErrors(ctx context.Context, limit int) ([]ImportJob, error)
	JobExists(ctx context.Context, filename string, source Source) (bool, error)
	ListInterruptedJobs(ctx context.Context) ([]ImportJob, error)
}

// Session is a unit of work. Nothing written through it is visible to
// others until Commit; Rollback discards everything.
type Session interface {
	ImportRepository
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SessionStore is the autocommit repository that can also open sessions.
type SessionStore interface {
	ImportRepository
	BeginSession(ctx context.Context) (Session, error)
}
