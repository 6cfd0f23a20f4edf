package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

// Resolver looks up or creates the reference entities a row points at.
// Results are memoized for one import run and must not outlive it.
type Resolver struct {
	repo         repository.ImportRepository
	owner        *uuid.UUID
	institutions map[string]*repository.Institution
	accounts     map[string]*repository.Account
	categories   map[string]*repository.Category
}

// NewResolver creates a resolver writing through repo. Accounts it creates
// are owned by owner when non-nil.
func NewResolver(repo repository.ImportRepository, owner *uuid.UUID) *Resolver {
	return &Resolver{
		repo:         repo,
		owner:        owner,
		institutions: make(map[string]*repository.Institution),
		accounts:     make(map[string]*repository.Account),
		categories:   make(map[string]*repository.Category),
	}
}

// Institution returns the institution named name, creating it if absent.
func (r *Resolver) Institution(ctx context.Context, name string) (*repository.Institution, error) {
	if inst, ok := r.institutions[name]; ok {
		return inst, nil
	}

	inst, err := r.repo.FindInstitution(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find institution %q: %w", name, err)
	}
	if inst == nil {
		inst = &repository.Institution{ID: uuid.New(), Name: name}
		if err := r.repo.CreateInstitution(ctx, inst); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("failed to create institution %q: %w", name, err)
			}
			// Lost the race to a concurrent import.
			if inst, err = r.repo.FindInstitution(ctx, name); err != nil || inst == nil {
				return nil, fmt.Errorf("failed to re-read institution %q after conflict: %w", name, errOrMissing(err))
			}
		}
	}

	r.institutions[name] = inst
	return inst, nil
}

// Account returns the account identified by (institution, name, last4),
// creating it with the type decoded from typeCode if absent.
func (r *Resolver) Account(ctx context.Context, inst *repository.Institution, name, typeCode, last4 string) (*repository.Account, error) {
	key := inst.Name + "|" + name + "|" + last4
	if acct, ok := r.accounts[key]; ok {
		return acct, nil
	}

	acct, err := r.repo.FindAccount(ctx, inst.ID, name, last4)
	if err != nil {
		return nil, fmt.Errorf("failed to find account %q: %w", name, err)
	}
	if acct == nil {
		acct = &repository.Account{
			ID:            uuid.New(),
			UserID:        r.owner,
			InstitutionID: inst.ID,
			Name:          name,
			AccountType:   repository.ParseAccountType(typeCode),
		}
		if last4 != "" {
			acct.AccountNumberLast4 = &last4
		}
		if err := r.repo.CreateAccount(ctx, acct); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("failed to create account %q: %w", name, err)
			}
			if acct, err = r.repo.FindAccount(ctx, inst.ID, name, last4); err != nil || acct == nil {
				return nil, fmt.Errorf("failed to re-read account %q after conflict: %w", name, errOrMissing(err))
			}
		}
	}

	r.accounts[key] = acct
	return acct, nil
}

// Category returns the category named name, creating it as a system
// category if absent. An empty name resolves to Uncategorized.
func (r *Resolver) Category(ctx context.Context, name string) (*repository.Category, error) {
	if name == "" {
		name = plugin.UncategorizedName
	}
	if cat, ok := r.categories[name]; ok {
		return cat, nil
	}

	cat, err := r.repo.FindCategory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find category %q: %w", name, err)
	}
	if cat == nil {
		cat = &repository.Category{ID: uuid.New(), Name: name, IsSystem: true}
		if err := r.repo.CreateCategory(ctx, cat); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("failed to create category %q: %w", name, err)
			}
			if cat, err = r.repo.FindCategory(ctx, name); err != nil || cat == nil {
				return nil, fmt.Errorf("failed to re-read category %q after conflict: %w", name, errOrMissing(err))
			}
		}
	}

	r.categories[name] = cat
	return cat, nil
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("row not visible")
}
