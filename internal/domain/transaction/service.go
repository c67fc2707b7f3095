package transaction

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service handles the user-facing side of transactions.
type Service struct {
	repo Repository
}

// NewService creates a new transaction service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns one transaction.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// ListByAccount returns a page of an account's transactions, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error) {
	if accountID == "" || offset < 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.repo.ListByAccountID(ctx, accountID, limit, offset)
}

// UpdateUserFields applies a user edit. The transaction is flagged as user
// modified so later syncs can be told apart from local edits.
func (s *Service) UpdateUserFields(ctx context.Context, id string, update UserFieldsUpdate) (*Transaction, error) {
	if id == "" || update.IsEmpty() {
		return nil, ErrInvalidInput
	}

	txn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	update.Apply(txn)

	if err := s.repo.UpdateUserFields(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return txn, nil
}
