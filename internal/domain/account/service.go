package account

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ManualAccountParams describes an account the user keeps by hand.
type ManualAccountParams struct {
	UserID         string
	Name           string
	Type           Type
	CurrentBalance decimal.Decimal
	Currency       string
}

// CreateManualAccount creates an account that is not linked to any institution.
// Reconciliation never touches it.
func (s *Service) CreateManualAccount(ctx context.Context, params ManualAccountParams) (*Account, error) {
	create := CreateParams{
		ID:             uuid.NewString(),
		UserID:         params.UserID,
		Name:           strings.TrimSpace(params.Name),
		Type:           params.Type,
		CurrentBalance: params.CurrentBalance,
		Currency:       NormalizeCurrency(params.Currency),
	}
	if create.UserID == "" || create.Name == "" {
		return nil, ErrInvalidInput
	}
	if create.Type == "" {
		create.Type = TypeOther
	}

	if err := create.Validate(); err != nil {
		return nil, err
	}

	return s.repo.Create(ctx, create)
}

// GetAccount retrieves an account by ID, checking it belongs to userID
func (s *Service) GetAccount(ctx context.Context, id, userID string) (*Account, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	acc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if acc.UserID != userID {
		return nil, ErrForbidden
	}

	return acc, nil
}

// ListAccounts retrieves all accounts of a user
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]*Account, error) {
	return s.repo.ListByUserID(ctx, userID)
}
