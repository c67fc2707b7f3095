package openfinance

import (
	"context"

	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
)

// Repositories are the stores a unit of work hands to its callback.
type Repositories struct {
	Accounts     account.Repository
	Transactions transaction.Repository
}

// UnitOfWork runs fn so that its writes are applied together.
// When fn returns an error nothing it wrote is kept, where the store supports it.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
