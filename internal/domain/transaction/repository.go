package transaction

import (
	"context"
)

// Repository defines the interface for transaction data access
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	// FindByRemoteID returns (nil, nil) when no transaction carries the remote ID
	FindByRemoteID(ctx context.Context, remoteID string) (*Transaction, error)
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
	// UpdateSyncedFields overwrites only the aggregator-owned fields
	UpdateSyncedFields(ctx context.Context, id string, fields SyncedFields) error
	// UpdateUserFields persists the user-owned fields of t, including IsUserModified
	UpdateUserFields(ctx context.Context, t *Transaction) error
	Delete(ctx context.Context, id string) error
	// DetachAccounts clears the remote ID of every transaction on the given accounts
	DetachAccounts(ctx context.Context, accountIDs []string) error
}
