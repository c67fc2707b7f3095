package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Create creates a new account
	Create(ctx context.Context, params CreateParams) (*Account, error)

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// FindByRemoteID finds the account an institution reports under remoteID.
	// Returns (nil, nil) when there is none.
	FindByRemoteID(ctx context.Context, institutionID, remoteID string) (*Account, error)

	// ListByInstitution retrieves all accounts linked to an institution
	ListByInstitution(ctx context.Context, institutionID string) ([]*Account, error)

	// ListByUserID retrieves every account of a user, manual ones included
	ListByUserID(ctx context.Context, userID string) ([]*Account, error)

	// UpdateBalances overwrites the balance fields and last-synced time
	UpdateBalances(ctx context.Context, id string, update BalanceUpdate) error

	// DetachInstitution clears the institution link and remote ID of every account
	// of an institution and returns the IDs of the detached accounts
	DetachInstitution(ctx context.Context, institutionID string) ([]string, error)
}
