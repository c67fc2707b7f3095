package institution

import (
	"context"
	"time"
)

// Repository defines the interface for linked institution data access.
// Cursor and status persistence are part of openfinance.CursorStore.
type Repository interface {
	// Create creates a new linked institution in the idle state with a nil cursor
	Create(ctx context.Context, params CreateParams) (*LinkedInstitution, error)

	// GetByID retrieves an institution by its local ID
	GetByID(ctx context.Context, id string) (*LinkedInstitution, error)

	// FindByItemID returns (nil, nil) when no institution has the item ID
	FindByItemID(ctx context.Context, itemID string) (*LinkedInstitution, error)

	// ListByUserID retrieves all institutions for a user, disconnected ones included
	ListByUserID(ctx context.Context, userID string) ([]*LinkedInstitution, error)

	// ListLinked retrieves every institution with a non-empty credential reference
	ListLinked(ctx context.Context) ([]*LinkedInstitution, error)

	// Reactivate attaches a fresh credential reference and clears error and disconnect state
	Reactivate(ctx context.Context, id, credentialRef string) (*LinkedInstitution, error)

	// MarkDisconnected clears the credential reference and records the disconnect time
	MarkDisconnected(ctx context.Context, id string, at time.Time) error
}
