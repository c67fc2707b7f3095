package openfinance

import (
	"context"

	"finsync/internal/domain/institution"
)

// CursorStore persists the per-institution pagination cursor and sync status.
type CursorStore interface {
	// Cursor returns the last committed cursor, nil when the institution was never synced.
	Cursor(ctx context.Context, institutionID string) (*string, error)

	// Commit stores cursor as the institution's resume point.
	// Only called after the page that produced it has been applied.
	Commit(ctx context.Context, institutionID, cursor string) error

	// Reset clears the cursor so the next pass starts from the beginning of history.
	Reset(ctx context.Context, institutionID string) error

	// SetStatus records a sync state transition.
	SetStatus(ctx context.Context, institutionID string, update institution.StatusUpdate) error
}
