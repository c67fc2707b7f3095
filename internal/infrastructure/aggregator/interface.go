package aggregator

import (
	"context"
)

// ClientInterface defines the methods required from the aggregator API client.
// accessToken is the per-item credential kept in the vault.
type ClientInterface interface {
	CreateLinkToken(ctx context.Context, userID string) (*LinkToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error)
	GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error)
	GetBalances(ctx context.Context, accessToken string) (*AccountsResponse, error)
	// SyncTransactions returns the page after cursor. A nil cursor starts from the beginning of history.
	SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncPage, error)
	GetItemStatus(ctx context.Context, accessToken string) (*Item, error)
	RemoveItem(ctx context.Context, accessToken string) error
}
