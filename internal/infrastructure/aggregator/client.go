package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultPageSize   = 100
	defaultClientName = "finsync"

	linkTokenPath        = "/link/token/create"
	exchangePath         = "/item/public_token/exchange"
	accountsPath         = "/accounts/get"
	balancesPath         = "/accounts/balance/get"
	transactionsSyncPath = "/transactions/sync"
	itemPath             = "/item/get"
	itemRemovePath       = "/item/remove"
)

// Config holds the client settings.
type Config struct {
	BaseURL  string
	ClientID string
	Secret   string
	// Timeout bounds a single call, rate-limit wait excluded.
	Timeout time.Duration
	// RequestsPerSecond <= 0 disables outbound limiting.
	RequestsPerSecond float64
	Burst             int
	PageSize          int
	HTTPClient        *http.Client
}

// Client handles communication with the aggregator API
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	timeout    time.Duration
	pageSize   int
	limiter    *rate.Limiter
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregator API client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		clientID:   cfg.ClientID,
		secret:     cfg.Secret,
		timeout:    timeout,
		pageSize:   pageSize,
		limiter:    limiter,
	}
}

type credentials struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

type accessTokenRequest struct {
	credentials
	AccessToken string `json:"access_token"`
}

type linkTokenRequest struct {
	credentials
	ClientName string `json:"client_name"`
	User       struct {
		ClientUserID string `json:"client_user_id"`
	} `json:"user"`
	Products []string `json:"products"`
}

type exchangeRequest struct {
	credentials
	PublicToken string `json:"public_token"`
}

type syncRequest struct {
	credentials
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count"`
}

type itemResponse struct {
	Item      Item   `json:"item"`
	RequestID string `json:"request_id"`
}

func (c *Client) creds() credentials {
	return credentials{ClientID: c.clientID, Secret: c.secret}
}

// CreateLinkToken asks for a short-lived token a UI can use to start linking.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (*LinkToken, error) {
	req := linkTokenRequest{credentials: c.creds(), ClientName: defaultClientName, Products: []string{"transactions"}}
	req.User.ClientUserID = userID

	var out LinkToken
	if err := c.post(ctx, "create_link_token", linkTokenPath, req, &out); err != nil {
		return nil, err
	}
	if out.LinkToken == "" {
		return nil, &Error{Kind: KindDecodeError, Op: "create_link_token", Message: "missing link_token"}
	}
	return &out, nil
}

// ExchangePublicToken trades the token from a finished link flow for an access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error) {
	var out Exchange
	if err := c.post(ctx, "exchange_public_token", exchangePath, exchangeRequest{credentials: c.creds(), PublicToken: publicToken}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.ItemID == "" {
		return nil, &Error{Kind: KindDecodeError, Op: "exchange_public_token", Message: "missing access_token or item_id"}
	}
	return &out, nil
}

// GetAccounts lists the item's accounts with cached balances.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	return c.accounts(ctx, "get_accounts", accountsPath, accessToken)
}

// GetBalances lists the item's accounts with balances fetched live from the institution.
func (c *Client) GetBalances(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	return c.accounts(ctx, "get_balances", balancesPath, accessToken)
}

func (c *Client) accounts(ctx context.Context, op, path, accessToken string) (*AccountsResponse, error) {
	var out AccountsResponse
	if err := c.post(ctx, op, path, accessTokenRequest{credentials: c.creds(), AccessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	for _, a := range out.Accounts {
		if a.AccountID == "" {
			return nil, &Error{Kind: KindDecodeError, Op: op, Message: "account without account_id"}
		}
	}
	return &out, nil
}

// SyncTransactions fetches the next page of added, modified and removed transactions.
func (c *Client) SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncPage, error) {
	req := syncRequest{credentials: c.creds(), AccessToken: accessToken, Count: c.pageSize}
	if cursor != nil {
		req.Cursor = *cursor
	}

	var page SyncPage
	if err := c.post(ctx, "sync_transactions", transactionsSyncPath, req, &page); err != nil {
		return nil, err
	}
	if err := page.validate(); err != nil {
		return nil, &Error{Kind: KindDecodeError, Op: "sync_transactions", Err: err}
	}
	return &page, nil
}

// GetItemStatus returns the item, including any error that blocks refreshes.
func (c *Client) GetItemStatus(ctx context.Context, accessToken string) (*Item, error) {
	var out itemResponse
	if err := c.post(ctx, "get_item", itemPath, accessTokenRequest{credentials: c.creds(), AccessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// RemoveItem revokes the access token at the aggregator.
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	var out struct {
		RequestID string `json:"request_id"`
	}
	return c.post(ctx, "remove_item", itemRemovePath, accessTokenRequest{credentials: c.creds(), AccessToken: accessToken}, &out)
}

// post sends a JSON request and decodes a 200 response into out.
// Every failure comes back as *Error.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransientNetwork, Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransientNetwork, Op: op, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransientNetwork, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			return &Error{Kind: classify(resp.StatusCode, ""), Op: op, StatusCode: resp.StatusCode, Message: truncate(string(respBody), 200)}
		}
		return &Error{
			Kind:       classify(resp.StatusCode, errResp.ErrorCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Code:       errResp.ErrorCode,
			Message:    errResp.ErrorMessage,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindDecodeError, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
