package openfinance_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/account"
	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
	"finsync/internal/infrastructure/memory"
)

// fakeClient serves scripted responses keyed by access token and cursor.
type fakeClient struct {
	mu sync.Mutex

	accounts map[string][]aggregator.Account
	pages    map[string]*aggregator.SyncPage
	errs     map[string]error
	items    map[string]*aggregator.Item
	exchange map[string]*aggregator.Exchange

	onBalances func(ctx context.Context, token string)
	onSync     func(ctx context.Context, token string, cursor *string)

	removed   []string
	syncCalls []string
}

var _ aggregator.ClientInterface = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		accounts: make(map[string][]aggregator.Account),
		pages:    make(map[string]*aggregator.SyncPage),
		errs:     make(map[string]error),
		items:    make(map[string]*aggregator.Item),
		exchange: make(map[string]*aggregator.Exchange),
	}
}

func pageKey(token string, cursor *string) string {
	if cursor == nil {
		return token + "|"
	}
	return token + "|" + *cursor
}

func (f *fakeClient) setPage(token, cursor string, page *aggregator.SyncPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c *string
	if cursor != "" {
		c = &cursor
	}
	f.pages[pageKey(token, c)] = page
}

func (f *fakeClient) setErr(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, key)
		return
	}
	f.errs[key] = err
}

func (f *fakeClient) setAccounts(token string, accounts ...aggregator.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[token] = accounts
}

func (f *fakeClient) CreateLinkToken(ctx context.Context, userID string) (*aggregator.LinkToken, error) {
	return &aggregator.LinkToken{LinkToken: "link-" + userID}, nil
}

func (f *fakeClient) ExchangePublicToken(ctx context.Context, publicToken string) (*aggregator.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["exchange:"+publicToken]; err != nil {
		return nil, err
	}
	ex, ok := f.exchange[publicToken]
	if !ok {
		return nil, &aggregator.Error{Kind: aggregator.KindInvalidCredential, Op: "exchange_public_token", Code: "INVALID_PUBLIC_TOKEN"}
	}
	return ex, nil
}

func (f *fakeClient) GetAccounts(ctx context.Context, token string) (*aggregator.AccountsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["accounts:"+token]; err != nil {
		return nil, err
	}
	return &aggregator.AccountsResponse{Accounts: f.accounts[token], Item: aggregator.Item{InstitutionName: "First Bank"}}, nil
}

func (f *fakeClient) GetBalances(ctx context.Context, token string) (*aggregator.AccountsResponse, error) {
	f.mu.Lock()
	hook := f.onBalances
	err := f.errs["balances:"+token]
	accounts := f.accounts[token]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, token)
	}
	if err != nil {
		return nil, err
	}
	return &aggregator.AccountsResponse{Accounts: accounts}, nil
}

func (f *fakeClient) SyncTransactions(ctx context.Context, token string, cursor *string) (*aggregator.SyncPage, error) {
	key := pageKey(token, cursor)

	f.mu.Lock()
	hook := f.onSync
	err := f.errs["sync:"+key]
	page := f.pages[key]
	f.syncCalls = append(f.syncCalls, key)
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, token, cursor)
	}
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, &aggregator.Error{Kind: aggregator.KindUnknown, Op: "sync_transactions", Message: "no page scripted for " + key}
	}
	return page, nil
}

func (f *fakeClient) GetItemStatus(ctx context.Context, token string) (*aggregator.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["item:"+token]; err != nil {
		return nil, err
	}
	if item, ok := f.items[token]; ok {
		return item, nil
	}
	return &aggregator.Item{ItemID: "item"}, nil
}

func (f *fakeClient) RemoveItem(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, token)
	return f.errs["remove:"+token]
}

// notifier records relink notifications.
type notifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *notifier) NotifyRelinkRequired(ctx context.Context, inst *institution.LinkedInstitution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, inst.ID)
	return nil
}

func (n *notifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type env struct {
	store    *memory.Store
	vault    *memory.Vault
	client   *fakeClient
	notifier *notifier
	deps     openfinance.Deps
	orch     *openfinance.Orchestrator
	link     *openfinance.LinkService
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newEnv(t *testing.T, opts openfinance.Options) *env {
	t.Helper()
	store := memory.NewStore()
	e := &env{
		store:    store,
		vault:    memory.NewVault(),
		client:   newFakeClient(),
		notifier: &notifier{},
	}
	e.deps = openfinance.Deps{
		Client:       e.client,
		Institutions: store.Institutions(),
		Accounts:     store.Accounts(),
		Transactions: store.Transactions(),
		Cursors:      store,
		UnitOfWork:   store,
		Vault:        e.vault,
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = e.notifier
	}
	e.orch = openfinance.NewOrchestrator(e.deps, opts)
	e.link = openfinance.NewLinkService(e.orch)
	return e
}

// linkInstitution creates a linked institution whose access token is "token-<id>".
func (e *env) linkInstitution(t *testing.T, id string) *institution.LinkedInstitution {
	t.Helper()
	ref := institution.CredentialRefForItem("item-" + id)
	inst, err := e.store.Institutions().Create(context.Background(), institution.CreateParams{
		ID:            id,
		ItemID:        "item-" + id,
		UserID:        "user-1",
		CredentialRef: ref,
	})
	require.NoError(t, err)
	require.NoError(t, e.vault.Set(context.Background(), ref, []byte("token-"+id)))
	return inst
}

func (e *env) institution(t *testing.T, id string) *institution.LinkedInstitution {
	t.Helper()
	inst, err := e.store.Institutions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (e *env) seedAccount(t *testing.T, instID, remoteID string) *account.Account {
	t.Helper()
	acc, err := e.store.Accounts().Create(context.Background(), account.CreateParams{
		ID:            "local-" + remoteID,
		UserID:        "user-1",
		InstitutionID: &instID,
		RemoteID:      &remoteID,
		Name:          "Checking",
		Type:          account.TypeChecking,
		Currency:      "USD",
	})
	require.NoError(t, err)
	return acc
}

// transactionsOf returns every transaction of the institution's accounts, sorted by remote ID.
func (e *env) transactionsOf(t *testing.T, instID string) []*transaction.Transaction {
	t.Helper()
	ctx := context.Background()
	accounts, err := e.store.Accounts().ListByInstitution(ctx, instID)
	require.NoError(t, err)

	var out []*transaction.Transaction
	for _, acc := range accounts {
		txns, err := e.store.Transactions().ListByAccountID(ctx, acc.ID, 0, 0)
		require.NoError(t, err)
		out = append(out, txns...)
	}
	sort.Slice(out, func(i, j int) bool { return remoteID(out[i]) < remoteID(out[j]) })
	return out
}

func remoteID(t *transaction.Transaction) string {
	if t.RemoteID == nil {
		return ""
	}
	return *t.RemoteID
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func remoteAccount(id, current string) aggregator.Account {
	acc := aggregator.Account{AccountID: id, Name: "Checking " + id, Type: "depository", Subtype: "checking"}
	if current != "" {
		acc.Balances.Current = decPtr(current)
	}
	return acc
}

func remoteTx(id, accountID, amount string) aggregator.Transaction {
	return aggregator.Transaction{
		TransactionID: id,
		AccountID:     accountID,
		Amount:        dec(amount),
		DateString:    "2024-05-01",
		Name:          "Purchase " + id,
	}
}

func removed(ids ...string) []aggregator.RemovedTransaction {
	out := make([]aggregator.RemovedTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, aggregator.RemovedTransaction{TransactionID: id})
	}
	return out
}
