package openfinance_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/aggregator"
)

// scriptTwoPages sets up the two-page feed used by several tests:
// page 1 adds tx1 and tx2, page 2 changes tx1's amount and removes tx2.
func scriptTwoPages(e *env, instID string) {
	token := "token-" + instID
	e.client.setAccounts(token, remoteAccount("r-chk", "100.00"))
	e.client.setPage(token, "", &aggregator.SyncPage{
		Added:      []aggregator.Transaction{remoteTx("tx1", "r-chk", "12.50"), remoteTx("tx2", "r-chk", "3.00")},
		NextCursor: "C1",
		HasMore:    true,
	})
	e.client.setPage(token, "C1", &aggregator.SyncPage{
		Modified:   []aggregator.Transaction{remoteTx("tx1", "r-chk", "15.00")},
		Removed:    removed("tx2"),
		NextCursor: "C2",
		HasMore:    false,
	})
}

func TestRunFullSync_TwoPageScenario(t *testing.T) {
	ctx := context.Background()

	// Stop after the first page to look at the intermediate state.
	first := newEnv(t, openfinance.Options{MaxPagesPerPass: 1})
	first.linkInstitution(t, "inst-1")
	scriptTwoPages(first, "inst-1")

	_, err := first.orch.RunFullSync(ctx)
	require.NoError(t, err)

	txns := first.transactionsOf(t, "inst-1")
	require.Len(t, txns, 2)
	assert.True(t, txns[0].Amount.Equal(dec("-12.50")), "outflow is stored negative")
	inst := first.institution(t, "inst-1")
	require.NotNil(t, inst.Cursor)
	assert.Equal(t, "C1", *inst.Cursor)

	// Full run from scratch.
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	require.Len(t, pass.Institutions, 1)
	assert.Equal(t, 1, pass.Succeeded)

	res := pass.Institutions[0]
	assert.Equal(t, string(institution.StatusIdle), res.Status)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Transactions.Created)
	assert.Equal(t, 1, res.Transactions.Updated)
	assert.Equal(t, 1, res.Transactions.Deleted)
	require.NotNil(t, res.Balances)
	assert.Equal(t, 1, res.Balances.Created)

	txns = e.transactionsOf(t, "inst-1")
	require.Len(t, txns, 1)
	assert.Equal(t, "tx1", remoteID(txns[0]))
	assert.True(t, txns[0].Amount.Equal(dec("-15")))

	inst = e.institution(t, "inst-1")
	require.NotNil(t, inst.Cursor)
	assert.Equal(t, "C2", *inst.Cursor)
	assert.Equal(t, institution.StatusIdle, inst.Status)
	assert.NotNil(t, inst.LastSyncedAt)
	assert.False(t, e.orch.IsRunning())
	assert.NotNil(t, e.orch.LastPassAt())
}

func TestRunFullSync_ResumesFromCommittedCursor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	_, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)

	token := "token-inst-1"
	e.client.setPage(token, "C2", &aggregator.SyncPage{NextCursor: "C3"})
	e.client.syncCalls = nil

	_, err = e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{token + "|C2"}, e.client.syncCalls)
	assert.Equal(t, "C3", *e.institution(t, "inst-1").Cursor)
}

func TestRunFullSync_CursorNotAdvancedWhenApplyFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	// Page 2 updates tx1 and then fails while deleting tx2.
	e.store.SetFault(func(op string) error {
		if op == "transactions.delete" {
			return errors.New("disk full")
		}
		return nil
	})

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Failed)

	inst := e.institution(t, "inst-1")
	require.NotNil(t, inst.Cursor)
	assert.Equal(t, "C1", *inst.Cursor)
	assert.Equal(t, institution.StatusError, inst.Status)
	assert.False(t, inst.RelinkRequired())

	// The partial page was rolled back.
	txns := e.transactionsOf(t, "inst-1")
	require.Len(t, txns, 2)
	assert.True(t, txns[0].Amount.Equal(dec("-12.50")))

	e.store.SetFault(nil)
	_, err = e.orch.RunFullSync(ctx)
	require.NoError(t, err)

	txns = e.transactionsOf(t, "inst-1")
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Amount.Equal(dec("-15")))
	inst = e.institution(t, "inst-1")
	assert.Equal(t, "C2", *inst.Cursor)
	assert.Equal(t, institution.StatusIdle, inst.Status)
}

func TestRunFullSync_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{Concurrency: 2})
	e.linkInstitution(t, "inst-a")
	e.linkInstitution(t, "inst-b")
	e.linkInstitution(t, "inst-c")
	scriptTwoPages(e, "inst-b")

	e.client.onBalances = func(ctx context.Context, token string) {
		if token == "token-inst-a" {
			panic("unexpected nil")
		}
	}
	e.client.setAccounts("token-inst-c", remoteAccount("r-c", "1"))
	e.client.setErr("balances:token-inst-c", &aggregator.Error{Kind: aggregator.KindInvalidCredential, Op: "get_balances", Code: "ITEM_LOGIN_REQUIRED"})

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Succeeded)
	assert.Equal(t, 2, pass.Failed)

	a := e.institution(t, "inst-a")
	assert.Equal(t, institution.StatusError, a.Status)
	assert.Equal(t, string(aggregator.KindUnknown), a.LastErrorKind)

	b := e.institution(t, "inst-b")
	assert.Equal(t, institution.StatusIdle, b.Status)
	assert.Equal(t, "C2", *b.Cursor)
	assert.Len(t, e.transactionsOf(t, "inst-b"), 1)

	c := e.institution(t, "inst-c")
	assert.True(t, c.RelinkRequired())
	assert.Equal(t, []string{"inst-c"}, e.notifier.notified())
}

func TestRunFullSync_RelinkRequiredIsNotRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	require.NoError(t, e.store.SetStatus(ctx, "inst-1", institution.StatusUpdate{
		Status:    institution.StatusError,
		ErrorKind: institution.ErrorKindInvalidCredential,
	}))

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Skipped)
	assert.Empty(t, e.client.syncCalls)
}

func TestRunFullSync_TransientErrorsKeepStatusAndCursor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind aggregator.Kind
	}{
		{"transient", &aggregator.Error{Kind: aggregator.KindTransientNetwork, Op: "sync_transactions", StatusCode: 503}, aggregator.KindTransientNetwork},
		{"rate limited", &aggregator.Error{Kind: aggregator.KindRateLimited, Op: "sync_transactions", StatusCode: 429}, aggregator.KindRateLimited},
		{"decode", &aggregator.Error{Kind: aggregator.KindDecodeError, Op: "sync_transactions"}, aggregator.KindDecodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, openfinance.Options{})
			e.linkInstitution(t, "inst-1")
			scriptTwoPages(e, "inst-1")
			e.client.setErr("sync:token-inst-1|C1", tt.err)

			pass, err := e.orch.RunFullSync(ctx)
			require.NoError(t, err)
			require.Len(t, pass.Institutions, 1)
			assert.Equal(t, tt.kind, pass.Institutions[0].ErrorKind)

			inst := e.institution(t, "inst-1")
			assert.Equal(t, institution.StatusIdle, inst.Status)
			assert.Equal(t, string(tt.kind), inst.LastErrorKind)
			assert.False(t, inst.RelinkRequired())
			assert.Nil(t, inst.LastSyncedAt)
			require.NotNil(t, inst.Cursor)
			assert.Equal(t, "C1", *inst.Cursor)
			assert.Empty(t, e.notifier.notified())

			// Next pass resumes from C1.
			e.client.setErr("sync:token-inst-1|C1", nil)
			_, err = e.orch.RunFullSync(ctx)
			require.NoError(t, err)
			inst = e.institution(t, "inst-1")
			assert.Equal(t, "C2", *inst.Cursor)
			assert.Empty(t, inst.LastErrorKind)
		})
	}
}

func TestRunFullSync_MissingCredential(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	inst := e.linkInstitution(t, "inst-1")
	require.NoError(t, e.vault.Delete(ctx, inst.CredentialRef))

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pass.Failed)
	assert.Equal(t, aggregator.KindInvalidCredential, pass.Institutions[0].ErrorKind)
	assert.True(t, e.institution(t, "inst-1").RelinkRequired())
	assert.Empty(t, e.client.syncCalls)
}

func TestRunFullSync_SecondTriggerIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.client.onBalances = func(ctx context.Context, token string) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.RunFullSync(ctx)
		done <- err
	}()

	<-entered
	assert.True(t, e.orch.IsRunning())
	pass, err := e.orch.RunFullSync(ctx)
	assert.Nil(t, pass)
	assert.ErrorIs(t, err, openfinance.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, e.orch.IsRunning())
}

func TestRunFullSync_CancelFinishesPageInFlight(t *testing.T) {
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.client.onSync = func(_ context.Context, token string, cursor *string) {
		if cursor == nil {
			cancel()
		}
	}

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	require.Len(t, pass.Institutions, 1)
	assert.Equal(t, openfinance.ResultCancelled, pass.Institutions[0].Status)

	// Page 1 was fetched before the cancel took effect, so it was applied and committed.
	inst := e.institution(t, "inst-1")
	require.NotNil(t, inst.Cursor)
	assert.Equal(t, "C1", *inst.Cursor)
	assert.Len(t, e.transactionsOf(t, "inst-1"), 2)
	assert.Equal(t, institution.StatusIdle, inst.Status)
	assert.Empty(t, inst.LastErrorKind)
}

func TestRunFullSync_PageLimit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{MaxPagesPerPass: 3})
	e.linkInstitution(t, "inst-1")
	token := "token-inst-1"
	e.client.setPage(token, "", &aggregator.SyncPage{NextCursor: "loop", HasMore: true})
	e.client.setPage(token, "loop", &aggregator.SyncPage{NextCursor: "loop", HasMore: true})

	pass, err := e.orch.RunFullSync(ctx)
	require.NoError(t, err)
	res := pass.Institutions[0]
	assert.ErrorIs(t, res.Err(), openfinance.ErrPageLimitExceeded)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, institution.StatusError, e.institution(t, "inst-1").Status)
}

func TestSyncOne(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, openfinance.Options{})
	e.linkInstitution(t, "inst-1")
	scriptTwoPages(e, "inst-1")

	res, err := e.orch.SyncOne(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, string(institution.StatusIdle), res.Status)

	_, err = e.orch.SyncOne(ctx, "missing")
	assert.ErrorIs(t, err, institution.ErrInstitutionNotFound)
}
