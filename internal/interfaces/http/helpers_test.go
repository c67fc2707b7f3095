package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/memory"
	"finsync/internal/shared/middleware"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newRequest builds a request as the auth middleware would hand it on.
// An empty userID leaves the request unauthenticated.
func newRequest(method, target, body, userID string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	return req
}

// serve routes req through a mux so path values are populated.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func seedAccount(t *testing.T, store *memory.Store, id, userID string) *account.Account {
	t.Helper()
	acc, err := store.Accounts().Create(context.Background(), account.CreateParams{
		ID:             id,
		UserID:         userID,
		Name:           "Checking " + id,
		Type:           account.TypeChecking,
		CurrentBalance: decimal.RequireFromString("100.00"),
		Currency:       "USD",
	})
	require.NoError(t, err)
	return acc
}

func seedTransaction(t *testing.T, store *memory.Store, id, accountID, amount string, posted time.Time) *transaction.Transaction {
	t.Helper()
	remoteID := "r-" + id
	txn, err := store.Transactions().Create(context.Background(), transaction.CreateParams{
		ID:       id,
		RemoteID: &remoteID,
		SyncedFields: transaction.SyncedFields{
			AccountID:  accountID,
			Amount:     decimal.RequireFromString(amount),
			PostedDate: posted,
			Name:       "Coffee " + id,
		},
	})
	require.NoError(t, err)
	return txn
}
