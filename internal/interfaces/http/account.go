package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
)

type AccountHandler struct {
	accounts     *account.Service
	transactions *transaction.Service
	log          logrus.FieldLogger
}

func NewAccountHandler(accounts *account.Service, transactions *transaction.Service, logger logrus.FieldLogger) *AccountHandler {
	return &AccountHandler{accounts: accounts, transactions: transactions, log: logger}
}

type CreateAccountRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	Currency       string          `json:"currency"`
}

type AccountResponse struct {
	ID               string           `json:"id"`
	InstitutionID    *string          `json:"institutionId"`
	Name             string           `json:"name"`
	OfficialName     string           `json:"officialName,omitempty"`
	Mask             string           `json:"mask,omitempty"`
	Type             string           `json:"type"`
	CurrentBalance   decimal.Decimal  `json:"currentBalance"`
	AvailableBalance *decimal.Decimal `json:"availableBalance"`
	CreditLimit      *decimal.Decimal `json:"creditLimit"`
	Currency         string           `json:"currency"`
	IsManual         bool             `json:"isManual"`
	LastSyncedAt     *time.Time       `json:"lastSyncedAt"`
}

func toAccountResponse(acc *account.Account) AccountResponse {
	return AccountResponse{
		ID:               acc.ID,
		InstitutionID:    acc.InstitutionID,
		Name:             acc.Name,
		OfficialName:     acc.OfficialName,
		Mask:             acc.Mask,
		Type:             string(acc.Type),
		CurrentBalance:   acc.CurrentBalance,
		AvailableBalance: acc.AvailableBalance,
		CreditLimit:      acc.CreditLimit,
		Currency:         acc.Currency,
		IsManual:         acc.InstitutionID == nil && acc.RemoteID == nil,
		LastSyncedAt:     acc.LastSyncedAt,
	}
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, toAccountResponse(acc))
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleCreateAccount creates a manual account
func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.accounts.CreateManualAccount(r.Context(), account.ManualAccountParams{
		UserID:         userID,
		Name:           req.Name,
		Type:           account.Type(req.Type),
		CurrentBalance: req.CurrentBalance,
		Currency:       req.Currency,
	})
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// HandleListTransactions returns a page of an account's transactions, newest first.
// Paging comes from the limit and offset query parameters.
func (h *AccountHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accountID := r.PathValue("id")
	entry := h.log.WithFields(logrus.Fields{"user_id": userID, "account_id": accountID})

	if _, err := h.accounts.GetAccount(r.Context(), accountID, userID); err != nil {
		writeError(w, entry, err)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		http.Error(w, "Invalid offset", http.StatusBadRequest)
		return
	}

	txns, err := h.transactions.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		writeError(w, entry, err)
		return
	}

	response := make([]TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		response = append(response, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, response)
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
