package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
)

type TransactionHandler struct {
	transactions *transaction.Service
	accounts     *account.Service
	log          logrus.FieldLogger
}

func NewTransactionHandler(transactions *transaction.Service, accounts *account.Service, logger logrus.FieldLogger) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, accounts: accounts, log: logger}
}

// UpdateTransactionRequest is a partial edit; absent fields are left alone.
// An empty categoryOverride clears the override.
type UpdateTransactionRequest struct {
	Notes            *string   `json:"notes"`
	Tags             *[]string `json:"tags"`
	Hidden           *bool     `json:"hidden"`
	Split            *bool     `json:"split"`
	CategoryOverride *string   `json:"categoryOverride"`
}

type TransactionResponse struct {
	ID               string                `json:"id"`
	AccountID        string                `json:"accountId"`
	Amount           decimal.Decimal       `json:"amount"`
	PostedDate       string                `json:"postedDate"`
	AuthorizedDate   *string               `json:"authorizedDate,omitempty"`
	Name             string                `json:"name"`
	MerchantName     string                `json:"merchantName,omitempty"`
	Pending          bool                  `json:"pending"`
	CategoryHints    []string              `json:"categoryHints"`
	Location         *transaction.Location `json:"location,omitempty"`
	Notes            string                `json:"notes"`
	Tags             []string              `json:"tags"`
	Hidden           bool                  `json:"hidden"`
	Split            bool                  `json:"split"`
	CategoryOverride *string               `json:"categoryOverride,omitempty"`
	IsUserModified   bool                  `json:"isUserModified"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

const dateLayout = "2006-01-02"

func toTransactionResponse(txn *transaction.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:               txn.ID,
		AccountID:        txn.AccountID,
		Amount:           txn.Amount,
		PostedDate:       txn.PostedDate.Format(dateLayout),
		Name:             txn.Name,
		MerchantName:     txn.MerchantName,
		Pending:          txn.Pending,
		CategoryHints:    txn.CategoryHints,
		Location:         txn.Location,
		Notes:            txn.Notes,
		Tags:             txn.Tags,
		Hidden:           txn.Hidden,
		Split:            txn.Split,
		CategoryOverride: txn.CategoryOverride,
		IsUserModified:   txn.IsUserModified,
		UpdatedAt:        txn.UpdatedAt,
	}
	if txn.AuthorizedDate != nil {
		d := txn.AuthorizedDate.Format(dateLayout)
		resp.AuthorizedDate = &d
	}
	if resp.CategoryHints == nil {
		resp.CategoryHints = []string{}
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	return resp
}

// HandleUpdate edits the user-owned fields of a transaction.
func (h *TransactionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	entry := h.log.WithFields(logrus.Fields{"user_id": userID, "transaction_id": id})

	var req UpdateTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	txn, err := h.transactions.Get(r.Context(), id)
	if err != nil {
		writeError(w, entry, err)
		return
	}
	// Ownership goes through the account; detached transactions keep theirs.
	if _, err := h.accounts.GetAccount(r.Context(), txn.AccountID, userID); err != nil {
		writeError(w, entry, err)
		return
	}

	updated, err := h.transactions.UpdateUserFields(r.Context(), id, transaction.UserFieldsUpdate{
		Notes:            req.Notes,
		Tags:             req.Tags,
		Hidden:           req.Hidden,
		Split:            req.Split,
		CategoryOverride: req.CategoryOverride,
	})
	if err != nil {
		writeError(w, entry, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(updated))
}
