package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
	"finsync/internal/shared/middleware"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// requireUser writes a 401 and returns false when the request carries no user.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, institution.ErrInvalidInput),
		errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, account.ErrInvalidAccountType),
		errors.Is(err, account.ErrInvalidCurrency),
		errors.Is(err, transaction.ErrInvalidInput):
		http.Error(w, "Invalid input", http.StatusBadRequest)
	case errors.Is(err, openfinance.ErrForbidden),
		errors.Is(err, account.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, institution.ErrInstitutionNotFound):
		http.Error(w, "Institution not found", http.StatusNotFound)
	case errors.Is(err, account.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, transaction.ErrTransactionNotFound):
		http.Error(w, "Transaction not found", http.StatusNotFound)
	case errors.Is(err, institution.ErrAlreadyDisconnected):
		http.Error(w, "Institution is disconnected", http.StatusConflict)
	case errors.Is(err, aggregator.ErrInvalidCredential):
		http.Error(w, "Institution rejected the credential", http.StatusUnprocessableEntity)
	case errors.Is(err, aggregator.ErrRateLimited):
		http.Error(w, "Aggregator rate limit exceeded", http.StatusServiceUnavailable)
	default:
		var aggErr *aggregator.Error
		if errors.As(err, &aggErr) {
			logger.WithError(err).Warn("aggregator request failed")
			http.Error(w, "Aggregator request failed", http.StatusBadGateway)
			return
		}
		logger.WithError(err).Error("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
