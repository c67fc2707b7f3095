// Package openfinance syncs institution data from the aggregator into the local store.
package openfinance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/institution"
	"finsync/internal/infrastructure/aggregator"
)

// BalanceResult contains the results of an account reconciliation
type BalanceResult struct {
	AccountsFound int `json:"accountsFound"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Unchanged     int `json:"unchanged"`
}

// AccountReconciler upserts the aggregator's view of an institution's accounts.
// It never deletes an account.
type AccountReconciler struct {
	client   aggregator.ClientInterface
	accounts account.Repository
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewAccountReconciler creates a new account reconciler
func NewAccountReconciler(client aggregator.ClientInterface, accounts account.Repository, logger logrus.FieldLogger) *AccountReconciler {
	return &AccountReconciler{
		client:   client,
		accounts: accounts,
		log:      logger,
		now:      time.Now,
	}
}

// RefreshBalances fetches live balances and writes the ones that changed.
// Accounts seen for the first time are created.
func (r *AccountReconciler) RefreshBalances(ctx context.Context, inst *institution.LinkedInstitution, accessToken string) (*BalanceResult, error) {
	resp, err := r.client.GetBalances(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, inst, resp.Accounts)
}

// DiscoverAccounts is used right after linking, when the cached account list is enough.
func (r *AccountReconciler) DiscoverAccounts(ctx context.Context, inst *institution.LinkedInstitution, accessToken string) (*BalanceResult, error) {
	resp, err := r.client.GetAccounts(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, inst, resp.Accounts)
}

// Reconcile applies a list of remote accounts to the store.
func (r *AccountReconciler) Reconcile(ctx context.Context, inst *institution.LinkedInstitution, remote []aggregator.Account) (*BalanceResult, error) {
	result := &BalanceResult{AccountsFound: len(remote)}
	syncedAt := r.now().UTC()

	// The aggregator may list an account twice; the last entry wins.
	byID := GroupBy(remote, func(a aggregator.Account) string { return a.AccountID })

	for _, ra := range remote {
		entries := byID[ra.AccountID]
		if len(entries) == 0 {
			continue
		}
		latest := entries[len(entries)-1]
		delete(byID, ra.AccountID)

		if err := r.reconcileAccount(ctx, inst, latest, syncedAt, result); err != nil {
			return result, fmt.Errorf("failed to reconcile account %s: %w", latest.AccountID, err)
		}
	}

	r.log.WithFields(logrus.Fields{
		"institution_id": inst.ID,
		"found":          result.AccountsFound,
		"created":        result.Created,
		"updated":        result.Updated,
		"unchanged":      result.Unchanged,
	}).Info("accounts reconciled")

	return result, nil
}

func (r *AccountReconciler) reconcileAccount(ctx context.Context, inst *institution.LinkedInstitution, ra aggregator.Account, syncedAt time.Time, result *BalanceResult) error {
	existing, err := r.accounts.FindByRemoteID(ctx, inst.ID, ra.AccountID)
	if err != nil {
		return err
	}

	balances := ra.Balances
	balances.Current = roundOptional(balances.Current)
	balances.Available = roundOptional(balances.Available)
	balances.Limit = roundOptional(balances.Limit)

	if existing == nil {
		instID, remoteID := inst.ID, ra.AccountID
		current := decimal.Zero
		if balances.Current != nil {
			current = *balances.Current
		}

		_, err := r.accounts.Create(ctx, account.CreateParams{
			ID:               uuid.NewString(),
			UserID:           inst.UserID,
			InstitutionID:    &instID,
			RemoteID:         &remoteID,
			Name:             accountName(ra),
			OfficialName:     ra.OfficialName,
			Mask:             ra.Mask,
			Type:             account.MapRemoteType(ra.Type, ra.Subtype),
			CurrentBalance:   current,
			AvailableBalance: balances.Available,
			CreditLimit:      balances.Limit,
			Currency:         account.NormalizeCurrency(ra.Balances.ISOCurrencyCode),
			LastSyncedAt:     &syncedAt,
		})
		if err != nil {
			return err
		}
		result.Created++
		return nil
	}

	update := account.BalanceUpdate{
		Current:   existing.CurrentBalance,
		Available: balances.Available,
		Limit:     balances.Limit,
		SyncedAt:  syncedAt,
	}
	// A missing current balance means the institution did not report one this time.
	if balances.Current != nil {
		update.Current = *balances.Current
	}

	if existing.BalancesEqual(update) {
		result.Unchanged++
		return nil
	}

	if err := r.accounts.UpdateBalances(ctx, existing.ID, update); err != nil {
		return err
	}
	result.Updated++
	return nil
}

func accountName(ra aggregator.Account) string {
	if ra.Name != "" {
		return ra.Name
	}
	if ra.OfficialName != "" {
		return ra.OfficialName
	}
	if ra.Mask != "" {
		return "Account " + ra.Mask
	}
	return "Account"
}
