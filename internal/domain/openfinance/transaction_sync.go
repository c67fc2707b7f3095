package openfinance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"finsync/internal/domain/account"
	"finsync/internal/domain/institution"
	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
)

// PageResult counts what applying records did to the store.
type PageResult struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Deleted   int      `json:"deleted"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Gaps      []string `json:"gaps,omitempty"`
}

// Add accumulates other into r.
func (r *PageResult) Add(other *PageResult) {
	if other == nil {
		return
	}
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
	r.Gaps = append(r.Gaps, other.Gaps...)
}

// Writes is the number of store mutations.
func (r *PageResult) Writes() int {
	return r.Created + r.Updated + r.Deleted
}

// TransactionReconciler applies the aggregator's added, modified and removed
// records. Applying the same records twice leaves the store as after the first time.
type TransactionReconciler struct {
	uow  UnitOfWork
	sign SignConvention
	log  logrus.FieldLogger
}

// NewTransactionReconciler creates a new transaction reconciler
func NewTransactionReconciler(uow UnitOfWork, sign SignConvention, logger logrus.FieldLogger) *TransactionReconciler {
	return &TransactionReconciler{
		uow:  uow,
		sign: sign,
		log:  logger,
	}
}

// ApplyPage applies a page in order added, modified, removed, as one unit of work.
func (r *TransactionReconciler) ApplyPage(ctx context.Context, inst *institution.LinkedInstitution, page *aggregator.SyncPage) (*PageResult, error) {
	return r.apply(ctx, inst, func(ctx context.Context, a *pageApplier) error {
		if err := a.applyAdded(ctx, page.Added); err != nil {
			return err
		}
		if err := a.applyModified(ctx, page.Modified); err != nil {
			return err
		}
		return a.applyRemoved(ctx, page.Removed)
	})
}

// ApplyAdded creates transactions that are not stored yet.
func (r *TransactionReconciler) ApplyAdded(ctx context.Context, inst *institution.LinkedInstitution, records []aggregator.Transaction) (*PageResult, error) {
	return r.apply(ctx, inst, func(ctx context.Context, a *pageApplier) error {
		return a.applyAdded(ctx, records)
	})
}

// ApplyModified updates the aggregator-owned fields of stored transactions,
// creating the ones it has never seen.
func (r *TransactionReconciler) ApplyModified(ctx context.Context, inst *institution.LinkedInstitution, records []aggregator.Transaction) (*PageResult, error) {
	return r.apply(ctx, inst, func(ctx context.Context, a *pageApplier) error {
		return a.applyModified(ctx, records)
	})
}

// ApplyRemoved deletes stored transactions by remote ID.
func (r *TransactionReconciler) ApplyRemoved(ctx context.Context, inst *institution.LinkedInstitution, records []aggregator.RemovedTransaction) (*PageResult, error) {
	return r.apply(ctx, inst, func(ctx context.Context, a *pageApplier) error {
		return a.applyRemoved(ctx, records)
	})
}

func (r *TransactionReconciler) apply(ctx context.Context, inst *institution.LinkedInstitution, fn func(ctx context.Context, a *pageApplier) error) (*PageResult, error) {
	var result *PageResult
	err := r.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		// Fresh per attempt so a rolled back unit leaves no counts behind.
		result = &PageResult{}
		a := &pageApplier{
			repos:    repos,
			inst:     inst,
			sign:     r.sign,
			log:      r.log.WithField("institution_id", inst.ID),
			result:   result,
			accounts: make(map[string]*account.Account),
		}
		return fn(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// pageApplier holds the state of one unit of work.
type pageApplier struct {
	repos  Repositories
	inst   *institution.LinkedInstitution
	sign   SignConvention
	log    logrus.FieldLogger
	result *PageResult

	// remote account ID -> local account, nil when unknown
	accounts map[string]*account.Account
}

func (a *pageApplier) resolveAccount(ctx context.Context, remoteAccountID string) (*account.Account, error) {
	if acc, ok := a.accounts[remoteAccountID]; ok {
		return acc, nil
	}
	acc, err := a.repos.Accounts.FindByRemoteID(ctx, a.inst.ID, remoteAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account %s: %w", remoteAccountID, err)
	}
	a.accounts[remoteAccountID] = acc
	return acc, nil
}

func (a *pageApplier) gap(rt aggregator.Transaction) {
	gapErr := aggregator.NewReferentialGap(rt.TransactionID, rt.AccountID)
	a.result.Skipped++
	a.result.Gaps = append(a.result.Gaps, rt.TransactionID)
	a.log.WithFields(logrus.Fields{
		"transaction_id":    rt.TransactionID,
		"remote_account_id": rt.AccountID,
		"kind":              gapErr.Kind,
	}).Warn("skipping transaction for unknown account")
}

func (a *pageApplier) applyAdded(ctx context.Context, records []aggregator.Transaction) error {
	for _, rt := range records {
		existing, err := a.repos.Transactions.FindByRemoteID(ctx, rt.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to look up transaction %s: %w", rt.TransactionID, err)
		}
		if existing != nil {
			a.result.Unchanged++
			continue
		}
		if err := a.create(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

func (a *pageApplier) applyModified(ctx context.Context, records []aggregator.Transaction) error {
	for _, rt := range records {
		existing, err := a.repos.Transactions.FindByRemoteID(ctx, rt.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to look up transaction %s: %w", rt.TransactionID, err)
		}
		if existing == nil {
			if err := a.create(ctx, rt); err != nil {
				return err
			}
			continue
		}

		acc, err := a.resolveAccount(ctx, rt.AccountID)
		if err != nil {
			return err
		}
		if acc == nil {
			a.gap(rt)
			continue
		}

		fields, err := toSyncedFields(rt, acc.ID, a.sign)
		if err != nil {
			return err
		}
		if existing.SyncedFields().Equal(fields) {
			a.result.Unchanged++
			continue
		}

		if err := a.repos.Transactions.UpdateSyncedFields(ctx, existing.ID, fields); err != nil {
			return fmt.Errorf("failed to update transaction %s: %w", rt.TransactionID, err)
		}
		a.result.Updated++
	}
	return nil
}

func (a *pageApplier) applyRemoved(ctx context.Context, records []aggregator.RemovedTransaction) error {
	for _, rr := range records {
		existing, err := a.repos.Transactions.FindByRemoteID(ctx, rr.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to look up transaction %s: %w", rr.TransactionID, err)
		}
		if existing == nil {
			a.result.Unchanged++
			continue
		}
		if err := a.repos.Transactions.Delete(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", rr.TransactionID, err)
		}
		a.result.Deleted++
	}
	return nil
}

func (a *pageApplier) create(ctx context.Context, rt aggregator.Transaction) error {
	acc, err := a.resolveAccount(ctx, rt.AccountID)
	if err != nil {
		return err
	}
	if acc == nil {
		a.gap(rt)
		return nil
	}

	fields, err := toSyncedFields(rt, acc.ID, a.sign)
	if err != nil {
		return err
	}

	remoteID := rt.TransactionID
	if _, err := a.repos.Transactions.Create(ctx, transaction.CreateParams{
		ID:           uuid.NewString(),
		RemoteID:     &remoteID,
		SyncedFields: fields,
	}); err != nil {
		return fmt.Errorf("failed to create transaction %s: %w", rt.TransactionID, err)
	}
	a.result.Created++
	return nil
}
