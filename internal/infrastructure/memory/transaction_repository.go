package memory

import (
	"context"
	"slices"
	"sort"

	"finsync/internal/domain/transaction"
)

// TransactionRepository implements transaction.Repository.
type TransactionRepository struct {
	store  *Store
	inUnit bool
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var out *transaction.Transaction
	err := r.store.write(r.inUnit, "transactions.create", func() error {
		s := r.store
		if _, ok := s.transactions[params.ID]; ok {
			return ErrDuplicate
		}
		if params.RemoteID != nil && s.findTransactionByRemoteID(*params.RemoteID) != nil {
			return ErrDuplicate
		}

		now := s.now().UTC()
		txn := &transaction.Transaction{
			ID:        params.ID,
			RemoteID:  clonePtr(params.RemoteID),
			CreatedAt: now,
			UpdatedAt: now,
		}
		setSyncedFields(txn, params.SyncedFields)
		s.transactions[txn.ID] = txn
		s.order(txn.ID)
		out = cloneTransaction(txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) findTransactionByRemoteID(remoteID string) *transaction.Transaction {
	for _, txn := range s.transactions {
		if txn.RemoteID != nil && *txn.RemoteID == remoteID {
			return txn
		}
	}
	return nil
}

func setSyncedFields(txn *transaction.Transaction, f transaction.SyncedFields) {
	txn.AccountID = f.AccountID
	txn.Amount = f.Amount
	txn.PostedDate = f.PostedDate
	txn.AuthorizedDate = clonePtr(f.AuthorizedDate)
	txn.Name = f.Name
	txn.MerchantName = f.MerchantName
	txn.Pending = f.Pending
	txn.PendingRemoteID = f.PendingRemoteID
	txn.CategoryHints = slices.Clone(f.CategoryHints)
	txn.Location = nil
	if f.Location != nil {
		loc := *f.Location
		txn.Location = &loc
	}
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	var out *transaction.Transaction
	r.store.read(func() {
		if txn, ok := r.store.transactions[id]; ok {
			out = cloneTransaction(txn)
		}
	})
	if out == nil {
		return nil, transaction.ErrTransactionNotFound
	}
	return out, nil
}

func (r *TransactionRepository) FindByRemoteID(ctx context.Context, remoteID string) (*transaction.Transaction, error) {
	var out *transaction.Transaction
	r.store.read(func() {
		if txn := r.store.findTransactionByRemoteID(remoteID); txn != nil {
			out = cloneTransaction(txn)
		}
	})
	return out, nil
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	var out []*transaction.Transaction
	r.store.read(func() {
		for _, txn := range r.store.transactions {
			if txn.AccountID == accountID {
				out = append(out, cloneTransaction(txn))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedDate.Equal(out[j].PostedDate) {
			return out[i].PostedDate.After(out[j].PostedDate)
		}
		return out[i].ID < out[j].ID
	})

	if offset >= len(out) {
		return []*transaction.Transaction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *TransactionRepository) UpdateSyncedFields(ctx context.Context, id string, fields transaction.SyncedFields) error {
	return r.store.write(r.inUnit, "transactions.update_synced", func() error {
		txn, ok := r.store.transactions[id]
		if !ok {
			return transaction.ErrTransactionNotFound
		}
		setSyncedFields(txn, fields)
		txn.UpdatedAt = r.store.now().UTC()
		return nil
	})
}

func (r *TransactionRepository) UpdateUserFields(ctx context.Context, t *transaction.Transaction) error {
	return r.store.write(r.inUnit, "transactions.update_user", func() error {
		txn, ok := r.store.transactions[t.ID]
		if !ok {
			return transaction.ErrTransactionNotFound
		}
		txn.Notes = t.Notes
		txn.Tags = slices.Clone(t.Tags)
		txn.Hidden = t.Hidden
		txn.Split = t.Split
		txn.CategoryOverride = clonePtr(t.CategoryOverride)
		txn.IsUserModified = t.IsUserModified
		txn.UpdatedAt = r.store.now().UTC()
		return nil
	})
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	return r.store.write(r.inUnit, "transactions.delete", func() error {
		if _, ok := r.store.transactions[id]; !ok {
			return transaction.ErrTransactionNotFound
		}
		delete(r.store.transactions, id)
		return nil
	})
}

func (r *TransactionRepository) DetachAccounts(ctx context.Context, accountIDs []string) error {
	return r.store.write(r.inUnit, "transactions.detach", func() error {
		for _, txn := range r.store.transactions {
			if slices.Contains(accountIDs, txn.AccountID) {
				txn.RemoteID = nil
				txn.UpdatedAt = r.store.now().UTC()
			}
		}
		return nil
	})
}
