package memory

import (
	"context"
	"sort"

	"finsync/internal/domain/account"
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	store  *Store
	inUnit bool
}

var _ account.Repository = (*AccountRepository)(nil)

func (r *AccountRepository) Create(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var out *account.Account
	err := r.store.write(r.inUnit, "accounts.create", func() error {
		s := r.store
		if _, ok := s.accounts[params.ID]; ok {
			return ErrDuplicate
		}
		if params.RemoteID != nil {
			if s.findAccountByRemoteID(*params.InstitutionID, *params.RemoteID) != nil {
				return ErrDuplicate
			}
		}

		now := s.now().UTC()
		acc := &account.Account{
			ID:               params.ID,
			UserID:           params.UserID,
			InstitutionID:    clonePtr(params.InstitutionID),
			RemoteID:         clonePtr(params.RemoteID),
			Name:             params.Name,
			OfficialName:     params.OfficialName,
			Mask:             params.Mask,
			Type:             params.Type,
			CurrentBalance:   params.CurrentBalance,
			AvailableBalance: clonePtr(params.AvailableBalance),
			CreditLimit:      clonePtr(params.CreditLimit),
			Currency:         params.Currency,
			LastSyncedAt:     clonePtr(params.LastSyncedAt),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.accounts[acc.ID] = acc
		s.order(acc.ID)
		out = cloneAccount(acc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) findAccountByRemoteID(institutionID, remoteID string) *account.Account {
	for _, acc := range s.accounts {
		if acc.InstitutionID != nil && acc.RemoteID != nil &&
			*acc.InstitutionID == institutionID && *acc.RemoteID == remoteID {
			return acc
		}
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	var out *account.Account
	r.store.read(func() {
		if acc, ok := r.store.accounts[id]; ok {
			out = cloneAccount(acc)
		}
	})
	if out == nil {
		return nil, account.ErrAccountNotFound
	}
	return out, nil
}

func (r *AccountRepository) FindByRemoteID(ctx context.Context, institutionID, remoteID string) (*account.Account, error) {
	var out *account.Account
	r.store.read(func() {
		if acc := r.store.findAccountByRemoteID(institutionID, remoteID); acc != nil {
			out = cloneAccount(acc)
		}
	})
	return out, nil
}

func (r *AccountRepository) ListByInstitution(ctx context.Context, institutionID string) ([]*account.Account, error) {
	return r.list(func(acc *account.Account) bool {
		return acc.InstitutionID != nil && *acc.InstitutionID == institutionID
	}), nil
}

func (r *AccountRepository) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	return r.list(func(acc *account.Account) bool { return acc.UserID == userID }), nil
}

func (r *AccountRepository) list(keep func(*account.Account) bool) []*account.Account {
	var out []*account.Account
	r.store.read(func() {
		for _, acc := range r.store.accounts {
			if keep(acc) {
				out = append(out, cloneAccount(acc))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return r.store.seq[out[i].ID] < r.store.seq[out[j].ID]
		})
	})
	return out
}

func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, update account.BalanceUpdate) error {
	return r.store.write(r.inUnit, "accounts.update_balances", func() error {
		acc, ok := r.store.accounts[id]
		if !ok {
			return account.ErrAccountNotFound
		}
		acc.CurrentBalance = update.Current
		acc.AvailableBalance = clonePtr(update.Available)
		acc.CreditLimit = clonePtr(update.Limit)
		syncedAt := update.SyncedAt
		acc.LastSyncedAt = &syncedAt
		acc.UpdatedAt = r.store.now().UTC()
		return nil
	})
}

func (r *AccountRepository) DetachInstitution(ctx context.Context, institutionID string) ([]string, error) {
	var ids []string
	err := r.store.write(r.inUnit, "accounts.detach", func() error {
		for _, acc := range r.store.accounts {
			if acc.InstitutionID != nil && *acc.InstitutionID == institutionID {
				acc.InstitutionID = nil
				acc.RemoteID = nil
				acc.UpdatedAt = r.store.now().UTC()
				ids = append(ids, acc.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
