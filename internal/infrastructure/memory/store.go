// Package memory is an in-process store used by tests and local runs.
// It follows the same uniqueness rules as the Postgres schema.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"finsync/internal/domain/account"
	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
)

// ErrDuplicate mirrors a unique constraint violation.
var ErrDuplicate = errors.New("duplicate key")

// Store holds every table in memory.
type Store struct {
	// writeMu serializes writers to accounts and transactions so a unit of
	// work can be rolled back without losing anyone else's writes.
	writeMu sync.Mutex
	mu      sync.Mutex

	institutions map[string]*institution.LinkedInstitution
	accounts     map[string]*account.Account
	transactions map[string]*transaction.Transaction
	seq          map[string]int
	nextSeq      int

	writes int
	fault  func(op string) error
	now    func() time.Time
}

var (
	_ openfinance.CursorStore = (*Store)(nil)
	_ openfinance.UnitOfWork  = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		institutions: make(map[string]*institution.LinkedInstitution),
		accounts:     make(map[string]*account.Account),
		transactions: make(map[string]*transaction.Transaction),
		seq:          make(map[string]int),
		now:          time.Now,
	}
}

// Institutions returns the institution repository.
func (s *Store) Institutions() *InstitutionRepository {
	return &InstitutionRepository{store: s}
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// Transactions returns the transaction repository.
func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{store: s}
}

// Writes counts account and transaction mutations since the store was created.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// SetFault installs a hook called before every write with an operation name
// such as "transactions.create". A non-nil return fails the write.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Do runs fn with repositories bound to one unit of work. If fn fails, the
// accounts and transactions it wrote are rolled back.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos openfinance.Repositories) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	accounts := cloneMap(s.accounts, cloneAccount)
	transactions := cloneMap(s.transactions, cloneTransaction)
	writes := s.writes
	s.mu.Unlock()

	err := fn(ctx, openfinance.Repositories{
		Accounts:     &AccountRepository{store: s, inUnit: true},
		Transactions: &TransactionRepository{store: s, inUnit: true},
	})
	if err != nil {
		s.mu.Lock()
		s.accounts = accounts
		s.transactions = transactions
		s.writes = writes
		s.mu.Unlock()
	}
	return err
}

// write runs fn holding the data lock, and the writer lock unless the caller
// is already inside a unit of work.
func (s *Store) write(inUnit bool, op string, fn func() error) error {
	if !inUnit {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		return err
	}
	s.writes++
	return nil
}

func (s *Store) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Store) order(id string) int {
	if n, ok := s.seq[id]; ok {
		return n
	}
	s.nextSeq++
	s.seq[id] = s.nextSeq
	return s.nextSeq
}

// Cursor implements openfinance.CursorStore.
func (s *Store) Cursor(ctx context.Context, institutionID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.institutions[institutionID]
	if !ok {
		return nil, institution.ErrInstitutionNotFound
	}
	return clonePtr(inst.Cursor), nil
}

// Commit implements openfinance.CursorStore.
func (s *Store) Commit(ctx context.Context, institutionID, cursor string) error {
	return s.updateInstitution(institutionID, "cursors.commit", func(inst *institution.LinkedInstitution) {
		inst.Cursor = &cursor
	})
}

// Reset implements openfinance.CursorStore.
func (s *Store) Reset(ctx context.Context, institutionID string) error {
	return s.updateInstitution(institutionID, "cursors.reset", func(inst *institution.LinkedInstitution) {
		inst.Cursor = nil
	})
}

// SetStatus implements openfinance.CursorStore.
func (s *Store) SetStatus(ctx context.Context, institutionID string, update institution.StatusUpdate) error {
	return s.updateInstitution(institutionID, "cursors.status", func(inst *institution.LinkedInstitution) {
		inst.Status = update.Status
		inst.LastErrorKind = update.ErrorKind
		inst.LastError = update.Error
		if update.SyncedAt != nil {
			t := *update.SyncedAt
			inst.LastSyncedAt = &t
		}
	})
}

func (s *Store) updateInstitution(id, op string, fn func(inst *institution.LinkedInstitution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fault != nil {
		if err := s.fault(op); err != nil {
			return err
		}
	}
	inst, ok := s.institutions[id]
	if !ok {
		return institution.ErrInstitutionNotFound
	}
	fn(inst)
	inst.UpdatedAt = s.now().UTC()
	return nil
}

func cloneMap[V any](m map[string]*V, clone func(*V) *V) map[string]*V {
	out := make(map[string]*V, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInstitution(i *institution.LinkedInstitution) *institution.LinkedInstitution {
	c := *i
	c.Cursor = clonePtr(i.Cursor)
	c.LastSyncedAt = clonePtr(i.LastSyncedAt)
	c.DisconnectedAt = clonePtr(i.DisconnectedAt)
	return &c
}

func cloneAccount(a *account.Account) *account.Account {
	c := *a
	c.InstitutionID = clonePtr(a.InstitutionID)
	c.RemoteID = clonePtr(a.RemoteID)
	c.AvailableBalance = clonePtr(a.AvailableBalance)
	c.CreditLimit = clonePtr(a.CreditLimit)
	c.LastSyncedAt = clonePtr(a.LastSyncedAt)
	return &c
}

func cloneTransaction(t *transaction.Transaction) *transaction.Transaction {
	c := *t
	c.RemoteID = clonePtr(t.RemoteID)
	c.AuthorizedDate = clonePtr(t.AuthorizedDate)
	c.CategoryHints = slices.Clone(t.CategoryHints)
	c.Tags = slices.Clone(t.Tags)
	c.CategoryOverride = clonePtr(t.CategoryOverride)
	if t.Location != nil {
		loc := *t.Location
		loc.Lat = clonePtr(t.Location.Lat)
		loc.Lon = clonePtr(t.Location.Lon)
		c.Location = &loc
	}
	return &c
}
