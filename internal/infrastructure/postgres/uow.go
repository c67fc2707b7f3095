package postgres

import (
	"context"
	"fmt"

	"finsync/internal/domain/openfinance"
)

// UnitOfWork runs a callback inside one database transaction.
type UnitOfWork struct {
	db *DB
}

var _ openfinance.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do commits when fn returns nil and rolls back otherwise.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos openfinance.Repositories) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	repos := openfinance.Repositories{
		Accounts:     &AccountRepository{db: tx},
		Transactions: &TransactionRepository{db: tx},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
