package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"finsync/internal/domain/account"
)

const accountColumns = `
	id, user_id, institution_id, remote_id, name, official_name, mask, account_type,
	current_balance, available_balance, credit_limit, currency, last_synced_at, created_at, updated_at`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db querier
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row scanner) (*account.Account, error) {
	var acc account.Account
	var institutionID, remoteID sql.NullString
	var available, limit decimal.NullDecimal
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&acc.ID, &acc.UserID, &institutionID, &remoteID, &acc.Name, &acc.OfficialName, &acc.Mask,
		&acc.Type, &acc.CurrentBalance, &available, &limit, &acc.Currency, &lastSyncedAt,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if institutionID.Valid {
		acc.InstitutionID = &institutionID.String
	}
	if remoteID.Valid {
		acc.RemoteID = &remoteID.String
	}
	acc.AvailableBalance = fromNullDecimal(available)
	acc.CreditLimit = fromNullDecimal(limit)
	if lastSyncedAt.Valid {
		acc.LastSyncedAt = &lastSyncedAt.Time
	}
	return &acc, nil
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO accounts (id, user_id, institution_id, remote_id, name, official_name, mask, account_type,
		                      current_balance, available_balance, credit_limit, currency, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, nullStringPtr(params.InstitutionID), nullStringPtr(params.RemoteID),
		params.Name, params.OfficialName, params.Mask, params.Type,
		params.CurrentBalance, toNullDecimal(params.AvailableBalance), toNullDecimal(params.CreditLimit),
		params.Currency, nullTimePtr(params.LastSyncedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// FindByRemoteID returns (nil, nil) when the institution has no such account
func (r *AccountRepository) FindByRemoteID(ctx context.Context, institutionID, remoteID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE institution_id = $1 AND remote_id = $2`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, institutionID, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by remote ID: %w", err)
	}
	return acc, nil
}

// ListByInstitution retrieves all accounts linked to an institution
func (r *AccountRepository) ListByInstitution(ctx context.Context, institutionID string) ([]*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE institution_id = $1 ORDER BY created_at`
	return r.list(ctx, query, institutionID)
}

// ListByUserID retrieves all accounts for a specific user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID string) ([]*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateBalances overwrites the balance fields and last-synced time
func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, update account.BalanceUpdate) error {
	query := `
		UPDATE accounts
		SET current_balance = $2, available_balance = $3, credit_limit = $4,
		    last_synced_at = $5, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		id, update.Current, toNullDecimal(update.Available), toNullDecimal(update.Limit), update.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// DetachInstitution unlinks every account of an institution and returns their IDs
func (r *AccountRepository) DetachInstitution(ctx context.Context, institutionID string) ([]string, error) {
	query := `
		UPDATE accounts
		SET institution_id = NULL, remote_id = NULL, updated_at = NOW()
		WHERE institution_id = $1
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to detach accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detached accounts: %w", err)
	}
	return ids, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// textArray never passes NULL for a nil slice so NOT NULL array columns accept it.
func textArray(s []string) any {
	if s == nil {
		s = []string{}
	}
	return pq.Array(s)
}
