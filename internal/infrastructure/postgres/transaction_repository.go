package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"finsync/internal/domain/transaction"
)

const transactionColumns = `
	id, remote_id, account_id, amount, posted_date, authorized_date, name, merchant_name,
	pending, pending_remote_id, category_hints, location,
	notes, tags, hidden, split, category_override, is_user_modified, created_at, updated_at`

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db querier
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func scanTransaction(row scanner) (*transaction.Transaction, error) {
	var t transaction.Transaction
	var remoteID, categoryOverride sql.NullString
	var authorizedDate sql.NullTime
	var location []byte

	err := row.Scan(
		&t.ID, &remoteID, &t.AccountID, &t.Amount, &t.PostedDate, &authorizedDate, &t.Name, &t.MerchantName,
		&t.Pending, &t.PendingRemoteID, pq.Array(&t.CategoryHints), &location,
		&t.Notes, pq.Array(&t.Tags), &t.Hidden, &t.Split, &categoryOverride, &t.IsUserModified,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if remoteID.Valid {
		t.RemoteID = &remoteID.String
	}
	if authorizedDate.Valid {
		t.AuthorizedDate = &authorizedDate.Time
	}
	if categoryOverride.Valid {
		t.CategoryOverride = &categoryOverride.String
	}
	if len(location) > 0 {
		var loc transaction.Location
		if err := json.Unmarshal(location, &loc); err != nil {
			return nil, fmt.Errorf("failed to decode location: %w", err)
		}
		t.Location = &loc
	}
	return &t, nil
}

func encodeLocation(l *transaction.Location) (any, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to encode location: %w", err)
	}
	// pq sends []byte as bytea, which jsonb does not accept.
	return string(b), nil
}

// Create creates a new transaction
func (r *TransactionRepository) Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	location, err := encodeLocation(params.Location)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transactions (id, remote_id, account_id, amount, posted_date, authorized_date, name,
		                          merchant_name, pending, pending_remote_id, category_hints, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING` + transactionColumns

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.ID, nullStringPtr(params.RemoteID), params.AccountID, params.Amount, params.PostedDate,
		nullTimePtr(params.AuthorizedDate), params.Name, params.MerchantName, params.Pending,
		params.PendingRemoteID, textArray(params.CategoryHints), location,
	))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("transaction with remote ID already exists: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return t, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// FindByRemoteID returns (nil, nil) when no transaction carries the remote ID
func (r *TransactionRepository) FindByRemoteID(ctx context.Context, remoteID string) (*transaction.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE remote_id = $1`

	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by remote ID: %w", err)
	}
	return t, nil
}

// ListByAccountID returns an account's transactions, newest first. limit 0 means no limit.
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY posted_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, accountID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// UpdateSyncedFields overwrites only the aggregator-owned columns
func (r *TransactionRepository) UpdateSyncedFields(ctx context.Context, id string, fields transaction.SyncedFields) error {
	location, err := encodeLocation(fields.Location)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET account_id = $2, amount = $3, posted_date = $4, authorized_date = $5, name = $6,
		    merchant_name = $7, pending = $8, pending_remote_id = $9, category_hints = $10,
		    location = $11, updated_at = NOW()
		WHERE id = $1`

	return r.exec(ctx, "update transaction", query,
		id, fields.AccountID, fields.Amount, fields.PostedDate, nullTimePtr(fields.AuthorizedDate), fields.Name,
		fields.MerchantName, fields.Pending, fields.PendingRemoteID, textArray(fields.CategoryHints), location,
	)
}

// UpdateUserFields overwrites only the user-owned columns
func (r *TransactionRepository) UpdateUserFields(ctx context.Context, t *transaction.Transaction) error {
	query := `
		UPDATE transactions
		SET notes = $2, tags = $3, hidden = $4, split = $5, category_override = $6,
		    is_user_modified = $7, updated_at = NOW()
		WHERE id = $1`

	return r.exec(ctx, "update transaction user fields", query,
		t.ID, t.Notes, textArray(t.Tags), t.Hidden, t.Split, nullStringPtr(t.CategoryOverride), t.IsUserModified,
	)
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "delete transaction", `DELETE FROM transactions WHERE id = $1`, id)
}

// DetachAccounts clears the remote ID of every transaction of the accounts
func (r *TransactionRepository) DetachAccounts(ctx context.Context, accountIDs []string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	query := `UPDATE transactions SET remote_id = NULL, updated_at = NOW() WHERE account_id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(accountIDs)); err != nil {
		return fmt.Errorf("failed to detach transactions: %w", err)
	}
	return nil
}

func (r *TransactionRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}
