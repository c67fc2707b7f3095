package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsync/internal/domain/credential"
)

// CredentialStore keeps encrypted credentials in the credentials table.
// It never sees plaintext.
type CredentialStore struct {
	db querier
}

func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	var ciphertext string
	err := s.db.QueryRowContext(ctx, `SELECT ciphertext FROM credentials WHERE key = $1`, key).Scan(&ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credential.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	return ciphertext, nil
}

func (s *CredentialStore) Put(ctx context.Context, key, ciphertext string) error {
	query := `
		INSERT INTO credentials (key, ciphertext)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, key, ciphertext); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return credential.ErrNotFound
	}
	return nil
}
