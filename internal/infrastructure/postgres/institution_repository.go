package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
)

const institutionColumns = `
	id, item_id, user_id, institution_name, credential_ref, sync_cursor, last_synced_at,
	status, last_error_kind, last_error, disconnected_at, created_at, updated_at`

// InstitutionRepository implements institution.Repository and
// openfinance.CursorStore for PostgreSQL
type InstitutionRepository struct {
	db querier
}

var (
	_ institution.Repository  = (*InstitutionRepository)(nil)
	_ openfinance.CursorStore = (*InstitutionRepository)(nil)
)

// NewInstitutionRepository creates a new PostgreSQL institution repository
func NewInstitutionRepository(db *DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstitution(row scanner) (*institution.LinkedInstitution, error) {
	var inst institution.LinkedInstitution
	var cursor sql.NullString
	var lastSyncedAt, disconnectedAt sql.NullTime

	err := row.Scan(
		&inst.ID, &inst.ItemID, &inst.UserID, &inst.InstitutionName, &inst.CredentialRef,
		&cursor, &lastSyncedAt, &inst.Status, &inst.LastErrorKind, &inst.LastError,
		&disconnectedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cursor.Valid {
		inst.Cursor = &cursor.String
	}
	if lastSyncedAt.Valid {
		inst.LastSyncedAt = &lastSyncedAt.Time
	}
	if disconnectedAt.Valid {
		inst.DisconnectedAt = &disconnectedAt.Time
	}
	return &inst, nil
}

// Create creates a new linked institution
func (r *InstitutionRepository) Create(ctx context.Context, params institution.CreateParams) (*institution.LinkedInstitution, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", institution.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO institutions (id, item_id, user_id, institution_name, credential_ref, status)
		VALUES ($1, $2, $3, $4, $5, 'idle')
		RETURNING` + institutionColumns

	inst, err := scanInstitution(r.db.QueryRowContext(ctx, query,
		params.ID, params.ItemID, params.UserID, params.InstitutionName, params.CredentialRef,
	))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("institution for item %s already exists: %w", params.ItemID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create institution: %w", err)
	}
	return inst, nil
}

// GetByID retrieves an institution by its ID
func (r *InstitutionRepository) GetByID(ctx context.Context, id string) (*institution.LinkedInstitution, error) {
	query := `SELECT` + institutionColumns + ` FROM institutions WHERE id = $1`

	inst, err := scanInstitution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, institution.ErrInstitutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get institution: %w", err)
	}
	return inst, nil
}

// FindByItemID returns (nil, nil) when no institution has the item ID
func (r *InstitutionRepository) FindByItemID(ctx context.Context, itemID string) (*institution.LinkedInstitution, error) {
	query := `SELECT` + institutionColumns + ` FROM institutions WHERE item_id = $1`

	inst, err := scanInstitution(r.db.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find institution by item: %w", err)
	}
	return inst, nil
}

// ListByUserID retrieves all institutions of a user
func (r *InstitutionRepository) ListByUserID(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error) {
	query := `SELECT` + institutionColumns + ` FROM institutions WHERE user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, userID)
}

// ListLinked retrieves every institution that can be synced
func (r *InstitutionRepository) ListLinked(ctx context.Context) ([]*institution.LinkedInstitution, error) {
	query := `SELECT` + institutionColumns + `
		FROM institutions
		WHERE credential_ref <> '' AND disconnected_at IS NULL
		ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *InstitutionRepository) list(ctx context.Context, query string, args ...any) ([]*institution.LinkedInstitution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}
	defer rows.Close()

	var out []*institution.LinkedInstitution
	for rows.Next() {
		inst, err := scanInstitution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan institution: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating institutions: %w", err)
	}
	return out, nil
}

// Reactivate attaches a fresh credential and clears error and disconnect state
func (r *InstitutionRepository) Reactivate(ctx context.Context, id, credentialRef string) (*institution.LinkedInstitution, error) {
	query := `
		UPDATE institutions
		SET credential_ref = $2, disconnected_at = NULL, status = 'idle',
		    last_error_kind = '', last_error = '', updated_at = NOW()
		WHERE id = $1
		RETURNING` + institutionColumns

	inst, err := scanInstitution(r.db.QueryRowContext(ctx, query, id, credentialRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, institution.ErrInstitutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate institution: %w", err)
	}
	return inst, nil
}

// MarkDisconnected clears the credential reference and records the disconnect time
func (r *InstitutionRepository) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE institutions
		SET credential_ref = '', disconnected_at = $2, status = 'idle',
		    last_error_kind = '', last_error = '', updated_at = NOW()
		WHERE id = $1`
	return r.exec(ctx, "mark institution disconnected", query, id, at)
}

// Cursor returns the last committed cursor, nil before the first page
func (r *InstitutionRepository) Cursor(ctx context.Context, institutionID string) (*string, error) {
	var cursor sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT sync_cursor FROM institutions WHERE id = $1`, institutionID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, institution.ErrInstitutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if !cursor.Valid {
		return nil, nil
	}
	return &cursor.String, nil
}

// Commit stores the cursor after a page has been applied
func (r *InstitutionRepository) Commit(ctx context.Context, institutionID, cursor string) error {
	query := `UPDATE institutions SET sync_cursor = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "commit cursor", query, institutionID, cursor)
}

// Reset clears the cursor so the next sync starts from the beginning
func (r *InstitutionRepository) Reset(ctx context.Context, institutionID string) error {
	query := `UPDATE institutions SET sync_cursor = NULL, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "reset cursor", query, institutionID)
}

// SetStatus records a sync state transition. last_synced_at only moves forward
// when update.SyncedAt is set.
func (r *InstitutionRepository) SetStatus(ctx context.Context, institutionID string, update institution.StatusUpdate) error {
	query := `
		UPDATE institutions
		SET status = $2, last_error_kind = $3, last_error = $4,
		    last_synced_at = COALESCE($5, last_synced_at), updated_at = NOW()
		WHERE id = $1`

	var syncedAt sql.NullTime
	if update.SyncedAt != nil {
		syncedAt = sql.NullTime{Time: *update.SyncedAt, Valid: true}
	}
	return r.exec(ctx, "set institution status", query, institutionID, update.Status, update.ErrorKind, update.Error, syncedAt)
}

func (r *InstitutionRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return institution.ErrInstitutionNotFound
	}
	return nil
}
