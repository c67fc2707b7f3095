package institution

import (
	"errors"
	"time"
)

// Status is the per-institution sync state surfaced to the UI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// ErrorKindInvalidCredential mirrors the aggregator taxonomy kind that requires a re-link.
const ErrorKindInvalidCredential = "invalid_credential"

// Domain errors
var (
	ErrInstitutionNotFound = errors.New("institution not found")
	ErrAlreadyDisconnected = errors.New("institution already disconnected")
	ErrInvalidInput        = errors.New("invalid input")
)

// LinkedInstitution is one item connection at the aggregator.
// The access credential itself lives in the vault; only its key is kept here.
type LinkedInstitution struct {
	ID              string     `json:"id"`
	ItemID          string     `json:"itemId"`
	UserID          string     `json:"userId"`
	InstitutionName string     `json:"institutionName"`
	CredentialRef   string     `json:"-"`
	Cursor          *string    `json:"-"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt"`
	Status          Status     `json:"status"`
	LastErrorKind   string     `json:"lastErrorKind,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsLinked reports whether the institution still has a credential to sync with.
func (i *LinkedInstitution) IsLinked() bool {
	return i.CredentialRef != "" && i.DisconnectedAt == nil
}

// RelinkRequired is true only when the last failure was a rejected credential.
func (i *LinkedInstitution) RelinkRequired() bool {
	return i.Status == StatusError && i.LastErrorKind == ErrorKindInvalidCredential
}

// CredentialRefForItem returns the vault key used for an item's access credential.
func CredentialRefForItem(itemID string) string {
	return "item:" + itemID
}

// CreateParams contains parameters for creating a linked institution
type CreateParams struct {
	ID              string
	ItemID          string
	UserID          string
	InstitutionName string
	CredentialRef   string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.ID == "" {
		return errors.New("institution ID is required")
	}
	if p.ItemID == "" {
		return errors.New("item ID is required")
	}
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.CredentialRef == "" {
		return errors.New("credential reference is required")
	}
	return nil
}

// StatusUpdate is written after every state transition of an institution's sync.
// SyncedAt is only set by a successful pass.
type StatusUpdate struct {
	Status    Status
	ErrorKind string
	Error     string
	SyncedAt  *time.Time
}
