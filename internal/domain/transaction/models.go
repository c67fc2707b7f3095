package transaction

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Location is where the aggregator says a transaction happened.
type Location struct {
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	Region     string   `json:"region,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

func (l *Location) equal(o *Location) bool {
	if l == nil || o == nil {
		return l == nil && o == nil
	}
	return l.Address == o.Address &&
		l.City == o.City &&
		l.Region == o.Region &&
		l.PostalCode == o.PostalCode &&
		l.Country == o.Country &&
		equalFloat(l.Lat, o.Lat) &&
		equalFloat(l.Lon, o.Lon)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Transaction is a single money movement on an account.
// Amount is negative for outflows and positive for inflows.
type Transaction struct {
	ID              string          `json:"id"`
	RemoteID        *string         `json:"remoteId"`
	AccountID       string          `json:"accountId"`
	Amount          decimal.Decimal `json:"amount"`
	PostedDate      time.Time       `json:"postedDate"`
	AuthorizedDate  *time.Time      `json:"authorizedDate,omitempty"`
	Name            string          `json:"name"`
	MerchantName    string          `json:"merchantName,omitempty"`
	Pending         bool            `json:"pending"`
	PendingRemoteID string          `json:"pendingRemoteId,omitempty"`
	CategoryHints   []string        `json:"categoryHints"`
	Location        *Location       `json:"location,omitempty"`

	// Owned by the user; reconciliation never writes these.
	Notes            string   `json:"notes"`
	Tags             []string `json:"tags"`
	Hidden           bool     `json:"hidden"`
	Split            bool     `json:"split"`
	CategoryOverride *string  `json:"categoryOverride,omitempty"`
	IsUserModified   bool     `json:"isUserModified"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncedFields are the aggregator-owned fields of a transaction.
type SyncedFields struct {
	AccountID       string
	Amount          decimal.Decimal
	PostedDate      time.Time
	AuthorizedDate  *time.Time
	Name            string
	MerchantName    string
	Pending         bool
	PendingRemoteID string
	CategoryHints   []string
	Location        *Location
}

// SyncedFields extracts the aggregator-owned part of t.
func (t *Transaction) SyncedFields() SyncedFields {
	return SyncedFields{
		AccountID:       t.AccountID,
		Amount:          t.Amount,
		PostedDate:      t.PostedDate,
		AuthorizedDate:  t.AuthorizedDate,
		Name:            t.Name,
		MerchantName:    t.MerchantName,
		Pending:         t.Pending,
		PendingRemoteID: t.PendingRemoteID,
		CategoryHints:   t.CategoryHints,
		Location:        t.Location,
	}
}

// Equal compares by value. Amounts compare numerically and dates by instant.
func (f SyncedFields) Equal(o SyncedFields) bool {
	return f.AccountID == o.AccountID &&
		f.Amount.Equal(o.Amount) &&
		f.PostedDate.Equal(o.PostedDate) &&
		equalTime(f.AuthorizedDate, o.AuthorizedDate) &&
		f.Name == o.Name &&
		f.MerchantName == o.MerchantName &&
		f.Pending == o.Pending &&
		f.PendingRemoteID == o.PendingRemoteID &&
		equalHints(f.CategoryHints, o.CategoryHints) &&
		f.Location.equal(o.Location)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// nil and empty hint lists are the same thing
func equalHints(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}

// CreateParams contains parameters for creating a transaction
type CreateParams struct {
	ID       string
	RemoteID *string
	SyncedFields
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.ID == "" {
		return errors.New("transaction ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.RemoteID != nil && *p.RemoteID == "" {
		return errors.New("remote ID must not be empty when set")
	}
	return nil
}

// UserFieldsUpdate is a partial edit of the user-owned fields.
// Nil fields are left as they are.
type UserFieldsUpdate struct {
	Notes            *string
	Tags             *[]string
	Hidden           *bool
	Split            *bool
	CategoryOverride *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserFieldsUpdate) IsEmpty() bool {
	return u.Notes == nil && u.Tags == nil && u.Hidden == nil && u.Split == nil && u.CategoryOverride == nil
}

// Apply writes the update onto t and marks it as user modified.
func (u UserFieldsUpdate) Apply(t *Transaction) {
	if u.Notes != nil {
		t.Notes = *u.Notes
	}
	if u.Tags != nil {
		t.Tags = slices.Clone(*u.Tags)
	}
	if u.Hidden != nil {
		t.Hidden = *u.Hidden
	}
	if u.Split != nil {
		t.Split = *u.Split
	}
	if u.CategoryOverride != nil {
		if *u.CategoryOverride == "" {
			t.CategoryOverride = nil
		} else {
			v := *u.CategoryOverride
			t.CategoryOverride = &v
		}
	}
	t.IsUserModified = true
}
