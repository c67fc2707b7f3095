package account

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the local account classification.
type Type string

const (
	TypeChecking   Type = "checking"
	TypeSavings    Type = "savings"
	TypeCreditCard Type = "creditCard"
	TypeLoan       Type = "loan"
	TypeInvestment Type = "investment"
	TypeOther      Type = "other"
)

const defaultCurrency = "USD"

var accountTypes = map[Type]struct{}{
	TypeChecking:   {},
	TypeSavings:    {},
	TypeCreditCard: {},
	TypeLoan:       {},
	TypeInvestment: {},
	TypeOther:      {},
}

// Aggregator subtypes of "depository" that are held as savings locally.
var savingsSubtypes = map[string]struct{}{
	"savings":         {},
	"money market":    {},
	"cd":              {},
	"hsa":             {},
	"cash management": {},
	"cash isa":        {},
}

// Domain errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCurrency    = errors.New("currency must be a 3-letter ISO 4217 code")
	ErrForbidden          = errors.New("account belongs to another user")
)

// Account is a local financial account, either synced from an institution
// or created manually (InstitutionID and RemoteID nil).
type Account struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	InstitutionID    *string          `json:"institutionId"`
	RemoteID         *string          `json:"remoteId"`
	Name             string           `json:"name"`
	OfficialName     string           `json:"officialName,omitempty"`
	Mask             string           `json:"mask,omitempty"`
	Type             Type             `json:"type"`
	CurrentBalance   decimal.Decimal  `json:"currentBalance"`
	AvailableBalance *decimal.Decimal `json:"availableBalance"`
	CreditLimit      *decimal.Decimal `json:"creditLimit"`
	Currency         string           `json:"currency"`
	LastSyncedAt     *time.Time       `json:"lastSyncedAt"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// CreateParams contains parameters for creating a new account
type CreateParams struct {
	ID               string
	UserID           string
	InstitutionID    *string
	RemoteID         *string
	Name             string
	OfficialName     string
	Mask             string
	Type             Type
	CurrentBalance   decimal.Decimal
	AvailableBalance *decimal.Decimal
	CreditLimit      *decimal.Decimal
	Currency         string
	LastSyncedAt     *time.Time
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.ID == "" {
		return errors.New("account ID is required")
	}
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidType(p.Type) {
		return ErrInvalidAccountType
	}
	if (p.InstitutionID == nil) != (p.RemoteID == nil) {
		return errors.New("institution ID and remote ID must be set together")
	}
	if len(p.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// BalanceUpdate carries the aggregator-owned balance fields of an account.
type BalanceUpdate struct {
	Current   decimal.Decimal
	Available *decimal.Decimal
	Limit     *decimal.Decimal
	SyncedAt  time.Time
}

// BalancesEqual reports whether applying u would leave the numeric balances unchanged.
// Comparison is by value, so 10.5 and 10.50 are equal.
func (a *Account) BalancesEqual(u BalanceUpdate) bool {
	return a.CurrentBalance.Equal(u.Current) &&
		equalOptional(a.AvailableBalance, u.Available) &&
		equalOptional(a.CreditLimit, u.Limit)
}

func equalOptional(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// IsValidType checks if the provided account type is valid.
func IsValidType(t Type) bool {
	_, ok := accountTypes[t]
	return ok
}

// NormalizeCurrency upper-cases a currency code and applies the default when empty.
func NormalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return defaultCurrency
	}
	return c
}

// MapRemoteType maps the aggregator's type/subtype taxonomy onto a local Type.
// Anything unrecognised maps to TypeOther.
func MapRemoteType(remoteType, subtype string) Type {
	remoteType = strings.ToLower(strings.TrimSpace(remoteType))
	subtype = strings.ToLower(strings.TrimSpace(subtype))

	switch remoteType {
	case "depository":
		if subtype == "checking" {
			return TypeChecking
		}
		if _, ok := savingsSubtypes[subtype]; ok {
			return TypeSavings
		}
		return TypeOther
	case "credit":
		return TypeCreditCard
	case "loan":
		return TypeLoan
	case "investment", "brokerage":
		return TypeInvestment
	default:
		return TypeOther
	}
}
