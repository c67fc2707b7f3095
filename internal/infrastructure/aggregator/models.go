package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// LinkToken starts the institution-linking flow in a client UI.
type LinkToken struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
}

// Exchange is the result of trading a public token for a long-lived credential.
type Exchange struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// Item describes one institution connection.
type Item struct {
	ItemID          string     `json:"item_id"`
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	Error           *ItemError `json:"error"`
}

// ItemError is set on an item the aggregator can no longer refresh.
type ItemError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// LoginRequired reports whether the item needs the user to link again.
func (i *Item) LoginRequired() bool {
	if i == nil || i.Error == nil {
		return false
	}
	_, ok := invalidCredentialCodes[i.Error.ErrorCode]
	return ok
}

// AccountsResponse is returned by the accounts and balances endpoints.
type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	Item      Item      `json:"item"`
	RequestID string    `json:"request_id"`
}

// Account as reported by the aggregator.
type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName string   `json:"official_name"`
	Mask         string   `json:"mask"`
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Balances     Balances `json:"balances"`
}

// Balances are nil when the institution does not report them.
type Balances struct {
	Current         *decimal.Decimal `json:"current"`
	Available       *decimal.Decimal `json:"available"`
	Limit           *decimal.Decimal `json:"limit"`
	ISOCurrencyCode string           `json:"iso_currency_code"`
}

// SyncPage is one page of the incremental transaction feed.
type SyncPage struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// Size is the number of records on the page.
func (p *SyncPage) Size() int {
	return len(p.Added) + len(p.Modified) + len(p.Removed)
}

func (p *SyncPage) validate() error {
	if p.NextCursor == "" {
		return fmt.Errorf("missing next_cursor")
	}
	for _, t := range append(append([]Transaction(nil), p.Added...), p.Modified...) {
		if t.TransactionID == "" {
			return fmt.Errorf("transaction without transaction_id")
		}
		if t.AccountID == "" {
			return fmt.Errorf("transaction %s without account_id", t.TransactionID)
		}
		if _, err := t.GetDate(); err != nil {
			return err
		}
		if _, err := t.GetAuthorizedDate(); err != nil {
			return err
		}
	}
	for _, r := range p.Removed {
		if r.TransactionID == "" {
			return fmt.Errorf("removed entry without transaction_id")
		}
	}
	return nil
}

// Transaction as reported by the aggregator. Amount follows the aggregator's
// sign convention and must be normalized before storing.
type Transaction struct {
	TransactionID        string          `json:"transaction_id"`
	AccountID            string          `json:"account_id"`
	Amount               decimal.Decimal `json:"amount"`
	ISOCurrencyCode      string          `json:"iso_currency_code"`
	DateString           string          `json:"date"`
	AuthorizedDateString *string         `json:"authorized_date"`
	Name                 string          `json:"name"`
	MerchantName         *string         `json:"merchant_name"`
	Pending              bool            `json:"pending"`
	PendingTransactionID *string         `json:"pending_transaction_id"`
	Category             []string        `json:"category"`
	Location             *Location       `json:"location"`
}

// RemovedTransaction only carries the id of the deleted record.
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

// Location of a transaction. Every field may be null.
type Location struct {
	Address    *string  `json:"address"`
	City       *string  `json:"city"`
	Region     *string  `json:"region"`
	PostalCode *string  `json:"postal_code"`
	Country    *string  `json:"country"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
}

// IsEmpty reports whether the aggregator sent a location with nothing in it.
func (l *Location) IsEmpty() bool {
	return l == nil || (l.Address == nil && l.City == nil && l.Region == nil &&
		l.PostalCode == nil && l.Country == nil && l.Lat == nil && l.Lon == nil)
}

// GetDate parses the posted date
func (t *Transaction) GetDate() (time.Time, error) {
	if t.DateString == "" {
		return time.Time{}, fmt.Errorf("transaction %s has no date", t.TransactionID)
	}
	parsed, err := parseDate(t.DateString)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", t.DateString, err)
	}
	return parsed, nil
}

// GetAuthorizedDate parses the authorized date if present
func (t *Transaction) GetAuthorizedDate() (*time.Time, error) {
	if t.AuthorizedDateString == nil || *t.AuthorizedDateString == "" {
		return nil, nil
	}
	parsed, err := parseDate(*t.AuthorizedDateString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorized_date '%s': %w", *t.AuthorizedDateString, err)
	}
	return &parsed, nil
}

// GetMerchantName returns the merchant name or an empty string
func (t *Transaction) GetMerchantName() string {
	if t.MerchantName == nil {
		return ""
	}
	return *t.MerchantName
}

// GetPendingTransactionID returns the id of the pending record this one replaces, if any
func (t *Transaction) GetPendingTransactionID() string {
	if t.PendingTransactionID == nil {
		return ""
	}
	return *t.PendingTransactionID
}

func parseDate(s string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
	}
	return parsed, err
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}
