package openfinance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finsync/internal/domain/transaction"
	"finsync/internal/infrastructure/aggregator"
)

// SignConvention says how the aggregator signs transaction amounts.
type SignConvention string

const (
	// OutflowPositive reports money leaving the account as a positive amount.
	OutflowPositive SignConvention = "outflow_positive"
	// InflowPositive already matches the local convention.
	InflowPositive SignConvention = "inflow_positive"
)

// ParseSignConvention validates a configured convention. Empty means OutflowPositive.
func ParseSignConvention(s string) (SignConvention, error) {
	switch SignConvention(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutflowPositive:
		return OutflowPositive, nil
	case InflowPositive:
		return InflowPositive, nil
	}
	return "", fmt.Errorf("unknown sign convention %q", s)
}

// amountPlaces is the scale of every stored amount and balance.
const amountPlaces = 4

// roundAmount brings an aggregator value to the stored scale, so that change
// detection compares what the store will actually hold.
func roundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountPlaces)
}

func roundOptional(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := roundAmount(*d)
	return &r
}

// Normalize converts an aggregator amount to outflow negative, inflow positive.
func (c SignConvention) Normalize(amount decimal.Decimal) decimal.Decimal {
	if c == InflowPositive {
		return amount
	}
	return amount.Neg()
}

func toSyncedFields(rt aggregator.Transaction, accountID string, sign SignConvention) (transaction.SyncedFields, error) {
	posted, err := rt.GetDate()
	if err != nil {
		return transaction.SyncedFields{}, &aggregator.Error{Kind: aggregator.KindDecodeError, Op: "reconcile", Err: err}
	}
	authorized, err := rt.GetAuthorizedDate()
	if err != nil {
		return transaction.SyncedFields{}, &aggregator.Error{Kind: aggregator.KindDecodeError, Op: "reconcile", Err: err}
	}

	return transaction.SyncedFields{
		AccountID:       accountID,
		Amount:          roundAmount(sign.Normalize(rt.Amount)),
		PostedDate:      posted,
		AuthorizedDate:  authorized,
		Name:            rt.Name,
		MerchantName:    rt.GetMerchantName(),
		Pending:         rt.Pending,
		PendingRemoteID: rt.GetPendingTransactionID(),
		CategoryHints:   rt.Category,
		Location:        toLocation(rt.Location),
	}, nil
}

func toLocation(l *aggregator.Location) *transaction.Location {
	if l.IsEmpty() {
		return nil
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return &transaction.Location{
		Address:    deref(l.Address),
		City:       deref(l.City),
		Region:     deref(l.Region),
		PostalCode: deref(l.PostalCode),
		Country:    deref(l.Country),
		Lat:        l.Lat,
		Lon:        l.Lon,
	}
}
