package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure for the per-institution status record.
type Kind string

const (
	KindInvalidCredential Kind = "invalid_credential"
	KindTransientNetwork  Kind = "transient_network"
	KindDecodeError       Kind = "decode_error"
	KindReferentialGap    Kind = "referential_gap"
	KindRateLimited       Kind = "rate_limited"
	KindUnknown           Kind = "unknown"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidCredential = errors.New("aggregator rejected the credential")
	ErrTransientNetwork  = errors.New("aggregator unreachable")
	ErrDecode            = errors.New("aggregator response could not be decoded")
	ErrReferentialGap    = errors.New("record references an unknown account")
	ErrRateLimited       = errors.New("aggregator rate limit exceeded")
)

var kindSentinels = map[Kind]error{
	KindInvalidCredential: ErrInvalidCredential,
	KindTransientNetwork:  ErrTransientNetwork,
	KindDecodeError:       ErrDecode,
	KindReferentialGap:    ErrReferentialGap,
	KindRateLimited:       ErrRateLimited,
}

// Item error codes that mean the user has to link the institution again.
var invalidCredentialCodes = map[string]struct{}{
	"ITEM_LOGIN_REQUIRED":  {},
	"INVALID_ACCESS_TOKEN": {},
	"ITEM_NOT_FOUND":       {},
	"ACCESS_NOT_GRANTED":   {},
}

// Error is returned by every Client operation that fails.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("aggregator %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) and friends match by kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewReferentialGap builds the error recorded when a transaction points at an
// account the store does not know.
func NewReferentialGap(transactionID, accountID string) *Error {
	return &Error{
		Kind:    KindReferentialGap,
		Op:      "reconcile",
		Message: fmt.Sprintf("transaction %s references unknown account %s", transactionID, accountID),
	}
}

// KindOf returns the taxonomy kind of err. Errors that did not come from the
// aggregator are KindUnknown, except timeouts and network failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var aggErr *Error
	if errors.As(err, &aggErr) {
		return aggErr.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	if isNetworkError(err) {
		return KindTransientNetwork
	}
	return KindUnknown
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify maps an HTTP failure onto a kind. Item codes win over the status
// code since some item errors come back as 400.
func classify(statusCode int, code string) Kind {
	if _, ok := invalidCredentialCodes[code]; ok {
		return KindInvalidCredential
	}
	if code == "RATE_LIMIT_EXCEEDED" || statusCode == http.StatusTooManyRequests {
		return KindRateLimited
	}
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return KindInvalidCredential
	case statusCode >= http.StatusInternalServerError:
		return KindTransientNetwork
	case statusCode == http.StatusRequestTimeout:
		return KindTransientNetwork
	}
	return KindUnknown
}
