// Package credential defines the secret-at-rest store for aggregator access credentials.
package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no secret exists for a key.
// Any other error from a Vault is an I/O failure.
var ErrNotFound = errors.New("credential not found")

// Vault stores secrets keyed by an institution-link reference.
// Each operation is atomic.
type Vault interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, secret []byte) error
	Delete(ctx context.Context, key string) error
}
