package memory

import (
	"context"
	"slices"
	"sync"

	"finsync/internal/domain/credential"
)

// Vault is an unencrypted credential.Vault for tests.
type Vault struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

var _ credential.Vault = (*Vault)(nil)

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{secrets: make(map[string][]byte)}
}

func (v *Vault) Get(ctx context.Context, key string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	secret, ok := v.secrets[key]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return slices.Clone(secret), nil
}

func (v *Vault) Set(ctx context.Context, key string, secret []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[key] = slices.Clone(secret)
	return nil
}

func (v *Vault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.secrets[key]; !ok {
		return credential.ErrNotFound
	}
	delete(v.secrets, key)
	return nil
}
