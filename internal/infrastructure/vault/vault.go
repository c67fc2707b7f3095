// Package vault implements credential.Vault by encrypting secrets before they
// reach the backing store.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"finsync/internal/domain/credential"
)

// DefaultCacheTTL is how long a decrypted secret is served from memory.
const DefaultCacheTTL = 5 * time.Minute

// SecretStore persists ciphertext by key. Get returns credential.ErrNotFound for a missing key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, ciphertext string) error
	Delete(ctx context.Context, key string) error
}

// Cipher seals and opens secrets.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EncryptedVault encrypts on write, decrypts on read and caches decrypted
// secrets for a short time. Writes and deletes invalidate the cache.
type EncryptedVault struct {
	store  SecretStore
	cipher Cipher
	cache  *cache.Cache
}

var _ credential.Vault = (*EncryptedVault)(nil)

// New creates a vault. A ttl of 0 disables caching.
func New(store SecretStore, cipher Cipher, ttl time.Duration) *EncryptedVault {
	v := &EncryptedVault{store: store, cipher: cipher}
	if ttl > 0 {
		v.cache = cache.New(ttl, 2*ttl)
	}
	return v
}

func (v *EncryptedVault) Get(ctx context.Context, key string) ([]byte, error) {
	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			return []byte(cached.(string)), nil
		}
	}

	ciphertext, err := v.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := v.cipher.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	if v.cache != nil {
		v.cache.SetDefault(key, plaintext)
	}
	return []byte(plaintext), nil
}

func (v *EncryptedVault) Set(ctx context.Context, key string, secret []byte) error {
	if len(secret) == 0 {
		return errors.New("credential must not be empty")
	}

	ciphertext, err := v.cipher.Encrypt(string(secret))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := v.store.Put(ctx, key, ciphertext); err != nil {
		return err
	}
	// After the write, so a read racing it cannot leave the old secret cached.
	v.invalidate(key)
	return nil
}

func (v *EncryptedVault) Delete(ctx context.Context, key string) error {
	err := v.store.Delete(ctx, key)
	v.invalidate(key)
	return err
}

func (v *EncryptedVault) invalidate(key string) {
	if v.cache != nil {
		v.cache.Delete(key)
	}
}
