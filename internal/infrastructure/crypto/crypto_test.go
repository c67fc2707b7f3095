package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "01234567890123456789012345678901" // 32 bytes for AES-256

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid key", key: testKey},
		{name: "too short", key: "too-short", wantErr: ErrInvalidKey},
		{name: "empty", key: "", wantErr: ErrInvalidKey},
		{name: "too long", key: testKey + "x", wantErr: ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "access-sandbox-8ab976e6-64bc-4b38-98f7-731e7a349970"},
		{"unicode", "Transação financeira: R$ 1.500,00 café ☕"},
		{"long", strings.Repeat("long content ", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, ciphertext)

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestEncrypt_DifferentCiphertexts(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	c1, err := enc.Encrypt("same text")
	require.NoError(t, err)
	c2, err := enc.Encrypt("same text")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "nonce should differ")
}

func TestDecrypt_Rejects(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	other, err := NewEncryptor("98765432109876543210987654321098")
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("secret data")
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		tampered := ciphertext[:len(ciphertext)-2] + "XX"
		_, err := enc.Decrypt(tampered)
		assert.Error(t, err)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := enc.Decrypt("not-valid-base64!!!")
		assert.Error(t, err)
	})

	t.Run("shorter than nonce", func(t *testing.T) {
		_, err := enc.Decrypt("YQ==") // "a" in base64
		assert.ErrorIs(t, err, ErrCiphertextTooShort)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := other.Decrypt(ciphertext)
		assert.Error(t, err)
	})
}
