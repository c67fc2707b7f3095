package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateAndValidate(t *testing.T) {
	j := NewJWT("my-secret-key")

	token, err := j.Generate("user-123", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := j.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestJWT_Validate_Rejects(t *testing.T) {
	j := NewJWT("my-secret-key")
	valid, err := j.Generate("user-123", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + ".invalid-signature"

	otherKey, err := NewJWT("other-secret").Generate("user-123", time.Hour)
	require.NoError(t, err)

	expired := NewJWT("my-secret-key")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Generate("user-123", time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("my-secret-key"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-123",
	}).SignedString([]byte("my-secret-key"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"invalid format", "a.b"},
		{"tampered signature", tampered},
		{"other key", otherKey},
		{"expired", expiredToken},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWT_Validate_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("my-secret-key"))
	require.NoError(t, err)

	_, err = NewJWT("my-secret-key").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
