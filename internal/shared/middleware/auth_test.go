package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type MockValidator struct {
	ValidateFunc func(token string) (string, error)
}

func (m *MockValidator) Validate(token string) (string, error) {
	return m.ValidateFunc(token)
}

func TestAuth(t *testing.T) {
	validator := &MockValidator{
		ValidateFunc: func(token string) (string, error) {
			if token == "good" {
				return "user-1", nil
			}
			return "", errors.New("bad token")
		},
	}

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedUser   string
	}{
		{"valid token", "Bearer good", http.StatusOK, "user-1"},
		{"lowercase scheme", "bearer good", http.StatusOK, "user-1"},
		{"no token", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer invalid", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			Auth(validator)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedUser, gotUser)
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	_, ok := UserIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
