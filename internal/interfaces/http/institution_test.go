package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/aggregator"
)

type MockLinkService struct {
	CreateLinkTokenFunc func(ctx context.Context, userID string) (*aggregator.LinkToken, error)
	ConnectFunc         func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error)
	ListFunc            func(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error)
	DisconnectFunc      func(ctx context.Context, userID, id string) error
	CheckFunc           func(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error)
}

func (m *MockLinkService) CreateLinkToken(ctx context.Context, userID string) (*aggregator.LinkToken, error) {
	return m.CreateLinkTokenFunc(ctx, userID)
}

func (m *MockLinkService) Connect(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
	return m.ConnectFunc(ctx, userID, publicToken)
}

func (m *MockLinkService) List(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error) {
	return m.ListFunc(ctx, userID)
}

func (m *MockLinkService) Disconnect(ctx context.Context, userID, id string) error {
	return m.DisconnectFunc(ctx, userID, id)
}

func (m *MockLinkService) Check(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error) {
	return m.CheckFunc(ctx, userID, id)
}

func TestHandleLinkToken(t *testing.T) {
	links := &MockLinkService{
		CreateLinkTokenFunc: func(ctx context.Context, userID string) (*aggregator.LinkToken, error) {
			assert.Equal(t, "user-1", userID)
			return &aggregator.LinkToken{LinkToken: "link-sandbox-1", Expiration: "2024-03-01T09:00:00Z"}, nil
		},
	}
	h := NewInstitutionHandler(links, testLogger())

	rr := httptest.NewRecorder()
	h.HandleLinkToken(rr, newRequest(http.MethodPost, "/api/institutions/link-token", "", "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var body LinkTokenResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "link-sandbox-1", body.LinkToken)
}

func TestHandleConnect(t *testing.T) {
	connected := &institution.LinkedInstitution{ID: "inst-1", UserID: "user-1", InstitutionName: "First Bank", CredentialRef: "item:1", Status: institution.StatusIdle}

	tests := []struct {
		name           string
		body           string
		connectErr     error
		expectedStatus int
		expectedCalls  int
	}{
		{"success", `{"publicToken":"public-sandbox-1"}`, nil, http.StatusCreated, 1},
		{"missing token", `{"publicToken":"  "}`, nil, http.StatusBadRequest, 0},
		{"malformed body", `{"publicToken":`, nil, http.StatusBadRequest, 0},
		{"unknown field", `{"token":"x"}`, nil, http.StatusBadRequest, 0},
		{"item of another user", `{"publicToken":"p"}`, openfinance.ErrForbidden, http.StatusForbidden, 1},
		{
			name:           "exchange rejected",
			body:           `{"publicToken":"p"}`,
			connectErr:     fmt.Errorf("failed to exchange public token: %w", &aggregator.Error{Kind: aggregator.KindInvalidCredential, Op: "exchange"}),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCalls:  1,
		},
		{
			name:           "aggregator down",
			body:           `{"publicToken":"p"}`,
			connectErr:     &aggregator.Error{Kind: aggregator.KindTransientNetwork, Op: "exchange", StatusCode: 503},
			expectedStatus: http.StatusBadGateway,
			expectedCalls:  1,
		},
		{"store failure", `{"publicToken":"p"}`, errors.New("connection reset"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			links := &MockLinkService{
				ConnectFunc: func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
					calls++
					if tt.connectErr != nil {
						return nil, tt.connectErr
					}
					return &openfinance.ConnectResult{
						Institution: connected,
						Accounts:    &openfinance.BalanceResult{AccountsFound: 2},
					}, nil
				},
			}
			h := NewInstitutionHandler(links, testLogger())

			rr := httptest.NewRecorder()
			h.HandleConnect(rr, newRequest(http.MethodPost, "/api/institutions", tt.body, "user-1"))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectedStatus == http.StatusCreated {
				var body ConnectResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Equal(t, "inst-1", body.Institution.ID)
				assert.Equal(t, 2, body.AccountsFound)
				assert.True(t, body.Institution.Linked)
			}
		})
	}
}

func TestHandleList_ReportsRelinkRequired(t *testing.T) {
	links := &MockLinkService{
		ListFunc: func(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error) {
			return []*institution.LinkedInstitution{
				{ID: "inst-ok", CredentialRef: "item:a", Status: institution.StatusIdle},
				{ID: "inst-relink", CredentialRef: "item:b", Status: institution.StatusError, LastErrorKind: institution.ErrorKindInvalidCredential},
				{ID: "inst-flaky", CredentialRef: "item:c", Status: institution.StatusError, LastErrorKind: "unknown"},
			}, nil
		},
	}
	h := NewInstitutionHandler(links, testLogger())

	rr := httptest.NewRecorder()
	h.HandleList(rr, newRequest(http.MethodGet, "/api/institutions", "", "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var body []InstitutionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body, 3)
	assert.False(t, body[0].RelinkRequired)
	assert.True(t, body[1].RelinkRequired)
	assert.False(t, body[2].RelinkRequired)
}

func TestHandleDisconnect(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"success", nil, http.StatusNoContent},
		{"not found", institution.ErrInstitutionNotFound, http.StatusNotFound},
		{"other user", openfinance.ErrForbidden, http.StatusForbidden},
		{"already disconnected", institution.ErrAlreadyDisconnected, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			links := &MockLinkService{
				DisconnectFunc: func(ctx context.Context, userID, id string) error {
					gotID = id
					return tt.err
				},
			}
			h := NewInstitutionHandler(links, testLogger())

			rr := serve("DELETE /api/institutions/{id}", h.HandleDisconnect,
				newRequest(http.MethodDelete, "/api/institutions/inst-9", "", "user-1"))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "inst-9", gotID)
		})
	}
}

func TestHandleCheck(t *testing.T) {
	links := &MockLinkService{
		CheckFunc: func(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error) {
			return &institution.LinkedInstitution{
				ID:            id,
				CredentialRef: "item:x",
				Status:        institution.StatusError,
				LastErrorKind: institution.ErrorKindInvalidCredential,
			}, nil
		},
	}
	h := NewInstitutionHandler(links, testLogger())

	rr := serve("POST /api/institutions/{id}/check", h.HandleCheck,
		newRequest(http.MethodPost, "/api/institutions/inst-2/check", "", "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var body InstitutionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "inst-2", body.ID)
	assert.True(t, body.RelinkRequired)
}

func TestInstitutionHandlers_Unauthenticated(t *testing.T) {
	h := NewInstitutionHandler(&MockLinkService{}, testLogger())

	handlers := map[string]http.HandlerFunc{
		"link-token": h.HandleLinkToken,
		"connect":    h.HandleConnect,
		"list":       h.HandleList,
		"disconnect": h.HandleDisconnect,
		"check":      h.HandleCheck,
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler(rr, newRequest(http.MethodPost, "/api/institutions", `{}`, ""))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}
