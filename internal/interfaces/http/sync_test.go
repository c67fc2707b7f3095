package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSync struct {
	Running   bool
	LastPass  *time.Time
	Triggered int
}

func (m *MockSync) TriggerNow()            { m.Triggered++ }
func (m *MockSync) IsRunning() bool        { return m.Running }
func (m *MockSync) LastPassAt() *time.Time { return m.LastPass }

func TestHandleTrigger(t *testing.T) {
	tests := []struct {
		name           string
		running        bool
		userID         string
		expectedStatus int
		expectedStart  bool
		expectedCalls  int
	}{
		{"idle starts a pass", false, "user-1", http.StatusAccepted, true, 1},
		{"running pass is not restarted", true, "user-1", http.StatusOK, false, 0},
		{"unauthenticated", false, "", http.StatusUnauthorized, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSync{Running: tt.running}
			h := NewSyncHandler(mock, mock)

			rr := httptest.NewRecorder()
			h.HandleTrigger(rr, newRequest(http.MethodPost, "/api/sync", "", tt.userID))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedCalls, mock.Triggered)
			if tt.userID == "" {
				return
			}
			var body map[string]bool
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.expectedStart, body["started"])
		})
	}
}

func TestHandleStatus(t *testing.T) {
	last := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	mock := &MockSync{Running: true, LastPass: &last}
	h := NewSyncHandler(mock, mock)

	rr := httptest.NewRecorder()
	h.HandleStatus(rr, newRequest(http.MethodGet, "/api/sync", "", "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var body SyncStatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, body.Running)
	require.NotNil(t, body.LastPassAt)
	assert.True(t, last.Equal(*body.LastPassAt))
}
