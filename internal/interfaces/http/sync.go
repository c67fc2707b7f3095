package http

import (
	"net/http"
	"time"
)

// SyncTrigger starts a pass in the background. Overlapping passes collapse
// into the one already running.
type SyncTrigger interface {
	TriggerNow()
}

type SyncState interface {
	IsRunning() bool
	LastPassAt() *time.Time
}

type SyncHandler struct {
	trigger SyncTrigger
	state   SyncState
}

func NewSyncHandler(trigger SyncTrigger, state SyncState) *SyncHandler {
	return &SyncHandler{trigger: trigger, state: state}
}

type SyncStatusResponse struct {
	Running    bool       `json:"running"`
	LastPassAt *time.Time `json:"lastPassAt"`
}

// HandleTrigger answers 202 when a new pass was started and 200 when one
// was already running.
func (h *SyncHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	if h.state.IsRunning() {
		writeJSON(w, http.StatusOK, map[string]bool{"started": false})
		return
	}

	h.trigger.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (h *SyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Running:    h.state.IsRunning(),
		LastPassAt: h.state.LastPassAt(),
	})
}
