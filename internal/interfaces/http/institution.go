package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/aggregator"
)

// LinkService is the part of openfinance.LinkService the handlers use.
type LinkService interface {
	CreateLinkToken(ctx context.Context, userID string) (*aggregator.LinkToken, error)
	Connect(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error)
	List(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error)
	Disconnect(ctx context.Context, userID, id string) error
	Check(ctx context.Context, userID, id string) (*institution.LinkedInstitution, error)
}

type InstitutionHandler struct {
	links LinkService
	log   logrus.FieldLogger
}

func NewInstitutionHandler(links LinkService, logger logrus.FieldLogger) *InstitutionHandler {
	return &InstitutionHandler{links: links, log: logger}
}

type ConnectRequest struct {
	PublicToken string `json:"publicToken"`
}

type LinkTokenResponse struct {
	LinkToken  string `json:"linkToken"`
	Expiration string `json:"expiration,omitempty"`
}

// InstitutionResponse is the per-institution status shown to the user.
type InstitutionResponse struct {
	ID              string     `json:"id"`
	InstitutionName string     `json:"institutionName"`
	Status          string     `json:"status"`
	LastErrorKind   string     `json:"lastErrorKind,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	RelinkRequired  bool       `json:"relinkRequired"`
	Linked          bool       `json:"linked"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type ConnectResponse struct {
	Institution   InstitutionResponse `json:"institution"`
	AccountsFound int                 `json:"accountsFound"`
}

func toInstitutionResponse(inst *institution.LinkedInstitution) InstitutionResponse {
	return InstitutionResponse{
		ID:              inst.ID,
		InstitutionName: inst.InstitutionName,
		Status:          string(inst.Status),
		LastErrorKind:   inst.LastErrorKind,
		LastError:       inst.LastError,
		RelinkRequired:  inst.RelinkRequired(),
		Linked:          inst.IsLinked(),
		LastSyncedAt:    inst.LastSyncedAt,
		DisconnectedAt:  inst.DisconnectedAt,
		CreatedAt:       inst.CreatedAt,
	}
}

func (h *InstitutionHandler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	token, err := h.links.CreateLinkToken(r.Context(), userID)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err)
		return
	}

	writeJSON(w, http.StatusOK, LinkTokenResponse{LinkToken: token.LinkToken, Expiration: token.Expiration})
}

func (h *InstitutionHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PublicToken = strings.TrimSpace(req.PublicToken)
	if req.PublicToken == "" {
		http.Error(w, "publicToken is required", http.StatusBadRequest)
		return
	}

	result, err := h.links.Connect(r.Context(), userID, req.PublicToken)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err)
		return
	}

	resp := ConnectResponse{Institution: toInstitutionResponse(result.Institution)}
	if result.Accounts != nil {
		resp.AccountsFound = result.Accounts.AccountsFound
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *InstitutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	insts, err := h.links.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.log.WithField("user_id", userID), err)
		return
	}

	response := make([]InstitutionResponse, 0, len(insts))
	for _, inst := range insts {
		response = append(response, toInstitutionResponse(inst))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *InstitutionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if err := h.links.Disconnect(r.Context(), userID, id); err != nil {
		writeError(w, h.log.WithFields(logrus.Fields{"user_id": userID, "institution_id": id}), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *InstitutionHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	inst, err := h.links.Check(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log.WithFields(logrus.Fields{"user_id": userID, "institution_id": id}), err)
		return
	}

	writeJSON(w, http.StatusOK, toInstitutionResponse(inst))
}
