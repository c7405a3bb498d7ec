package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/httpx"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/model"
	"github.com/jinto-josan/web-apps-sub001/services/profile-service/internal/storage"
)

// Service is the application layer the HTTP surface sits on.
type Service interface {
	Get(ctx context.Context, accountID string) (*model.ViewerProfile, error)
	OverrideEntitlement(ctx context.Context, accountID string, state model.EntitlementState, expectedToken string) (*model.ViewerProfile, error)
}

type ProfileHandler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

func (h *ProfileHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/profiles/{accountID}", h.Get)
	mux.HandleFunc("PUT /api/v1/profiles/{accountID}/entitlement", h.OverrideEntitlement)
}

type profileResponse struct {
	AccountID      string `json:"account_id"`
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
	Entitlement    string `json:"entitlement"`
	UpdatedAt      string `json:"updated_at"`
}

func toResponse(p *model.ViewerProfile) profileResponse {
	return profileResponse{
		AccountID:      p.AccountID,
		SubscriptionID: p.SubscriptionID,
		Plan:           p.Plan,
		Entitlement:    string(p.Entitlement),
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("accountID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get profile failed", "err", err)
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	httpx.SetTokenETag(w, p.Token)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(p))
}

type overrideRequest struct {
	Entitlement string `json:"entitlement"`
}

// OverrideEntitlement is a conditional write keyed on the opaque token
// from the last read: If-Match carries the token in, ETag carries the
// freshly rotated one out.
func (h *ProfileHandler) OverrideEntitlement(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	state, err := model.ParseEntitlement(req.Entitlement)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	token, present := httpx.ExpectedToken(r)
	if !present {
		http.Error(w, "If-Match with the current concurrency token is required", http.StatusPreconditionRequired)
		return
	}

	p, err := h.svc.OverrideEntitlement(r.Context(), r.PathValue("accountID"), state, token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "profile not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrVersionConflict):
			httpx.WriteTokenConflict(w)
		default:
			h.logger.Error("entitlement override failed", "err", err)
			http.Error(w, "failed to update profile", http.StatusInternalServerError)
		}
		return
	}

	httpx.SetTokenETag(w, p.Token)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(p))
}
