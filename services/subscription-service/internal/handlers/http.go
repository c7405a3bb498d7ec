package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jinto-josan/web-apps-sub001/libs/domain"
	"github.com/jinto-josan/web-apps-sub001/libs/httpx"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/internal/model"
	"github.com/jinto-josan/web-apps-sub001/services/subscription-service/internal/storage"
)

// Service is the application layer the HTTP surface sits on.
type Service interface {
	Start(ctx context.Context, accountID string, plan model.Plan) (*model.Subscription, error)
	ChangePlan(ctx context.Context, id model.SubscriptionID, expectedVersion int64, plan model.Plan) (*model.Subscription, error)
	Cancel(ctx context.Context, id model.SubscriptionID, expectedVersion int64, reason string) (*model.Subscription, error)
	Get(ctx context.Context, id model.SubscriptionID) (*model.Subscription, error)
}

type SubscriptionHandler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc, logger: logger}
}

func (h *SubscriptionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/subscriptions", h.Create)
	mux.HandleFunc("GET /api/v1/subscriptions/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/subscriptions/{id}/plan", h.ChangePlan)
	mux.HandleFunc("POST /api/v1/subscriptions/{id}/cancel", h.Cancel)
}

type createRequest struct {
	AccountID string `json:"account_id"`
	Plan      string `json:"plan"`
}

type subscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	AccountID      string `json:"account_id"`
	Plan           string `json:"plan"`
	Status         string `json:"status"`
	Version        int64  `json:"version"`
	UpdatedAt      string `json:"updated_at"`
}

func toResponse(sub *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		SubscriptionID: string(sub.ID),
		AccountID:      sub.AccountID,
		Plan:           string(sub.Plan),
		Status:         string(sub.Status),
		Version:        sub.Version(),
		UpdatedAt:      sub.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" || req.Plan == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	sub, err := h.svc.Start(r.Context(), req.AccountID, model.Plan(req.Plan))
	if err != nil {
		if errors.Is(err, model.ErrInvalidPlan) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("start subscription failed", "err", err)
		http.Error(w, "failed to create subscription", http.StatusInternalServerError)
		return
	}

	httpx.SetVersionETag(w, sub.Version())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResponse(sub))
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), model.SubscriptionID(r.PathValue("id")))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get subscription failed", "err", err)
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}
	httpx.SetVersionETag(w, sub.Version())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(sub))
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

func (h *SubscriptionHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id model.SubscriptionID, expected int64) (*model.Subscription, error) {
		return h.svc.ChangePlan(ctx, id, expected, model.Plan(req.Plan))
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil {
		// Body is optional for cancel.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	h.mutate(w, r, func(ctx context.Context, id model.SubscriptionID, expected int64) (*model.Subscription, error) {
		return h.svc.Cancel(ctx, id, expected, req.Reason)
	})
}

// mutate runs one conditional write: the expected version comes from
// If-Match and the new version goes back out as ETag so the caller can
// chain further conditional writes.
func (h *SubscriptionHandler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, model.SubscriptionID, int64) (*model.Subscription, error)) {
	expected, present, err := httpx.ExpectedVersion(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !present {
		http.Error(w, "If-Match with the expected version is required", http.StatusPreconditionRequired)
		return
	}

	id := model.SubscriptionID(r.PathValue("id"))
	sub, err := op(r.Context(), id, expected)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "subscription not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrVersionConflict):
			current, gerr := h.svc.Get(r.Context(), id)
			if gerr != nil {
				httpx.WriteVersionConflict(w, 0)
				return
			}
			httpx.WriteVersionConflict(w, current.Version())
		case errors.Is(err, model.ErrInvalidPlan):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, model.ErrAlreadyCancelled):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("subscription write failed", "err", err)
			http.Error(w, "failed to update subscription", http.StatusInternalServerError)
		}
		return
	}

	httpx.SetVersionETag(w, sub.Version())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(sub))
}
