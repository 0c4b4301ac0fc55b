package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/types"
)

// SubscriptionService is the lifecycle surface the subscription handler
// needs. Implemented by subscription.Service.
type SubscriptionService interface {
	GetStatusSummary(ctx context.Context, accountID string) (*types.StatusSummary, error)
	Cancel(ctx context.Context, accountID string) (*types.SubscriptionRecord, error)
	RequestPlanChange(ctx context.Context, accountID string, newTier types.Tier, newCycle types.BillingCycle, deferToPeriodEnd bool) (*types.SubscriptionRecord, error)
	CheckEntitlement(ctx context.Context, accountID string, cap types.Capability) (*types.EntitlementDecision, error)
}

// PlanChangeRequest is the body for POST /v1/subscription/plan-change.
type PlanChangeRequest struct {
	Tier             string `json:"tier" validate:"required,oneof=basic pro elite"`
	BillingCycle     string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	DeferToPeriodEnd bool   `json:"defer_to_period_end"`
}

// SubscriptionHandler exposes the account's subscription state and the
// user-initiated lifecycle actions.
type SubscriptionHandler struct {
	service   SubscriptionService
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(service SubscriptionService, validator *core.Validator, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{service: service, validator: validator, logger: logger}
}

// RegisterRoutes mounts the subscription endpoints. The router passed in
// must already carry the account-identity middleware.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/subscription", h.GetSubscription)
	r.Post("/v1/subscription/cancel", h.Cancel)
	r.Post("/v1/subscription/plan-change", h.PlanChange)
	r.Get("/v1/entitlements/{capability}", h.GetEntitlement)
}

// GetSubscription handles GET /v1/subscription.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	summary, err := h.service.GetStatusSummary(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// Cancel handles POST /v1/subscription/cancel.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	rec, err := h.service.Cancel(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

// PlanChange handles POST /v1/subscription/plan-change.
func (h *SubscriptionHandler) PlanChange(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	var req PlanChangeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rec, err := h.service.RequestPlanChange(
		r.Context(),
		accountID,
		types.Tier(req.Tier),
		types.BillingCycle(req.BillingCycle),
		req.DeferToPeriodEnd,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

// GetEntitlement handles GET /v1/entitlements/{capability}. A denied
// capability is still a 200: the decision is data, not a fault.
func (h *SubscriptionHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	capName := chi.URLParam(r, "capability")
	cap, ok := types.ParseCapability(capName)
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"unknown capability",
			nil,
			map[string]any{"capability": capName},
		))
		return
	}

	decision, err := h.service.CheckEntitlement(r.Context(), accountID, cap)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}
