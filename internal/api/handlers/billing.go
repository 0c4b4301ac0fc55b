// Package handlers contains the HTTP handler implementations for the Stride
// API. Each handler defines the service contract it needs locally and takes
// implementations through its constructor, so tests mock at the handler
// boundary.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/external"
	"stride/internal/types"
)

// CheckoutStarter opens provider checkout sessions. Implemented by
// subscription.Service.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, accountID string, tier types.Tier, cycle types.BillingCycle, urls external.RedirectURLs) (*types.CheckoutHandle, error)
}

// CreateCheckoutRequest is the body for POST /v1/billing/checkout-session.
//
// Redirect URLs are constructed server-side from the configured app URL, so
// the client cannot supply arbitrary destinations.
type CreateCheckoutRequest struct {
	Tier         string `json:"tier" validate:"required,oneof=basic pro elite"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
}

// CheckoutResponse is the body returned for a created session.
type CheckoutResponse struct {
	SessionID   string     `json:"session_id"`
	CheckoutURL string     `json:"checkout_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// BillingHandler handles user-initiated billing actions.
type BillingHandler struct {
	service   CheckoutStarter
	validator *core.Validator
	appURL    string
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(service CheckoutStarter, validator *core.Validator, appURL string, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		service:   service,
		validator: validator,
		appURL:    strings.TrimSuffix(appURL, "/"),
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing endpoints. The router passed in must
// already carry the account-identity middleware.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/billing/checkout-session", h.CreateCheckoutSession)
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	accountID := types.GetAccountID(r.Context())

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tier := types.Tier(req.Tier)
	cycle := types.BillingCycle(req.BillingCycle)

	handle, err := h.service.StartCheckout(r.Context(), accountID, tier, cycle, external.RedirectURLs{
		Success: h.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.appURL + "/billing/canceled",
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := CheckoutResponse{
		SessionID:   handle.SessionID,
		CheckoutURL: handle.CheckoutURL,
	}
	if !handle.ExpiresAt.IsZero() {
		expires := handle.ExpiresAt
		resp.ExpiresAt = &expires
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}
