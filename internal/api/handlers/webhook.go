package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stride/internal/core"
	"stride/internal/subscription"
	"stride/internal/types"
)

// maxWebhookBodySize caps provider webhook payloads (64 KB). Billing event
// payloads are small; the limit guards against abuse.
const maxWebhookBodySize = 64 * 1024

// WebhookGateway ingests one raw delivery. Implemented by
// subscription.Gateway.
type WebhookGateway interface {
	Handle(ctx context.Context, rawBody []byte, sigHeader string) (*subscription.HandleResult, error)
}

// WebhookMetrics counts delivery outcomes. Implemented by core.Metrics.
type WebhookMetrics interface {
	RecordWebhook(status types.WebhookHandleStatus)
}

// WebhookHandler receives billing provider notifications. The route is NOT
// behind the account-identity middleware; the provider authenticates with
// the signature header instead.
type WebhookHandler struct {
	gateway WebhookGateway
	metrics WebhookMetrics
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. metrics may be nil.
func NewWebhookHandler(gateway WebhookGateway, metrics WebhookMetrics, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{gateway: gateway, metrics: metrics, logger: logger}
}

// RegisterRoutes mounts the webhook endpoint on a public router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/billing", h.Handle)
}

// Handle processes POST /webhooks/billing.
//
// Accepted and duplicate deliveries are both acknowledged with 200 so the
// provider stops redelivering. Signature failures return 401. Anything that
// might succeed on redelivery (database trouble, mid-flight failure) is a
// 500 so the provider retries.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.record(types.WebhookRejected)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignature,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	result, err := h.gateway.Handle(r.Context(), payload, sigHeader)
	if result != nil {
		h.record(result.Status)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{
		"status": string(result.Status),
		"detail": result.Detail,
	}})
}

func (h *WebhookHandler) record(status types.WebhookHandleStatus) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(status)
	}
}
