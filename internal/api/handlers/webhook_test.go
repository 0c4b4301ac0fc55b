package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/internal/subscription"
	"stride/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockGateway implements WebhookGateway for testing.
type mockGateway struct {
	calls  int
	body   []byte
	sig    string
	result *subscription.HandleResult
	err    error
}

func (m *mockGateway) Handle(ctx context.Context, rawBody []byte, sigHeader string) (*subscription.HandleResult, error) {
	m.calls++
	m.body = rawBody
	m.sig = sigHeader
	return m.result, m.err
}

// mockWebhookMetrics implements WebhookMetrics for testing.
type mockWebhookMetrics struct {
	recorded []types.WebhookHandleStatus
}

func (m *mockWebhookMetrics) RecordWebhook(status types.WebhookHandleStatus) {
	m.recorded = append(m.recorded, status)
}

func serveWebhook(gateway *mockGateway, metrics *mockWebhookMetrics, body []byte, sig string) *httptest.ResponseRecorder {
	h := NewWebhookHandler(gateway, metrics, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWebhookHandler_MissingSignatureHeader(t *testing.T) {
	gateway := &mockGateway{}
	metrics := &mockWebhookMetrics{}

	rec := serveWebhook(gateway, metrics, []byte(`{}`), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, gateway.calls)
	assert.Equal(t, []types.WebhookHandleStatus{types.WebhookRejected}, metrics.recorded)
}

func TestWebhookHandler_AcceptedDelivery(t *testing.T) {
	gateway := &mockGateway{result: &subscription.HandleResult{Status: types.WebhookAccepted}}
	metrics := &mockWebhookMetrics{}

	body := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	rec := serveWebhook(gateway, metrics, body, "t=1,v1=sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, gateway.body)
	assert.Equal(t, "t=1,v1=sig", gateway.sig)
	assert.Equal(t, []types.WebhookHandleStatus{types.WebhookAccepted}, metrics.recorded)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Data["status"])
}

func TestWebhookHandler_DuplicateDeliveryStillAcknowledged(t *testing.T) {
	gateway := &mockGateway{result: &subscription.HandleResult{
		Status: types.WebhookDuplicate,
		Detail: "event already applied",
	}}
	metrics := &mockWebhookMetrics{}

	rec := serveWebhook(gateway, metrics, []byte(`{}`), "sig")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []types.WebhookHandleStatus{types.WebhookDuplicate}, metrics.recorded)
}

func TestWebhookHandler_SignatureFailureReturns401(t *testing.T) {
	gateway := &mockGateway{
		result: &subscription.HandleResult{Status: types.WebhookRejected},
		err:    types.NewAppError(types.ErrCodeWebhookSignature, "webhook signature verification failed", nil),
	}
	metrics := &mockWebhookMetrics{}

	rec := serveWebhook(gateway, metrics, []byte(`{}`), "t=1,v1=bad")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []types.WebhookHandleStatus{types.WebhookRejected}, metrics.recorded)
}

func TestWebhookHandler_InfrastructureFailureReturns500(t *testing.T) {
	gateway := &mockGateway{err: types.NewAppError(types.ErrCodeInternalDB, "db down", nil)}

	rec := serveWebhook(gateway, &mockWebhookMetrics{}, []byte(`{}`), "sig")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookHandler_NilMetricsIsSafe(t *testing.T) {
	gateway := &mockGateway{result: &subscription.HandleResult{Status: types.WebhookAccepted}}
	h := NewWebhookHandler(gateway, nil, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "sig")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
