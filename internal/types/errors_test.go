package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeValidationInvalidTier, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeWebhookSignature, http.StatusUnauthorized},
		{ErrCodeEntitlementDenied, http.StatusForbidden},
		{ErrCodeNotFoundSubscription, http.StatusNotFound},
		{ErrCodeConflictConcurrent, http.StatusConflict},
		{ErrCodeConflictDuplicateEvent, http.StatusConflict},
		{ErrCodeInvalidTransition, http.StatusConflict},
		{ErrCodeCheckoutRedundant, http.StatusConflict},
		{ErrCodeUpstreamBilling, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimit, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("made_up_code"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.code.HTTPStatus())
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	inner := fmt.Errorf("socket closed")
	err := NewAppError(ErrCodeInternalDB, "failed to load subscription", inner)

	assert.Equal(t, "internal_database_error: failed to load subscription", err.Error())
	assert.Equal(t, inner, errors.Unwrap(err))
	assert.True(t, errors.Is(err, inner))
}

func TestNewInvalidTransition_CarriesStateAndEvent(t *testing.T) {
	err := NewInvalidTransition(SubStatusCanceled, "payment_failed")

	assert.Equal(t, ErrCodeInvalidTransition, err.Code)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
	require.NotNil(t, err.Details)
	assert.Equal(t, "canceled", err.Details["current_status"])
	assert.Equal(t, "payment_failed", err.Details["event"])
}
