package handlers

import (
	"context"
	"net/http"

	"stride/internal/core"
	"stride/internal/types"
)

// EntitlementChecker answers capability checks for the gate middleware.
// Implemented by subscription.Service.
type EntitlementChecker interface {
	CheckEntitlement(ctx context.Context, accountID string, cap types.Capability) (*types.EntitlementDecision, error)
}

// RequireCapability gates a route on one capability. Feature routers mount
// it after the account-identity middleware; a denied decision becomes a 403
// carrying the reason and, for countable capabilities, the limit and usage.
func RequireCapability(checker EntitlementChecker, cap types.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := types.GetAccountID(r.Context())
			if accountID == "" {
				core.Error(w, r, types.NewAppError(
					types.ErrCodeAuthTokenMissing,
					"missing account identity",
					nil,
				))
				return
			}

			decision, err := checker.CheckEntitlement(r.Context(), accountID, cap)
			if err != nil {
				core.Error(w, r, err)
				return
			}
			if !decision.Allowed {
				core.Error(w, r, types.NewAppErrorWithDetails(
					types.ErrCodeEntitlementDenied,
					decision.Reason,
					nil,
					map[string]any{
						"capability":    string(cap),
						"limit":         decision.Limit,
						"current_usage": decision.CurrentUsage,
					},
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
