package external

import (
	stripe "github.com/stripe/stripe-go/v82"
)

// WebhookVerifier authenticates an inbound webhook payload against its
// signature header before anything else happens to it. The gateway treats a
// verification failure as a hard reject; no ledger row is written for an
// unauthenticated payload.
type WebhookVerifier interface {
	Verify(payload []byte, sigHeader string, secret string) error
}

// StripeVerifier implements WebhookVerifier with stripe-go's signature
// check: HMAC-SHA256 over the timestamped payload, with the library's
// default timestamp tolerance.
type StripeVerifier struct{}

// Verify validates the payload against the Stripe-Signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, sigHeader string, secret string) error {
	return stripe.ValidatePayload(payload, sigHeader, secret)
}

var _ WebhookVerifier = (*StripeVerifier)(nil)
