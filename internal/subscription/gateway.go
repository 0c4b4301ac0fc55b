package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stride/internal/external"
	"stride/internal/types"
)

// Provider event types the gateway maps into the domain vocabulary.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventInvoicePaid       = "invoice.paid"
	eventPaymentFailed     = "invoice.payment_failed"
	eventSubDeleted        = "customer.subscription.deleted"
)

// Ledger is the idempotency ledger surface the gateway needs. Implemented by
// db.LedgerRepo.
type Ledger interface {
	Get(ctx context.Context, externalEventID string) (*types.WebhookEventRecord, error)
	Insert(ctx context.Context, externalEventID, eventType string, receivedAt time.Time) error
	MarkApplied(ctx context.Context, externalEventID string) error
}

// EventApplier runs a mapped event through the lifecycle service.
// Implemented by Service.
type EventApplier interface {
	ApplyEvent(ctx context.Context, accountID string, ev Event) (*types.SubscriptionRecord, error)
}

// HandleResult is the gateway's verdict on one delivery.
type HandleResult struct {
	Status types.WebhookHandleStatus
	Detail string
}

// Gateway ingests provider webhook deliveries. It authenticates the payload,
// consults the idempotency ledger, maps the provider shape into a domain
// event, and hands it to the lifecycle service. Effects are at-most-once per
// external event ID: redeliveries and concurrent duplicates short-circuit on
// the ledger.
type Gateway struct {
	verifier external.WebhookVerifier
	ledger   Ledger
	applier  EventApplier
	secret   string
	now      types.Clock
	logger   *slog.Logger
}

// NewGateway creates a Gateway. The now function may be nil, in which case
// time.Now is used.
func NewGateway(
	verifier external.WebhookVerifier,
	ledger Ledger,
	applier EventApplier,
	secret string,
	now types.Clock,
	logger *slog.Logger,
) *Gateway {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		verifier: verifier,
		ledger:   ledger,
		applier:  applier,
		secret:   secret,
		now:      now,
		logger:   logger,
	}
}

// Handle processes one raw delivery.
//
//  1. Verify the signature; failure rejects without touching the ledger.
//  2. Look up the event ID; an applied row is a duplicate, an unapplied row
//     is a prior delivery whose effect never landed and gets retried.
//  3. Record a fresh event ID; losing the insert race to a concurrent
//     delivery also counts as a duplicate.
//  4. Map the payload into a domain event and apply it.
//  5. Mark the ledger row applied.
//
// Invalid transitions and unrecognized event types are terminal decisions:
// they are logged, marked applied, and acknowledged so the provider stops
// redelivering. Infrastructure failures leave the row unapplied and bubble
// up so the delivery is retried.
func (g *Gateway) Handle(ctx context.Context, rawBody []byte, sigHeader string) (*HandleResult, error) {
	if err := g.verifier.Verify(rawBody, sigHeader, g.secret); err != nil {
		g.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		return &HandleResult{Status: types.WebhookRejected, Detail: "signature verification failed"},
			types.NewAppError(types.ErrCodeWebhookSignature, "webhook signature verification failed", err)
	}

	var env providerEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		g.logger.WarnContext(ctx, "webhook payload is not valid JSON", "error", err)
		return &HandleResult{Status: types.WebhookRejected, Detail: "malformed payload"},
			types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook payload is not valid JSON", err)
	}
	if env.ID == "" {
		return &HandleResult{Status: types.WebhookRejected, Detail: "missing event id"},
			types.NewAppError(types.ErrCodeValidationMissingField, "webhook event has no id", nil)
	}

	prior, err := g.ledger.Get(ctx, env.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case prior != nil && prior.Applied:
		g.logger.InfoContext(ctx, "webhook event already applied",
			"external_event_id", env.ID,
			"event_type", env.Type,
		)
		return &HandleResult{Status: types.WebhookDuplicate, Detail: "event already applied"}, nil
	case prior == nil:
		if err := g.ledger.Insert(ctx, env.ID, env.Type, g.now()); err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicateEvent {
				// A concurrent delivery inserted first and owns the effect.
				return &HandleResult{Status: types.WebhookDuplicate, Detail: "event claimed by concurrent delivery"}, nil
			}
			return nil, err
		}
	default:
		// Unapplied row from an earlier delivery: fall through and retry
		// the effect under the existing ledger entry.
		g.logger.InfoContext(ctx, "retrying unapplied webhook event",
			"external_event_id", env.ID,
			"event_type", env.Type,
		)
	}

	accountID, ev, mapErr := g.mapEvent(&env)
	if mapErr != nil {
		// Unrecognized types and unmappable payloads never become
		// applicable by redelivery. Close the ledger row and acknowledge.
		g.logger.WarnContext(ctx, "webhook event not applicable",
			"external_event_id", env.ID,
			"event_type", env.Type,
			"reason", mapErr.Error(),
		)
		if err := g.ledger.MarkApplied(ctx, env.ID); err != nil {
			return nil, err
		}
		return &HandleResult{Status: types.WebhookAccepted, Detail: mapErr.Error()}, nil
	}

	if _, err := g.applier.ApplyEvent(ctx, accountID, ev); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeInvalidTransition {
			// The record cannot accept this event and never will; this
			// points at a missed prior event, so it goes to the log for
			// reconciliation rather than into a retry loop.
			g.logger.ErrorContext(ctx, "webhook event rejected by state machine",
				"external_event_id", env.ID,
				"event_type", env.Type,
				"account_id", accountID,
				"details", appErr.Details,
			)
			if markErr := g.ledger.MarkApplied(ctx, env.ID); markErr != nil {
				return nil, markErr
			}
			return &HandleResult{Status: types.WebhookAccepted, Detail: "transition rejected; logged for reconciliation"}, nil
		}
		return nil, err
	}

	if err := g.ledger.MarkApplied(ctx, env.ID); err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "webhook event applied",
		"external_event_id", env.ID,
		"event_type", env.Type,
		"account_id", accountID,
	)
	return &HandleResult{Status: types.WebhookAccepted}, nil
}

// mapEvent translates the provider payload into (accountID, domain event).
// A non-nil error means the payload can never be applied, not that anything
// failed.
func (g *Gateway) mapEvent(env *providerEnvelope) (string, Event, error) {
	switch env.Type {
	case eventCheckoutCompleted:
		var obj checkoutSessionObj
		if err := json.Unmarshal(env.object(), &obj); err != nil {
			return "", nil, fmt.Errorf("checkout session object unreadable: %w", err)
		}
		accountID := obj.ClientReferenceID
		if accountID == "" {
			accountID = obj.Metadata["account_id"]
		}
		if accountID == "" {
			return "", nil, errors.New("checkout session carries no account reference")
		}
		tier, ok := types.ParseTier(obj.Metadata["tier"])
		if !ok || !tier.IsPaid() {
			return "", nil, fmt.Errorf("checkout session has no valid paid tier (%q)", obj.Metadata["tier"])
		}
		cycle, ok := types.ParseBillingCycle(obj.Metadata["billing_cycle"])
		if !ok {
			return "", nil, fmt.Errorf("checkout session has no valid billing cycle (%q)", obj.Metadata["billing_cycle"])
		}
		// The session object carries no period end. Seed the horizon one
		// cycle out from the event time; the first invoice.paid delivery
		// establishes the authoritative date.
		periodEnd := addCycle(env.timestamp(), cycle)
		return accountID, CheckoutCompleted{
			Tier:            tier,
			Cycle:           cycle,
			CustomerRef:     obj.Customer,
			SubscriptionRef: obj.Subscription,
			PeriodEnd:       periodEnd,
		}, nil

	case eventInvoicePaid:
		var obj invoiceObj
		if err := json.Unmarshal(env.object(), &obj); err != nil {
			return "", nil, fmt.Errorf("invoice object unreadable: %w", err)
		}
		accountID := obj.accountID()
		if accountID == "" {
			return "", nil, errors.New("invoice carries no account reference")
		}
		if obj.PeriodEnd <= 0 {
			return "", nil, errors.New("invoice carries no period end")
		}
		return accountID, PaymentSucceeded{
			PeriodEnd: time.Unix(obj.PeriodEnd, 0).UTC(),
		}, nil

	case eventPaymentFailed:
		var obj invoiceObj
		if err := json.Unmarshal(env.object(), &obj); err != nil {
			return "", nil, fmt.Errorf("invoice object unreadable: %w", err)
		}
		accountID := obj.accountID()
		if accountID == "" {
			return "", nil, errors.New("invoice carries no account reference")
		}
		return accountID, PaymentFailed{}, nil

	case eventSubDeleted:
		var obj subscriptionObj
		if err := json.Unmarshal(env.object(), &obj); err != nil {
			return "", nil, fmt.Errorf("subscription object unreadable: %w", err)
		}
		accountID := obj.Metadata["account_id"]
		if accountID == "" {
			return "", nil, errors.New("subscription carries no account reference")
		}
		return accountID, ProviderCanceled{}, nil

	default:
		return "", nil, fmt.Errorf("unrecognized event type %q", env.Type)
	}
}

// addCycle advances a time by one billing cycle.
func addCycle(t time.Time, cycle types.BillingCycle) time.Time {
	if cycle == types.CycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// providerEnvelope is the minimal provider event shape needed for routing.
// The full stripe.Event type stays out of the gateway so tests can build
// payloads by hand.
type providerEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    providerData    `json:"data"`
}

type providerData struct {
	Object json.RawMessage `json:"object"`
}

func (e *providerEnvelope) object() json.RawMessage {
	return e.Data.Object
}

func (e *providerEnvelope) timestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

type checkoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceObj struct {
	PeriodEnd           int64             `json:"period_end"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *subDetailsObj    `json:"subscription_details"`
}

type subDetailsObj struct {
	Metadata map[string]string `json:"metadata"`
}

func (o *invoiceObj) accountID() string {
	if o.SubscriptionDetails != nil {
		if id := o.SubscriptionDetails.Metadata["account_id"]; id != "" {
			return id
		}
	}
	return o.Metadata["account_id"]
}

type subscriptionObj struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}
