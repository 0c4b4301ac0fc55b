package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stride/internal/types"
)

// LedgerRepo is the webhook idempotency ledger. Each verified provider event
// is recorded by its external event ID before its effect is applied; a unique
// constraint on that ID is what turns redeliveries and concurrent deliveries
// into no-ops.
//
// The applied flag flips to true only after the state machine transition
// commits. A row that stays unapplied past the retry budget means an event
// was accepted but its effect never landed, and the retention sweep surfaces
// it for reconciliation.
type LedgerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewLedgerRepo creates a LedgerRepo backed by the given database connection.
func NewLedgerRepo(db DBTX, logger *slog.Logger) *LedgerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerRepo{db: db, logger: logger}
}

// Get returns the ledger row for the given external event ID, or nil with a
// nil error when the event has never been seen. Absence is an expected state
// on the hot path, not an error.
func (r *LedgerRepo) Get(ctx context.Context, externalEventID string) (*types.WebhookEventRecord, error) {
	var rec types.WebhookEventRecord
	err := r.db.QueryRow(ctx,
		`SELECT external_event_id, event_type, received_at, applied
		 FROM webhook_events WHERE external_event_id = $1`,
		externalEventID,
	).Scan(&rec.ExternalEventID, &rec.EventType, &rec.ReceivedAt, &rec.Applied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load webhook event", err)
	}
	return &rec, nil
}

// Insert records a newly received event as unapplied. A duplicate external
// event ID returns conflict_duplicate_event, which the gateway treats as "a
// concurrent delivery already owns this event".
func (r *LedgerRepo) Insert(ctx context.Context, externalEventID, eventType string, receivedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_events (external_event_id, event_type, received_at, applied)
		 VALUES ($1, $2, $3, FALSE)`,
		externalEventID, eventType, receivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.NewAppError(
				types.ErrCodeConflictDuplicateEvent,
				"webhook event already recorded: "+externalEventID,
				err,
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook event", err)
	}
	return nil
}

// MarkApplied flips the applied flag after the event's transition has been
// persisted.
func (r *LedgerRepo) MarkApplied(ctx context.Context, externalEventID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_events SET applied = TRUE WHERE external_event_id = $1`,
		externalEventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark webhook event applied", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "mark applied found no ledger row",
			"external_event_id", externalEventID,
		)
	}
	return nil
}

// DeleteAppliedBefore reaps applied rows received before the cutoff and
// returns how many were removed. Unapplied rows are never reaped.
func (r *LedgerRepo) DeleteAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM webhook_events WHERE applied = TRUE AND received_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reap webhook ledger", err)
	}
	return tag.RowsAffected(), nil
}

// ListUnappliedBefore returns events that were accepted before the cutoff but
// never applied. The retention sweep logs these for manual reconciliation.
func (r *LedgerRepo) ListUnappliedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.WebhookEventRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT external_event_id, event_type, received_at, applied
		 FROM webhook_events
		 WHERE applied = FALSE AND received_at < $1
		 ORDER BY received_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unapplied webhook events", err)
	}
	defer rows.Close()

	var out []types.WebhookEventRecord
	for rows.Next() {
		var rec types.WebhookEventRecord
		if err := rows.Scan(&rec.ExternalEventID, &rec.EventType, &rec.ReceivedAt, &rec.Applied); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan webhook event row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate webhook event rows", err)
	}
	return out, nil
}
