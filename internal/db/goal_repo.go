package db

import (
	"context"

	"stride/internal/types"
)

// GoalRepo exposes the usage counts the entitlement resolver needs. The
// goals table itself is owned by the goal domain; billing only ever counts
// active rows, so that is the full surface here.
type GoalRepo struct {
	db DBTX
}

// NewGoalRepo creates a GoalRepo backed by the given database connection.
func NewGoalRepo(db DBTX) *GoalRepo {
	return &GoalRepo{db: db}
}

// CountActive returns the number of non-archived goals for the account.
func (r *GoalRepo) CountActive(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM goals
		 WHERE account_id = $1 AND archived_at IS NULL`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active goals", err)
	}
	return count, nil
}
