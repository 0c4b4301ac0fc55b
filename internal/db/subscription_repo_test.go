package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stride/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows for testing Query results.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *bool:
			*v = row[i].(bool)
		case *time.Time:
			*v = row[i].(time.Time)
		case *int:
			*v = row[i].(int)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- SubscriptionRepo Tests ---

var repoNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestSubscriptionRepo_CreateTrial_Success(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	rec, err := repo.CreateTrial(context.Background(), "acct_1", repoNow)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", rec.AccountID)
	assert.Equal(t, types.TierFreeTrial, rec.Tier)
	assert.Equal(t, types.SubStatusTrial, rec.Status)
	assert.Equal(t, int64(1), rec.Version)
	require.NotNil(t, rec.TrialEnd)
	assert.Equal(t, repoNow.Add(14*24*time.Hour), *rec.TrialEnd)
	dbMock.AssertExpectations(t)
}

func TestSubscriptionRepo_CreateTrial_DBError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.CreateTrial(context.Background(), "acct_1", repoNow)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSubscriptionRepo_GetByAccount_Success(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	nextBilling := repoNow.Add(20 * 24 * time.Hour)
	customerRef := "cus_9"
	subRef := "sub_9"
	pendingTier := "basic"
	pendingCycle := "monthly"
	pendingAt := nextBilling

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "acct_1"
			*dest[1].(*types.Tier) = types.TierPro
			*dest[2].(*types.SubscriptionStatus) = types.SubStatusActive
			*dest[3].(*types.BillingCycle) = types.CycleMonthly
			*dest[8].(**time.Time) = &nextBilling
			*dest[9].(**string) = &customerRef
			*dest[10].(**string) = &subRef
			*dest[11].(**string) = &pendingTier
			*dest[12].(**string) = &pendingCycle
			*dest[13].(**time.Time) = &pendingAt
			*dest[14].(*int64) = 7
			*dest[15].(*time.Time) = repoNow
			*dest[16].(*time.Time) = repoNow
			return nil
		},
	}
	dbMock.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec, err := repo.GetByAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.TierPro, rec.Tier)
	assert.Equal(t, types.SubStatusActive, rec.Status)
	assert.Equal(t, "cus_9", rec.ExternalCustomerRef)
	assert.Equal(t, "sub_9", rec.ExternalSubscriptionRef)
	assert.Equal(t, int64(7), rec.Version)

	require.NotNil(t, rec.PendingPlanChange)
	assert.Equal(t, types.TierBasic, rec.PendingPlanChange.NewTier)
	assert.Equal(t, types.CycleMonthly, rec.PendingPlanChange.NewCycle)
	assert.Equal(t, pendingAt, rec.PendingPlanChange.EffectiveAt)
}

func TestSubscriptionRepo_GetByAccount_NotFound(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	dbMock.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetByAccount(context.Background(), "acct_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)
}

func TestSubscriptionRepo_UpdateVersioned_Success(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	rec := &types.SubscriptionRecord{
		AccountID: "acct_1",
		Tier:      types.TierPro,
		Status:    types.SubStatusActive,
		Version:   8,
	}

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateVersioned(context.Background(), rec, 7)
	require.NoError(t, err)
	dbMock.AssertExpectations(t)
}

func TestSubscriptionRepo_UpdateVersioned_Conflict(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	rec := &types.SubscriptionRecord{AccountID: "acct_1", Version: 8}

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateVersioned(context.Background(), rec, 7)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
}

func TestSubscriptionRepo_UpdateVersioned_DBError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	rec := &types.SubscriptionRecord{AccountID: "acct_1", Version: 8}

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := repo.UpdateVersioned(context.Background(), rec, 7)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSubscriptionRepo_DeleteByAccount(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.DeleteByAccount(context.Background(), "acct_1"))
	dbMock.AssertExpectations(t)
}

func TestSubscriptionRepo_ListLapsedTrialAccounts(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	rows := newMockRows([][]any{
		{"acct_1"},
		{"acct_2"},
	})
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	ids, err := repo.ListLapsedTrialAccounts(context.Background(), repoNow, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct_1", "acct_2"}, ids)
}

func TestSubscriptionRepo_ListLapsedTrialAccounts_QueryError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewSubscriptionRepo(dbMock, nil)

	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ListLapsedTrialAccounts(context.Background(), repoNow, 500)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
