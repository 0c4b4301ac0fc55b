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

// Note: mockDBTX, mockRow, and mockRows are defined in subscription_repo_test.go

func TestLedgerRepo_Get_Success(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "evt_1"
			*dest[1].(*string) = "invoice.paid"
			*dest[2].(*time.Time) = repoNow
			*dest[3].(*bool) = true
			return nil
		},
	}
	dbMock.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec, err := repo.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "evt_1", rec.ExternalEventID)
	assert.Equal(t, "invoice.paid", rec.EventType)
	assert.True(t, rec.Applied)
}

func TestLedgerRepo_Get_NeverSeenReturnsNil(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	dbMock.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec, err := repo.Get(context.Background(), "evt_unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLedgerRepo_Insert_Success(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), "evt_1", "invoice.paid", repoNow)
	require.NoError(t, err)
	dbMock.AssertExpectations(t)
}

func TestLedgerRepo_Insert_DuplicateEventID(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation})

	err := repo.Insert(context.Background(), "evt_1", "invoice.paid", repoNow)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicateEvent, appErr.Code)
}

func TestLedgerRepo_Insert_DBError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Insert(context.Background(), "evt_1", "invoice.paid", repoNow)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLedgerRepo_MarkApplied(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.MarkApplied(context.Background(), "evt_1"))
	dbMock.AssertExpectations(t)
}

func TestLedgerRepo_MarkApplied_MissingRowIsNotAnError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	require.NoError(t, repo.MarkApplied(context.Background(), "evt_gone"))
}

func TestLedgerRepo_DeleteAppliedBefore(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	dbMock.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 42"), nil)

	reaped, err := repo.DeleteAppliedBefore(context.Background(), repoNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(42), reaped)
}

func TestLedgerRepo_ListUnappliedBefore(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLedgerRepo(dbMock, nil)

	received := repoNow.Add(-48 * time.Hour)
	rows := newMockRows([][]any{
		{"evt_stuck", "checkout.session.completed", received, false},
	})
	dbMock.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	out, err := repo.ListUnappliedBefore(context.Background(), repoNow.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt_stuck", out[0].ExternalEventID)
	assert.Equal(t, received, out[0].ReceivedAt)
	assert.False(t, out[0].Applied)
}
