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

	"briefhub/internal/types"
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

// --- SubscriptionRepository Tests ---

func testSubscription(eventAt time.Time) *types.Subscription {
	return &types.Subscription{
		AccountID:               "acct_1",
		Plan:                    types.PlanPro,
		Status:                  types.SubStatusActive,
		ExternalCustomerRef:     "cus_123",
		ExternalSubscriptionRef: "sub_456",
		LastEventAt:             eventAt,
	}
}

func TestSubscriptionRepository_Upsert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	// Zombie check: account exists and is not deleted.
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = nil
			return nil
		}})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Upsert(context.Background(), testSubscription(time.Now().UTC()))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Upsert_DeletedAccount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	deletedAt := time.Now().UTC().Add(-24 * time.Hour)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = &deletedAt
			return nil
		}})

	err := repo.Upsert(context.Background(), testSubscription(time.Now().UTC()))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)

	// The write must never be attempted for a deleted account.
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionRepository_Upsert_UnknownAccount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	err := repo.Upsert(context.Background(), testSubscription(time.Now().UTC()))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAccount, appErr.Code)
}

func TestSubscriptionRepository_Upsert_StaleEventIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = nil
			return nil
		}})

	// Zero rows affected: the stored last_event_at is newer.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	err := repo.Upsert(context.Background(), testSubscription(time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_Upsert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**time.Time) = nil
			return nil
		}})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Upsert(context.Background(), testSubscription(time.Now().UTC()))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestSubscriptionRepository_UpdateByExternalRef_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	eventAt := time.Now().UTC()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "acct_1"
			*dest[1].(*time.Time) = eventAt.Add(-time.Hour)
			return nil
		}})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateByExternalRef(context.Background(), "sub_456",
		types.PlanPro, types.SubStatusCanceled, eventAt)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_UpdateByExternalRef_UnknownRef(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	err := repo.UpdateByExternalRef(context.Background(), "sub_unknown",
		types.PlanPro, types.SubStatusActive, time.Now().UTC())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSubscription, appErr.Code)

	// An unknown reference must never create a row.
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionRepository_UpdateByExternalRef_StaleEventIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	eventAt := time.Now().UTC()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "acct_1"
			*dest[1].(*time.Time) = eventAt.Add(time.Hour)
			return nil
		}})

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateByExternalRef(context.Background(), "sub_456",
		types.PlanStarter, types.SubStatusCanceled, eventAt)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_GetByAccount_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	now := time.Now().UTC()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "acct_1"
			*dest[1].(*types.PlanTier) = types.PlanAgency
			*dest[2].(*types.SubscriptionStatus) = types.SubStatusActive
			cus := "cus_123"
			sub := "sub_456"
			*dest[3].(**string) = &cus
			*dest[4].(**string) = &sub
			*dest[5].(*time.Time) = now
			*dest[6].(*time.Time) = now
			return nil
		}})

	sub, err := repo.GetByAccount(context.Background(), "acct_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, types.PlanAgency, sub.Plan)
	assert.Equal(t, "cus_123", sub.ExternalCustomerRef)
	assert.True(t, sub.IsActive())
}

func TestSubscriptionRepository_GetByAccount_NoRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	sub, err := repo.GetByAccount(context.Background(), "acct_none")
	require.NoError(t, err)
	assert.Nil(t, sub)
}
