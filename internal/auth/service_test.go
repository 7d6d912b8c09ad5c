package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"briefhub/internal/types"
)

type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) GetByHash(ctx context.Context, hash string) (*types.APIToken, error) {
	args := m.Called(ctx, hash)
	if t := args.Get(0); t != nil {
		return t.(*types.APIToken), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTokenRepo) TouchLastUsed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newTestService(repo *mockTokenRepo) *Service {
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.nowFn = func() time.Time {
		return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestHashToken_Deterministic(t *testing.T) {
	h1 := HashToken("bh_abc")
	h2 := HashToken("bh_abc")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, HashToken("bh_abd"))
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "bh_"))
	assert.Len(t, tok, 3+64)

	other, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestResolveToken_Success(t *testing.T) {
	repo := new(mockTokenRepo)
	svc := newTestService(repo)

	stored := &types.APIToken{
		ID:        "tok_1",
		AccountID: "acct_1",
		TokenHash: HashToken("bh_valid"),
	}
	repo.On("GetByHash", mock.Anything, HashToken("bh_valid")).Return(stored, nil)
	repo.On("TouchLastUsed", mock.Anything, "tok_1").Return(nil)

	actor, err := svc.ResolveToken(context.Background(), "bh_valid")
	require.NoError(t, err)
	assert.Equal(t, "tok_1", actor.ID)
	assert.Equal(t, "acct_1", actor.AccountID)
	assert.Equal(t, types.ActorTypeToken, actor.Type)
	repo.AssertExpectations(t)
}

func TestResolveToken_Unknown(t *testing.T) {
	repo := new(mockTokenRepo)
	svc := newTestService(repo)

	repo.On("GetByHash", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token not recognized", nil))

	_, err := svc.ResolveToken(context.Background(), "bh_nope")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestResolveToken_Revoked(t *testing.T) {
	repo := new(mockTokenRepo)
	svc := newTestService(repo)

	revokedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	repo.On("GetByHash", mock.Anything, mock.Anything).Return(&types.APIToken{
		ID:        "tok_1",
		AccountID: "acct_1",
		RevokedAt: &revokedAt,
	}, nil)

	_, err := svc.ResolveToken(context.Background(), "bh_revoked")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenRevoked, appErr.Code)
	repo.AssertNotCalled(t, "TouchLastUsed", mock.Anything, mock.Anything)
}

func TestResolveToken_Expired(t *testing.T) {
	repo := new(mockTokenRepo)
	svc := newTestService(repo)

	expiresAt := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	repo.On("GetByHash", mock.Anything, mock.Anything).Return(&types.APIToken{
		ID:        "tok_1",
		AccountID: "acct_1",
		ExpiresAt: &expiresAt,
	}, nil)

	_, err := svc.ResolveToken(context.Background(), "bh_expired")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenExpired, appErr.Code)
}

func TestResolveToken_TouchFailureIsNonFatal(t *testing.T) {
	repo := new(mockTokenRepo)
	svc := newTestService(repo)

	repo.On("GetByHash", mock.Anything, mock.Anything).Return(&types.APIToken{
		ID:        "tok_1",
		AccountID: "acct_1",
	}, nil)
	repo.On("TouchLastUsed", mock.Anything, "tok_1").Return(errors.New("connection refused"))

	actor, err := svc.ResolveToken(context.Background(), "bh_valid")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", actor.AccountID)
}
