package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"briefhub/internal/types"
)

// APITokenRepository provides data access for the api_tokens table. Tokens
// are stored as SHA-256 digests; plaintext secrets are never persisted.
type APITokenRepository struct {
	db DBTX
}

// NewAPITokenRepository creates a new APITokenRepository backed by the
// given database connection (pool or transaction).
func NewAPITokenRepository(db DBTX) *APITokenRepository {
	return &APITokenRepository{db: db}
}

// tokenColumns defines the standard set of columns selected for token
// queries. token_hash is included for internal comparisons but MUST NOT be
// exposed in API responses.
const tokenColumns = `t.id, t.account_id, t.token_hash, t.name,
	t.expires_at, t.revoked_at, t.created_at, t.last_used_at`

// scanToken scans a single token row into a types.APIToken struct.
// The columns must match the order defined in tokenColumns.
func scanToken(row pgx.Row) (*types.APIToken, error) {
	var tok types.APIToken
	err := row.Scan(
		&tok.ID,
		&tok.AccountID,
		&tok.TokenHash,
		&tok.Name,
		&tok.ExpiresAt,
		&tok.RevokedAt,
		&tok.CreatedAt,
		&tok.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Create inserts a new token record. The caller is responsible for hashing
// the plaintext token before calling.
func (r *APITokenRepository) Create(ctx context.Context, tok *types.APIToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_tokens (id, account_id, token_hash, name, expires_at,
		 created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		tok.ID,
		tok.AccountID,
		tok.TokenHash,
		tok.Name,
		tok.ExpiresAt,
		nilIfZeroTime(tok.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API token", err)
	}
	return nil
}

// GetByHash retrieves a token by its SHA-256 digest. Expiry and revocation
// are checked by the caller so it can map each condition to a distinct
// authentication error code.
func (r *APITokenRepository) GetByHash(ctx context.Context, hash string) (*types.APIToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+`
		 FROM api_tokens t
		 WHERE t.token_hash = $1`,
		hash,
	)

	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token not recognized", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API token", err)
	}
	return tok, nil
}

// TouchLastUsed updates the last-used timestamp. Best-effort: callers may
// fire this without blocking the request path on the result.
func (r *APITokenRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update token last-used timestamp", err)
	}
	return nil
}
