package core

import (
	"context"

	"briefhub/internal/types"
)

// Authenticator decouples the HTTP layer from specific auth mechanisms
// (DB lookups), allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken resolves a bearer token to an Actor.
	//
	// Distinct Error Codes:
	// - Return ErrCodeAuthTokenInvalid if the token is malformed, not found,
	//   or revoked.
	// - Return ErrCodeAuthTokenExpired if the token exists and is not
	//   revoked, but expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
