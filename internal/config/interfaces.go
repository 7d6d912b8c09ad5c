package config

import "context"

// SecretProvider abstracts the retrieval of secret values referenced from the
// environment, supporting mounted secret files (production) and plain
// environment variables (local development and tests). The interface enables
// dependency injection for testing and environment-specific resolution.
type SecretProvider interface {
	// GetSecretsBatch resolves multiple secret references. The refs slice
	// contains provider-specific identifiers (file paths, env var names).
	// Returns a map of ref -> plaintext value for all successfully resolved
	// references; missing refs are omitted, not errors.
	GetSecretsBatch(ctx context.Context, refs []string) (map[string]string, error)
}
