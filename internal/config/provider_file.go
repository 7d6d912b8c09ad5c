package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// FileProvider implements SecretProvider by reading secret values from files
// mounted into the container (Docker secrets, Kubernetes secret volumes).
// Each ref is an absolute file path; the file's contents, with trailing
// whitespace trimmed, become the secret value.
type FileProvider struct{}

// NewFileProvider creates a new FileProvider.
func NewFileProvider() *FileProvider {
	return &FileProvider{}
}

// GetSecretsBatch reads each ref as a file path. Refs whose files do not
// exist are silently omitted so the loader can report exactly which target
// variables remain unresolved. Any other read error aborts the batch.
func (p *FileProvider) GetSecretsBatch(_ context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		data, err := os.ReadFile(ref)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		result[ref] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
