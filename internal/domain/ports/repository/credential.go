package repository

import "context"

// CredentialRepository stores caller-specific upstream API keys.
type CredentialRepository interface {
	// FindAPIKey returns the decrypted key or domain.ErrNotFound.
	FindAPIKey(ctx context.Context, tx Tx, ownerID, provider string) (string, error)
	SaveAPIKey(ctx context.Context, tx Tx, ownerID, provider, apiKey string) error
}
