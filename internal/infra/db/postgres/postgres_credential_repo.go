package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/security"
)

var _ repository.CredentialRepository = (*credentialRepo)(nil)

// credentialRepo keeps caller API keys encrypted at rest.
type credentialRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewCredentialRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *credentialRepo {
	return &credentialRepo{pool: pool, enc: enc}
}

func (r *credentialRepo) FindAPIKey(ctx context.Context, tx repository.Tx, ownerID, provider string) (string, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT api_key_enc FROM owner_credentials WHERE owner_id = $1 AND provider = $2;`, ownerID, provider)
	if err != nil {
		return "", err
	}
	var enc string
	if err := row.Scan(&enc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", domain.ErrReadDatabaseRow
	}
	key, err := r.enc.Open(enc, security.CredentialScope(ownerID, provider))
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return key, nil
}

func (r *credentialRepo) SaveAPIKey(ctx context.Context, tx repository.Tx, ownerID, provider, apiKey string) error {
	enc, err := r.enc.Seal(apiKey, security.CredentialScope(ownerID, provider))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	const q = `
INSERT INTO owner_credentials (owner_id, provider, api_key_enc, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id, provider) DO UPDATE SET
  api_key_enc = EXCLUDED.api_key_enc,
  updated_at = EXCLUDED.updated_at;`
	_, err = execSQL(ctx, r.pool, tx, q, ownerID, provider, enc, time.Now().UTC())
	return err
}
