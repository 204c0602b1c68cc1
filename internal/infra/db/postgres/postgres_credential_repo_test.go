//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/infra/security"
)

func TestCredentialRepo_Integration(t *testing.T) {
	ctx := context.Background()
	enc, err := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	repo := NewCredentialRepo(testPool, enc)

	cleanup(t)
	if _, err := repo.FindAPIKey(ctx, nil, "owner-a", "openai"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := repo.SaveAPIKey(ctx, nil, "owner-a", "openai", "sk-first"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveAPIKey(ctx, nil, "owner-a", "openai", "sk-second"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var stored string
	_ = testPool.QueryRow(ctx, `SELECT api_key_enc FROM owner_credentials WHERE owner_id = 'owner-a'`).Scan(&stored)
	if stored == "sk-second" {
		t.Fatal("api key must not be stored in plaintext")
	}

	key, err := repo.FindAPIKey(ctx, nil, "owner-a", "openai")
	if err != nil || key != "sk-second" {
		t.Fatalf("expected the latest key, got %q, %v", key, err)
	}
}
