package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"

	"sales-crm-docgen/internal/config"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/api"
	"sales-crm-docgen/internal/infra/db/postgres"
	"sales-crm-docgen/internal/infra/security"
)

var (
	owner    = flag.String("owner", "e2e-owner", "owner id to seed and mint a token for")
	provider = flag.String("provider", "openai", "provider for the seeded caller key")
	apiKey   = flag.String("api-key", os.Getenv("E2E_API_KEY"), "caller key to store; empty skips it")
	tokenTTL = flag.Duration("token-ttl", 24*time.Hour, "lifetime of the minted token")
)

// This script resets the job store to a predictable state for manual
// end-to-end testing and prints a bearer token for the seeded owner.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	enc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}

	jobs := postgres.NewDocJobRepo(pool)
	creds := postgres.NewCredentialRepo(pool, enc)
	tm := postgres.NewTxManager(pool)

	log.Println("--- Starting E2E Environment Setup ---")
	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		log.Println("[1/3] Wiping job and credential tables...")
		if _, err := tx.(pgx.Tx).Exec(ctx, `TRUNCATE doc_jobs, owner_credentials;`); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}

		log.Println("[2/3] Seeding caller credential...")
		if *apiKey != "" {
			if err := creds.SaveAPIKey(ctx, tx, *owner, *provider, *apiKey); err != nil {
				return fmt.Errorf("save credential: %w", err)
			}
		} else {
			log.Println("      no -api-key given; the shared key from config will be used")
		}

		log.Println("[3/3] Seeding one pending job for the poller...")
		return jobs.Create(ctx, tx, &model.DocJob{
			ID:      ulid.Make().String(),
			OwnerID: *owner,
			Action:  model.ActionGenerateSOW,
			Input: model.JobInput{
				"goals": []any{"Replace spreadsheet pipeline tracking", "Nightly CRM to ERP sync"},
			},
			Status:    model.DocJobStatusPending,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}

	token, err := api.NewAuthManager(cfg.HTTP.JWTSecret).Mint(*owner, *tokenTTL)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	log.Println("--- ✅ E2E Environment Setup Complete ---")
	fmt.Printf("Authorization: Bearer %s\n", token)
}
