// Package credentials resolves which upstream API key serves a caller.
package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/logging"
)

var _ adapter.CredentialResolver = (*Resolver)(nil)

// ProviderFunc names the provider that serves a model.
type ProviderFunc func(model string) string

// Resolver prefers the caller's own key, then the shared key configured for
// the provider. It returns domain.ErrNoCredential when neither exists.
type Resolver struct {
	repo     repository.CredentialRepository
	shared   map[string]string // provider -> key
	provider ProviderFunc
	log      *zerolog.Logger
}

func NewResolver(repo repository.CredentialRepository, shared map[string]string, provider ProviderFunc, logger *zerolog.Logger) *Resolver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Resolver{repo: repo, shared: shared, provider: provider, log: logger}
}

func (r *Resolver) Resolve(ctx context.Context, ownerID, model string) (string, error) {
	prov := strings.ToLower(r.provider(model))
	if prov == "noop" {
		return "noop", nil
	}

	if r.repo != nil && ownerID != "" {
		key, err := r.repo.FindAPIKey(ctx, nil, ownerID, prov)
		switch {
		case err == nil && key != "":
			return key, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			// a broken store must not hide a usable shared key
			r.log.Warn().Err(err).Str("owner_id", logging.Redact(ownerID)).Str("provider", prov).Msg("caller credential lookup failed")
		}
	}

	if key := strings.TrimSpace(r.shared[prov]); key != "" {
		return key, nil
	}
	return "", domain.ErrNoCredential
}
