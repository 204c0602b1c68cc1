// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"fmt"
	"io"
	"strings"

	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*MultiProvider)(nil)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderNoop      = "noop"
)

// MultiProvider routes each call to a provider chosen from the model name.
type MultiProvider struct {
	defaultProvider string
	byProvider      map[string]adapter.LLMProvider
	modelToProvider map[string]string // model or model prefix -> provider
}

func NewMultiProvider(
	defaultProvider string,
	byProvider map[string]adapter.LLMProvider,
	modelToProvider map[string]string,
) *MultiProvider {
	return &MultiProvider{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

// ProviderFor names the provider that serves model. Explicit mappings win,
// then well-known prefixes, then the default provider.
func (m *MultiProvider) ProviderFor(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	for prefix, p := range m.modelToProvider {
		if strings.HasSuffix(prefix, "*") && strings.HasPrefix(l, strings.ToLower(strings.TrimSuffix(prefix, "*"))) {
			return strings.ToLower(p)
		}
	}
	switch {
	case strings.HasPrefix(l, "gemini"):
		return ProviderGemini
	case strings.HasPrefix(l, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return ProviderOpenAI
	default:
		return m.defaultProvider
	}
}

func (m *MultiProvider) pick(model string) (adapter.LLMProvider, error) {
	prov := m.ProviderFor(model)
	if p := m.byProvider[prov]; p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("no provider configured for model %q (%s)", model, prov)
}

func (m *MultiProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	p, err := m.pick(req.Model)
	if err != nil {
		return adapter.Completion{}, err
	}
	return p.Complete(ctx, req)
}

func (m *MultiProvider) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	p, err := m.pick(req.Model)
	if err != nil {
		return nil, err
	}
	return p.OpenStream(ctx, req)
}
