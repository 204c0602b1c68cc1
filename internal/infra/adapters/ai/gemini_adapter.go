package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"google.golang.org/genai"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*GeminiAdapter)(nil)

// GeminiAdapter uses the official SDK for whole-reply calls. It does not
// stream; dispatch falls back to Complete for Gemini models.
type GeminiAdapter struct {
	apiKey  string
	baseURL string

	mu      sync.Mutex
	clients map[string]*genai.Client // by api key
}

func NewGeminiAdapter(apiKey, baseURL string) *GeminiAdapter {
	return &GeminiAdapter{apiKey: apiKey, baseURL: baseURL, clients: map[string]*genai.Client{}}
}

func (g *GeminiAdapter) client(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c := g.clients[key]; c != nil {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	g.clients[key] = c
	return c, nil
}

func (g *GeminiAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	key, err := pickKey(req.APIKey, g.apiKey)
	if err != nil {
		return adapter.Completion{}, err
	}
	c, err := g.client(ctx, key)
	if err != nil {
		return adapter.Completion{}, err
	}

	system, contents := toGenAIContents(req.Messages)
	if len(contents) == 0 {
		return adapter.Completion{}, errors.New("gemini: no messages")
	}
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := c.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return adapter.Completion{}, fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return adapter.Completion{}, domain.ErrEmptyReply
	}

	out := adapter.Completion{Text: text, FinishReason: "stop"}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		out.FinishReason = adapter.FinishReasonLength
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	out.Usage = out.Usage.Normalized()
	return out, nil
}

func (g *GeminiAdapter) OpenStream(context.Context, adapter.CompletionRequest) (io.ReadCloser, error) {
	return nil, domain.ErrStreamingUnsupported
}

// toGenAIContents lifts system messages into a single instruction.
func toGenAIContents(msgs []adapter.Message) (string, []*genai.Content) {
	var system []string
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return strings.Join(system, "\n\n"), out
}
