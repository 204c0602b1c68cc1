package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*AnthropicAdapter)(nil)

const (
	anthropicDefaultBase = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
	// the Messages API rejects requests without max_tokens
	anthropicDefaultMaxTokens = 4096
)

// AnthropicAdapter calls the Messages API over plain HTTP. Its stream uses
// the typed-event dialect (message_start, content_block_delta, ...).
type AnthropicAdapter struct {
	apiKey string
	base   string
	http   *http.Client
}

func NewAnthropicAdapter(apiKey, baseURL string, hc *http.Client) *AnthropicAdapter {
	if hc == nil {
		hc = &http.Client{}
	}
	return &AnthropicAdapter{apiKey: apiKey, base: trimBase(baseURL, anthropicDefaultBase), http: hc}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

func (a *AnthropicAdapter) buildRequest(req adapter.CompletionRequest, stream bool) anthropicRequest {
	out := anthropicRequest{Model: req.Model, MaxTokens: req.MaxTokens, Stream: stream}
	if out.MaxTokens <= 0 {
		out.MaxTokens = anthropicDefaultMaxTokens
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: m.Content})
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func (a *AnthropicAdapter) headers(key string) map[string]string {
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	key, err := pickKey(req.APIKey, a.apiKey)
	if err != nil {
		return adapter.Completion{}, err
	}
	resp, err := postJSON(ctx, a.http, "anthropic", a.base+"/v1/messages", a.headers(key), a.buildRequest(req, false))
	if err != nil {
		return adapter.Completion{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.Completion{}, fmt.Errorf("anthropic: decode reply: %w", err)
	}

	var b strings.Builder
	for _, c := range payload.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return adapter.Completion{}, domain.ErrEmptyReply
	}
	finish := "stop"
	if payload.StopReason == "max_tokens" {
		finish = adapter.FinishReasonLength
	}
	return adapter.Completion{
		Text:         b.String(),
		FinishReason: finish,
		Usage: model.Usage{
			InputTokens:  payload.Usage.InputTokens,
			OutputTokens: payload.Usage.OutputTokens,
		}.Normalized(),
	}, nil
}

func (a *AnthropicAdapter) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	key, err := pickKey(req.APIKey, a.apiKey)
	if err != nil {
		return nil, err
	}
	h := a.headers(key)
	h["Accept"] = "text/event-stream"
	resp, err := postJSON(ctx, a.http, "anthropic", a.base+"/v1/messages", h, a.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
