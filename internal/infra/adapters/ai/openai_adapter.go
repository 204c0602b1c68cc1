package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.LLMProvider = (*OpenAIAdapter)(nil)

const openAIDefaultBase = "https://api.openai.com/v1"

// OpenAIAdapter talks to the Chat Completions API or any compatible gateway.
// Complete goes through the official SDK; OpenStream returns the raw
// server-sent-event body so the shared decoder owns framing.
type OpenAIAdapter struct {
	client openai.Client
	apiKey string
	base   string
	http   *http.Client
}

func NewOpenAIAdapter(apiKey, baseURL string, hc *http.Client) *OpenAIAdapter {
	if hc == nil {
		hc = &http.Client{}
	}
	base := trimBase(baseURL, openAIDefaultBase)
	return &OpenAIAdapter{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(base+"/"),
			option.WithHTTPClient(hc),
			option.WithMaxRetries(0), // retries are owned by the caller
		),
		apiKey: apiKey,
		base:   base,
		http:   hc,
	}
}

func (o *OpenAIAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	key, err := pickKey(req.APIKey, o.apiKey)
	if err != nil {
		return adapter.Completion{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return adapter.Completion{}, fmt.Errorf("openai: %w: %v", domain.ErrRateLimited, err)
		}
		return adapter.Completion{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return adapter.Completion{}, domain.ErrEmptyReply
	}

	choice := resp.Choices[0]
	return adapter.Completion{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		}.Normalized(),
	}, nil
}

type openAIStreamRequest struct {
	Model               string            `json:"model"`
	Messages            []adapter.Message `json:"messages"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Stream              bool              `json:"stream"`
	StreamOptions       struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

func (o *OpenAIAdapter) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	key, err := pickKey(req.APIKey, o.apiKey)
	if err != nil {
		return nil, err
	}

	body := openAIStreamRequest{
		Model:               req.Model,
		Messages:            req.Messages,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              true,
	}
	body.StreamOptions.IncludeUsage = true

	resp, err := postJSON(ctx, o.http, "openai", o.base+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + key,
		"Accept":        "text/event-stream",
	}, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
