package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*NoopProvider)(nil)

// NoopProvider answers locally for development. Its stream speaks the
// chat-completions dialect so the whole pipeline runs without credentials.
type NoopProvider struct {
	log   *zerolog.Logger
	delay time.Duration
}

func NewNoopProvider(logger *zerolog.Logger) *NoopProvider {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NoopProvider{log: logger, delay: 50 * time.Millisecond}
}

func (n *NoopProvider) reply(req adapter.CompletionRequest) string {
	var user string
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}
	if len(user) > 60 {
		user = user[:60]
	}
	return fmt.Sprintf("This is a noop reply from %s for: %s", req.Model, user)
}

func (n *NoopProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	select {
	case <-time.After(n.delay):
	case <-ctx.Done():
		return adapter.Completion{}, ctx.Err()
	}
	n.log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("noop complete")
	text := n.reply(req)
	return adapter.Completion{
		Text:         text,
		FinishReason: "stop",
		Usage:        model.Usage{InputTokens: len(req.Messages), OutputTokens: len(strings.Fields(text))}.Normalized(),
	}, nil
}

func (n *NoopProvider) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.log.Debug().Str("model", req.Model).Msg("noop stream")

	words := strings.Fields(n.reply(req))
	var b strings.Builder
	writeChunk := func(v any) {
		raw, _ := json.Marshal(v)
		b.WriteString("data: ")
		b.Write(raw)
		b.WriteString("\n\n")
	}
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		writeChunk(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": w}}}})
	}
	writeChunk(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{}, "finish_reason": "stop"}}})
	writeChunk(map[string]any{"choices": []any{}, "usage": map[string]int{
		"prompt_tokens":     len(req.Messages),
		"completion_tokens": len(words),
		"total_tokens":      len(req.Messages) + len(words),
	}})
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String())), nil
}
