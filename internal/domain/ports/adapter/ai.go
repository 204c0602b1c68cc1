package adapter

import (
	"context"
	"io"

	"sales-crm-docgen/internal/domain/model"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// CompletionRequest is one upstream call.
type CompletionRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
	// APIKey is resolved per caller; providers fall back to nothing.
	APIKey string
}

// Completion is a whole non-streaming reply.
type Completion struct {
	Text         string
	Usage        model.Usage
	FinishReason string // "stop" | "length" | provider-specific
}

// FinishReasonLength marks a reply cut off by the token limit.
const FinishReasonLength = "length"

// LLMProvider is the port for upstream language-model calls.
type LLMProvider interface {
	// Complete performs one request/response call.
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	// OpenStream opens a streaming call and returns the raw server-sent-event body.
	// The caller owns the returned body and must close it.
	OpenStream(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)
}

// Prompt is what a template source renders for one action.
type Prompt struct {
	System    string
	User      string
	Model     string // optional override of the configured model
	MaxTokens int
}

// PromptSource builds prompts; synchronous and side-effect free.
type PromptSource interface {
	Build(action model.Action, input model.JobInput) (Prompt, error)
}

// CredentialResolver supplies the upstream key for a caller.
// It returns domain.ErrNoCredential when neither a caller key nor a shared key exists.
type CredentialResolver interface {
	Resolve(ctx context.Context, ownerID, model string) (string, error)
}

// ModelSelector picks the upstream model for an action.
type ModelSelector interface {
	ModelFor(action model.Action) string
}
