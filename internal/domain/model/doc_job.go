package model

import "time"

type DocJobStatus string

const (
	DocJobStatusPending    DocJobStatus = "pending"
	DocJobStatusProcessing DocJobStatus = "processing"
	DocJobStatusCompleted  DocJobStatus = "completed"
	DocJobStatusFailed     DocJobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s DocJobStatus) Terminal() bool {
	return s == DocJobStatusCompleted || s == DocJobStatusFailed
}

// Usage is the absolute token count of one upstream reply.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// IsZero reports whether no token counts were observed.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// Normalized fills TotalTokens when the provider left it out.
func (u Usage) Normalized() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// JobInput holds the caller-supplied prompt parameters, validated per action.
type JobInput map[string]any

type DocJobOutput struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type DocJob struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Action       Action        `json:"action"`
	Input        JobInput      `json:"input"`
	Status       DocJobStatus  `json:"status"`
	Output       *DocJobOutput `json:"output,omitempty"`
	Truncated    bool          `json:"truncated"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}
