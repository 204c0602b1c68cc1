package adapter

import (
	"context"

	"sales-crm-docgen/internal/domain/model"
)

// JobNotifier announces a background job's terminal state.
type JobNotifier interface {
	JobFinished(ctx context.Context, job *model.DocJob) error
}
