package repository

import (
	"context"
	"time"

	"sales-crm-docgen/internal/domain/model"
)

type DocJobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.DocJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.DocJob, error)

	// ClaimByID moves one pending job owned by ownerID to 'processing'.
	// Returns domain.ErrNotFound when no such job exists for the owner and
	// domain.ErrJobNotClaimable when it has already left 'pending'.
	ClaimByID(ctx context.Context, id, ownerID string) (*model.DocJob, error)
	// ClaimNext atomically claims the oldest pending job.
	// Two concurrent callers never receive the same job.
	ClaimNext(ctx context.Context) (*model.DocJob, error)

	// Complete and Fail are the only terminal writes; both apply only to a
	// job still in 'processing' and return domain.ErrJobNotClaimable otherwise.
	Complete(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error
	Fail(ctx context.Context, id, message string) error

	// FailStale fails every job left in 'processing' since before olderThan.
	FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error)
}
