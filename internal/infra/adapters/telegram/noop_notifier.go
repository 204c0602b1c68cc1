package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/infra/metrics"
)

var _ adapter.JobNotifier = (*NoopNotifier)(nil)

// NoopNotifier logs job results instead of sending them.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) JobFinished(ctx context.Context, job *model.DocJob) error {
	metrics.IncNotification("telegram", "skipped")
	n.log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("[noop-telegram] job finished")
	return nil
}
