// File: internal/infra/worker/job_processor.go
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
)

// JobSource claims the oldest pending job.
type JobSource interface {
	ClaimNext(ctx context.Context) (*model.DocJob, error)
}

// JobRunner executes a claimed job to its terminal state.
type JobRunner interface {
	RunClaimed(ctx context.Context, job *model.DocJob) *model.DocJob
}

// JobProcessor picks up pending jobs nobody claimed through the API, such as
// jobs created with a plain POST /jobs.
type JobProcessor struct {
	source   JobSource
	runner   JobRunner
	interval time.Duration
	log      *zerolog.Logger
}

func NewJobProcessor(source JobSource, runner JobRunner, interval time.Duration, logger *zerolog.Logger) *JobProcessor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	l := logger.With().Str("component", "JobProcessor").Logger()
	return &JobProcessor{source: source, runner: runner, interval: interval, log: &l}
}

// Start polls until ctx is done. Each tick hands one claim task to every idle
// worker. Claims happen inside pool tasks, so a full queue never strands a
// claimed job.
func (p *JobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("interval", p.interval).Msg("job processor started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("job processor stopping")
			return
		case <-ticker.C:
			p.fill(pool)
		}
	}
}

// fill submits one claim task per idle worker and reports how many it queued.
func (p *JobProcessor) fill(pool *Pool) int {
	queued := 0
	for i := pool.Idle(); i > 0; i-- {
		err := pool.Submit(func(ctx context.Context) error {
			p.ProcessOne(ctx)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrQueueFull) {
				p.log.Warn().Int("pending", pool.Pending()).Msg("worker queue full, skipping poll")
			}
			break
		}
		queued++
	}
	return queued
}

// ProcessOne claims and runs at most one job. It reports whether a job ran.
func (p *JobProcessor) ProcessOne(ctx context.Context) bool {
	job, err := p.source.ClaimNext(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log.Error().Err(err).Msg("failed to claim next job")
		}
		return false
	}
	start := time.Now()
	p.log.Info().Str("job_id", job.ID).Str("action", string(job.Action)).Msg("processing queued job")

	final := p.runner.RunClaimed(ctx, job)
	p.log.Info().
		Str("job_id", job.ID).
		Str("status", string(final.Status)).
		Dur("duration", time.Since(start)).
		Msg("queued job finished")
	return true
}
