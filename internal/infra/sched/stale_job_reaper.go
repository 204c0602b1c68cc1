package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/metrics"
	red "sales-crm-docgen/internal/infra/redis"
)

// StaleMessage is written to jobs the reaper fails.
const StaleMessage = "job abandoned: no result was recorded before the processing deadline; please retry"

const reaperLockKey = "lock:docgen:stale_job_reaper"

// StaleJobReaper fails jobs stuck in processing, which happens when the
// process running them died before the terminal write.
type StaleJobReaper struct {
	interval   time.Duration
	staleAfter time.Duration
	jobs       repository.DocJobRepository
	locker     red.Locker // optional; keeps one instance reaping at a time
	now        func() time.Time
	log        *zerolog.Logger
}

func NewStaleJobReaper(interval, staleAfter time.Duration, jobs repository.DocJobRepository, locker red.Locker, logger *zerolog.Logger) *StaleJobReaper {
	compLog := logger.With().Str("component", "StaleJobReaper").Logger()
	return &StaleJobReaper{
		interval:   interval,
		staleAfter: staleAfter,
		jobs:       jobs,
		locker:     locker,
		now:        time.Now,
		log:        &compLog,
	}
}

func (w *StaleJobReaper) Run(ctx context.Context) error {
	w.log.Info().Dur("stale_after", w.staleAfter).Msg("Starting stale job reaper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale job reaper")
			return ctx.Err()
		case <-ticker.C:
			w.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs one pass and returns how many jobs it failed.
func (w *StaleJobReaper) ReapOnce(ctx context.Context) int {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reaperLockKey, w.interval)
		if err != nil {
			if !errors.Is(err, red.ErrLockHeld) {
				w.log.Warn().Err(err).Msg("reaper lock unavailable")
			}
			return 0
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), reaperLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("reaper unlock failed")
			}
		}()
	}

	ids, err := w.jobs.FailStale(ctx, w.now().Add(-w.staleAfter), StaleMessage)
	if err != nil {
		w.log.Error().Err(err).Msg("stale job reaper error")
		return 0
	}
	if len(ids) > 0 {
		metrics.AddReaped(len(ids))
		w.log.Warn().Int("count", len(ids)).Strs("job_ids", ids).Msg("stale jobs failed")
	}
	return len(ids)
}
