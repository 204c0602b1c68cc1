package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
	"sales-crm-docgen/internal/infra/metrics"
	red "sales-crm-docgen/internal/infra/redis"
)

var _ repository.DocJobRepository = (*docJobRepoCacheDecorator)(nil)

// docJobRepoCacheDecorator serves poll traffic for finished jobs from Redis.
// Only terminal jobs are cached, so a cached entry can never go stale.
type docJobRepoCacheDecorator struct {
	inner repository.DocJobRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewDocJobRepoCacheDecorator(inner repository.DocJobRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.DocJobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &docJobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func docJobKey(id string) string { return "docjob:" + id }

func (d *docJobRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, job *model.DocJob) error {
	return d.inner.Create(ctx, tx, job)
}

func (d *docJobRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DocJob, error) {
	key := docJobKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var job model.DocJob
		if json.Unmarshal([]byte(val), &job) == nil {
			metrics.IncCacheRequest("docjob", "hit")
			return &job, nil
		}
	} else if err != red.Nil {
		d.log.Warn().Err(err).Str("key", key).Msg("docjob cache read failed")
	}

	metrics.IncCacheRequest("docjob", "miss")
	job, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job != nil && job.Status.Terminal() {
		if b, err := json.Marshal(job); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return job, nil
}

func (d *docJobRepoCacheDecorator) ClaimByID(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	return d.inner.ClaimByID(ctx, id, ownerID)
}

func (d *docJobRepoCacheDecorator) ClaimNext(ctx context.Context) (*model.DocJob, error) {
	return d.inner.ClaimNext(ctx)
}

func (d *docJobRepoCacheDecorator) Complete(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error {
	_ = d.cache.Del(ctx, docJobKey(id))
	return d.inner.Complete(ctx, id, out, truncated)
}

func (d *docJobRepoCacheDecorator) Fail(ctx context.Context, id, message string) error {
	_ = d.cache.Del(ctx, docJobKey(id))
	return d.inner.Fail(ctx, id, message)
}

func (d *docJobRepoCacheDecorator) FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error) {
	ids, err := d.inner.FailStale(ctx, olderThan, message)
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = docJobKey(id)
		}
		_ = d.cache.Del(ctx, keys...)
	}
	return ids, err
}
