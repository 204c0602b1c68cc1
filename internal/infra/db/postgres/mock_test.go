//go:build !integration

package postgres

import (
	"context"
	"time"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
	red "sales-crm-docgen/internal/infra/redis"
)

// mockInnerDocJobRepo mocks the database repository the cache decorator wraps.
type mockInnerDocJobRepo struct {
	CreateFunc    func(ctx context.Context, tx repository.Tx, job *model.DocJob) error
	FindByIDFunc  func(ctx context.Context, tx repository.Tx, id string) (*model.DocJob, error)
	ClaimByIDFunc func(ctx context.Context, id, ownerID string) (*model.DocJob, error)
	ClaimNextFunc func(ctx context.Context) (*model.DocJob, error)
	CompleteFunc  func(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error
	FailFunc      func(ctx context.Context, id, message string) error
	FailStaleFunc func(ctx context.Context, olderThan time.Time, message string) ([]string, error)
}

func (m *mockInnerDocJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.DocJob) error {
	return m.CreateFunc(ctx, tx, job)
}
func (m *mockInnerDocJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DocJob, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerDocJobRepo) ClaimByID(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	return m.ClaimByIDFunc(ctx, id, ownerID)
}
func (m *mockInnerDocJobRepo) ClaimNext(ctx context.Context) (*model.DocJob, error) {
	return m.ClaimNextFunc(ctx)
}
func (m *mockInnerDocJobRepo) Complete(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error {
	return m.CompleteFunc(ctx, id, out, truncated)
}
func (m *mockInnerDocJobRepo) Fail(ctx context.Context, id, message string) error {
	return m.FailFunc(ctx, id, message)
}
func (m *mockInnerDocJobRepo) FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error) {
	return m.FailStaleFunc(ctx, olderThan, message)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
