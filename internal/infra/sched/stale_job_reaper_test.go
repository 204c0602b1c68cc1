package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"sales-crm-docgen/internal/domain/ports/repository"
	red "sales-crm-docgen/internal/infra/redis"
)

type staleRepo struct {
	repository.DocJobRepository
	cutoff  time.Time
	message string
	ids     []string
	err     error
	calls   int
}

func (r *staleRepo) FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error) {
	r.calls++
	r.cutoff, r.message = olderThan, message
	return r.ids, r.err
}

type fakeLocker struct {
	held     bool
	unlocked []string
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", red.ErrLockHeld
	}
	return "tok", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.unlocked = append(l.unlocked, token)
	return nil
}

func newReaper(repo *staleRepo, locker red.Locker) *StaleJobReaper {
	logger := zerolog.Nop()
	w := NewStaleJobReaper(time.Minute, 30*time.Minute, repo, locker, &logger)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestReapOnce_FailsJobsOlderThanCutoff(t *testing.T) {
	repo := &staleRepo{ids: []string{"j1", "j2"}}
	w := newReaper(repo, nil)

	assert.Equal(t, 2, w.ReapOnce(context.Background()))
	assert.Equal(t, time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC), repo.cutoff)
	assert.Equal(t, StaleMessage, repo.message)
}

func TestReapOnce_RepoErrorIsLogged(t *testing.T) {
	w := newReaper(&staleRepo{err: errors.New("db down")}, nil)
	assert.Zero(t, w.ReapOnce(context.Background()))
}

func TestReapOnce_SkipsWhenLockHeld(t *testing.T) {
	repo := &staleRepo{ids: []string{"j1"}}
	w := newReaper(repo, &fakeLocker{held: true})
	assert.Zero(t, w.ReapOnce(context.Background()))
	assert.Zero(t, repo.calls)
}

func TestReapOnce_ReleasesLock(t *testing.T) {
	l := &fakeLocker{}
	repo := &staleRepo{}
	w := newReaper(repo, l)
	assert.Zero(t, w.ReapOnce(context.Background()))
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, []string{"tok"}, l.unlocked)
}
