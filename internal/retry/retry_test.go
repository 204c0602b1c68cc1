package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-crm-docgen/internal/domain"
)

type fakeClock struct{ waits []time.Duration }

func (f *fakeClock) sleep(_ context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return nil
}

func TestDo_AlwaysRateLimitedMakesFourAttempts(t *testing.T) {
	clock := &fakeClock{}
	c := &Controller{MaxRetries: 3, BaseDelay: 5 * time.Second, Sleep: clock.sleep}

	attempts := 0
	_, err := Do(context.Background(), c, func(context.Context) (string, error) {
		attempts++
		return "", fmt.Errorf("openai http 429: %w", domain.ErrRateLimited)
	})

	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, clock.waits)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindExhausted, rerr.Kind)
	assert.Equal(t, 4, rerr.Attempts)
	assert.ErrorIs(t, err, domain.ErrRateLimitExhausted)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Contains(t, err.Error(), "try again")
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	clock := &fakeClock{}
	c := &Controller{Sleep: clock.sleep}
	boom := errors.New("invalid model")

	attempts := 0
	_, err := Do(context.Background(), c, func(context.Context) (int, error) {
		attempts++
		return 0, boom
	})

	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.waits)
	assert.ErrorIs(t, err, domain.ErrNonRetryable)
	assert.NotErrorIs(t, err, domain.ErrRateLimitExhausted)
	assert.ErrorIs(t, err, boom)
}

func TestDo_RecoversAfterRateLimit(t *testing.T) {
	clock := &fakeClock{}
	var retried []int
	c := &Controller{Sleep: clock.sleep, OnRetry: func(n int, _ time.Duration, _ error) { retried = append(retried, n) }}

	attempts := 0
	v, err := Do(context.Background(), c, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("Rate limit reached for gpt-4o in organization")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{DefaultBaseDelay, 2 * DefaultBaseDelay}, clock.waits)
}

func TestDo_MissingCredentialIsNotWrapped(t *testing.T) {
	_, err := Do(context.Background(), &Controller{}, func(context.Context) (int, error) {
		return 0, domain.ErrNoCredential
	})
	assert.Same(t, domain.ErrNoCredential, err)
}

func TestDo_CustomClassifier(t *testing.T) {
	clock := &fakeClock{}
	overloaded := errors.New("overloaded_error")
	c := &Controller{
		MaxRetries: 1,
		Sleep:      clock.sleep,
		Classify:   func(err error) bool { return errors.Is(err, overloaded) },
	}
	attempts := 0
	_, err := Do(context.Background(), c, func(context.Context) (int, error) {
		attempts++
		return 0, overloaded
	})
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, domain.ErrRateLimitExhausted)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{Sleep: func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}}
	_, err := Do(ctx, c, func(context.Context) (int, error) {
		return 0, domain.ErrRateLimited
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("429 Too Many Requests")))
	assert.True(t, IsRateLimited(fmt.Errorf("wrap: %w", domain.ErrRateLimited)))
	assert.True(t, IsRateLimited(errors.New(`{"type":"rate_limit_error"}`)))
	assert.False(t, IsRateLimited(errors.New("500 internal")))
	assert.False(t, IsRateLimited(nil))
}
