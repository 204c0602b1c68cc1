// Package retry wraps one upstream call attempt with exponential backoff on
// rate limiting. It only retries the attempt to open a call; anything that
// fails after a reply started flowing is the caller's concern.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-crm-docgen/internal/domain"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
)

// Classifier reports whether err means the upstream rate limited the call.
type Classifier func(err error) bool

var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"429",
}

// IsRateLimited is the default classifier: domain.ErrRateLimited anywhere in
// the chain, or rate-limit phrasing in the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type Kind int

const (
	KindExhausted Kind = iota + 1
	KindNonRetryable
)

// Error is the terminal failure of Do.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Kind == KindExhausted {
		return fmt.Sprintf("%v (after %d attempts: %v)", domain.ErrRateLimitExhausted, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%v: %v", domain.ErrNonRetryable, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case domain.ErrRateLimitExhausted:
		return e.Kind == KindExhausted
	case domain.ErrNonRetryable:
		return e.Kind == KindNonRetryable
	}
	return false
}

// Controller holds the retry policy. The zero value is usable and applies
// the defaults.
type Controller struct {
	MaxRetries int
	BaseDelay  time.Duration
	Classify   Classifier
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes every scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (c *Controller) maxRetries() int {
	if c == nil || c.MaxRetries < 0 {
		return 0
	}
	if c.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c *Controller) baseDelay() time.Duration {
	if c == nil || c.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return c.BaseDelay
}

func (c *Controller) classify(err error) bool {
	if c != nil && c.Classify != nil {
		return c.Classify(err)
	}
	return IsRateLimited(err)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c != nil && c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (c *Controller) Delay(attempt int) time.Duration {
	return c.baseDelay() << attempt
}

// Do calls fn until it succeeds, fails with a non-rate-limit error, or the
// retries run out. A cancelled context during a wait ends the loop with the
// context error.
func Do[T any](ctx context.Context, c *Controller, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := c.maxRetries()
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if errors.Is(err, domain.ErrNoCredential) {
			return zero, err
		}
		if !c.classify(err) {
			return zero, &Error{Kind: KindNonRetryable, Attempts: attempt + 1, Err: err}
		}
		if attempt >= max {
			return zero, &Error{Kind: KindExhausted, Attempts: attempt + 1, Err: err}
		}
		d := c.Delay(attempt)
		if c != nil && c.OnRetry != nil {
			c.OnRetry(attempt+1, d, err)
		}
		if err := c.sleep(ctx, d); err != nil {
			return zero, err
		}
	}
}
