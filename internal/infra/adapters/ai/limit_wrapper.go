package ai

import (
	"context"
	"io"
	"sync"

	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.LLMProvider = (*limitedProvider)(nil)

// limitedProvider caps concurrent upstream calls. A stream holds its slot
// until the body is closed.
type limitedProvider struct {
	inner adapter.LLMProvider
	sem   chan struct{}
}

func NewLimitedProvider(inner adapter.LLMProvider, maxConcurrent int) adapter.LLMProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedProvider) release() { <-l.sem }

func (l *limitedProvider) Complete(ctx context.Context, req adapter.CompletionRequest) (adapter.Completion, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.Completion{}, err
	}
	defer l.release()
	return l.inner.Complete(ctx, req)
}

func (l *limitedProvider) OpenStream(ctx context.Context, req adapter.CompletionRequest) (io.ReadCloser, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	body, err := l.inner.OpenStream(ctx, req)
	if err != nil {
		l.release()
		return nil, err
	}
	return &releasingBody{ReadCloser: body, release: l.release}, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
