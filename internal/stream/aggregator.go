package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
)

// Source yields frames until io.EOF or a transport error.
type Source interface {
	Next() (Frame, error)
}

// Sink receives every delta fragment in arrival order as it is accumulated.
// A sink error stops forwarding but never stops accumulation.
type Sink func(fragment string) error

// Result is the aggregation state after the stream reached a terminal frame.
type Result struct {
	Text         string
	Usage        model.Usage
	FinishReason string
	Terminal     bool
	// SinkErr is the first error returned by the sink, if any.
	SinkErr error
}

// Truncated reports whether the reply was cut off by the token limit.
func (r Result) Truncated() bool { return r.FinishReason == "length" }

// StreamAbortedError is returned when the source ends or fails before a
// terminal frame. Partial holds whatever text was accumulated.
type StreamAbortedError struct {
	Partial string
	Err     error
}

func (e *StreamAbortedError) Error() string {
	if e.Err == nil || errors.Is(e.Err, io.EOF) {
		return "stream aborted: upstream closed before a terminal frame"
	}
	return fmt.Sprintf("stream aborted: %v", e.Err)
}

func (e *StreamAbortedError) Unwrap() error { return e.Err }

func (e *StreamAbortedError) Is(target error) bool { return target == domain.ErrStreamAborted }

// Consume drives src to its first terminal frame. Frames after the terminal
// frame are never read.
func Consume(ctx context.Context, src Source, sink Sink) (Result, error) {
	var (
		b   strings.Builder
		res Result
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, &StreamAbortedError{Partial: b.String(), Err: err}
		}
		f, err := src.Next()
		if err != nil {
			res.Text = b.String()
			return res, &StreamAbortedError{Partial: res.Text, Err: err}
		}
		switch f.Kind {
		case FrameDelta:
			b.WriteString(f.Text)
			if sink != nil && res.SinkErr == nil {
				res.SinkErr = sink(f.Text)
			}
		case FrameUsage:
			res.Usage = f.Usage
		case FrameTerminal:
			res.Text = b.String()
			res.FinishReason = f.FinishReason
			res.Terminal = true
			return res, nil
		}
	}
}

// Aggregate decodes body and consumes it. The body is closed on return, which
// cancels the underlying read once the terminal frame has been seen. It is
// also closed when ctx ends, so a stalled upstream cannot block past the
// caller's deadline.
func Aggregate(ctx context.Context, body io.ReadCloser, sink Sink) (Result, int, error) {
	defer body.Close()
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()
	dec := NewDecoder(body)
	res, err := Consume(ctx, dec, sink)
	if err != nil && ctx.Err() != nil {
		err = &StreamAbortedError{Partial: res.Text, Err: ctx.Err()}
	}
	return res, dec.Dropped(), err
}
