package llm

// #region imports
import (
	"context"
	"time"
)

// #endregion imports

// #region constants

const maxRetries = 1 // max 1 retry = 2 total attempts

// #endregion constants

// #region retry

// Retry wraps a Client with a single retry on transient failures (timeouts,
// rate limits, 5xx). Non-transient errors pass through untouched. Streams
// retry only when no delta has been delivered yet, so callers never see a
// restarted stream.
type Retry struct {
	client  *Client
	backoff time.Duration
}

// NewRetry wraps client with transient-failure retries.
func NewRetry(client *Client, backoff time.Duration) *Retry {
	return &Retry{client: client, backoff: backoff}
}

func (r *Retry) wait(ctx context.Context) error {
	select {
	case <-time.After(r.backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete calls the wrapped client, retrying once on a transient failure.
func (r *Retry) Complete(ctx context.Context, req ChatRequest) (ChatResult, error) {
	res, err := r.client.Complete(ctx, req)
	for attempt := 0; attempt < maxRetries && err != nil && IsTransient(err) && ctx.Err() == nil; attempt++ {
		if werr := r.wait(ctx); werr != nil {
			return ChatResult{}, werr
		}
		res, err = r.client.Complete(ctx, req)
	}
	return res, err
}

// Stream calls the wrapped client, retrying once on a transient failure that
// occurred before any delta reached onDelta.
func (r *Retry) Stream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (ChatResult, error) {
	delivered := false
	wrapped := func(delta string) error {
		delivered = true
		return onDelta(delta)
	}
	res, err := r.client.Stream(ctx, req, wrapped)
	for attempt := 0; attempt < maxRetries && err != nil && !delivered && IsTransient(err) && ctx.Err() == nil; attempt++ {
		if werr := r.wait(ctx); werr != nil {
			return ChatResult{}, werr
		}
		res, err = r.client.Stream(ctx, req, wrapped)
	}
	return res, err
}

// Embed calls the wrapped client, retrying once on a transient failure.
func (r *Retry) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.client.Embed(ctx, text)
	for attempt := 0; attempt < maxRetries && err != nil && IsTransient(err) && ctx.Err() == nil; attempt++ {
		if werr := r.wait(ctx); werr != nil {
			return nil, werr
		}
		vec, err = r.client.Embed(ctx, text)
	}
	return vec, err
}

// #endregion retry
