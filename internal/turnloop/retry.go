package turnloop

import (
	"context"
	"errors"
	"time"

	"github.com/codexturn/codexturn/internal/backoff"
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// retryPolicy bounds the exponential backoff used when a stream error
// carries no provider-hinted delay: 250ms doubling, capped at 10s, a turn
// round trip being costlier to retry than the single-provider-call policies
// internal/backoff.DefaultPolicy/AggressivePolicy/ConservativePolicy were
// tuned for.
var retryPolicy = backoff.BackoffPolicy{InitialMs: 250, MaxMs: 10_000, Factor: 2, Jitter: 0.1}

// runTurnWithRetry runs one model round trip, retrying up to the client's
// MaxStreamRetries on a retryable StreamError and emitting StreamError for
// each failed attempt that is retried, per spec.md §4.8's retry policy.
func (t *Task) runTurnWithRetry(ctx context.Context, prompt modelstream.Prompt) (modelstream.Result, error) {
	driver := modelstream.NewDriver(t.deps.Client)
	maxRetries := t.deps.Client.MaxStreamRetries()

	var lastErr error
	for attempt := 0; ; attempt++ {
		result := driver.Run(ctx, prompt, t.tc, t.sessionApproved, t.dispatch, t.turnDiff)
		if result.Err == nil {
			return result, nil
		}
		lastErr = result.Err

		if ctx.Err() != nil {
			return modelstream.Result{}, ctx.Err()
		}
		if attempt >= maxRetries || !modelstream.IsRetryable(result.Err) {
			return modelstream.Result{}, lastErr
		}

		t.emitNow(protocol.Event{Kind: protocol.EventStreamError, Message: result.Err.Error()})

		select {
		case <-time.After(retryDelay(result.Err, attempt)):
		case <-ctx.Done():
			return modelstream.Result{}, ctx.Err()
		}
	}
}

// retryDelay paces the next attempt: a provider-hinted RetryAfter wins
// outright, otherwise retryPolicy's curve applies. ComputeBackoff counts
// attempts from 1, one ahead of this loop's 0-indexed attempt.
func retryDelay(err error, attempt int) time.Duration {
	var se *modelstream.StreamError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return time.Duration(se.RetryAfter) * time.Second
	}
	return backoff.ComputeBackoff(retryPolicy, attempt+1)
}
