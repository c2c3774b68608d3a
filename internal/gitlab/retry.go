package gitlab

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// RetryPolicy retries an HTTP operation on responses classified as
// retryable, sleeping base*2^attempt plus up to one second of jitter
// between attempts. Anything not retryable is handed straight back to
// the caller, which owns recovery policy.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// OnRetry is invoked once per performed retry. The exporter wires it
	// to the shared retry counter.
	OnRetry func()
}

// DefaultRetryPolicy matches the remote's documented rate-limit window:
// up to 5 retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
	}
}

// RetryableStatus reports whether a response should be retried by this
// layer. Only HTTP 429 qualifies; every other status is surfaced to the
// caller untouched.
func RetryableStatus(resp *http.Response) bool {
	return resp.StatusCode == http.StatusTooManyRequests
}

// Do runs op until it yields a non-retryable response, the context is
// cancelled, or the retry budget is exhausted. op is responsible for
// building a fresh request on every call.
func (p RetryPolicy) Do(ctx context.Context, op func() (*http.Response, error), retryable func(*http.Response) bool) (*http.Response, error) {
	if retryable == nil {
		retryable = RetryableStatus
	}

	for attempt := 0; ; attempt++ {
		resp, err := op()
		if err != nil {
			return nil, err
		}
		if !retryable(resp) {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if attempt >= p.MaxRetries {
			return nil, &RateLimitError{Attempts: attempt + 1}
		}

		delay := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff computes base*2^attempt plus uniform jitter in [0,1) seconds.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return delay + jitter
}
