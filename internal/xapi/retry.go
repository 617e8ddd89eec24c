package xapi

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy controls how transient failures are retried. Delays double
// from BaseDelay up to MaxDelay, plus a random jitter below Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy is four attempts starting at 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    4 * time.Second,
		Jitter:      120 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt (1-based),
// without jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

// newRetryClient returns a retryablehttp client that retries 429, 5xx and
// transport errors on base. After the last attempt the final response or
// error is passed through unchanged.
func newRetryClient(base *http.Client, policy RetryPolicy, now func() time.Time) *retryablehttp.Client {
	if base == nil {
		base = &http.Client{Transport: http.DefaultTransport}
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.Logger = nil
	rc.RetryMax = max(policy.MaxAttempts-1, 0)
	rc.RetryWaitMin = policy.BaseDelay
	rc.RetryWaitMax = policy.MaxDelay
	rc.CheckRetry = checkRetry
	rc.Backoff = policy.backoffFunc(now)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, nil
}

// backoffFunc adapts p to retryablehttp, whose attempt numbers start at 0.
//
// A 429 waits until x-rate-limit-reset (epoch seconds) when that lies in
// the future, else for retry-after seconds, else the normal backoff.
func (p RetryPolicy) backoffFunc(now func() time.Time) retryablehttp.Backoff {
	if now == nil {
		now = time.Now
	}
	return func(_, _ time.Duration, attempt int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			if wait := rateLimitWait(resp, now()); wait > 0 {
				return wait
			}
		}
		d := p.Backoff(attempt + 1)
		if p.Jitter > 0 {
			d += time.Duration(rand.Int64N(int64(p.Jitter)))
		}
		return d
	}
}

func rateLimitWait(resp *http.Response, now time.Time) time.Duration {
	if reset := headerSeconds(resp, "x-rate-limit-reset"); reset > 0 {
		if delta := time.Unix(reset, 0).Sub(now); delta > 0 {
			return delta.Truncate(time.Second) + time.Second
		}
	}
	if after := headerSeconds(resp, "retry-after"); after > 0 {
		return time.Duration(after) * time.Second
	}
	return 0
}

func headerSeconds(resp *http.Response, name string) int64 {
	v, err := strconv.ParseInt(resp.Header.Get(name), 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
