// Package external is the anti-corruption layer between the daymark domain
// and the delivery provider's HTTP API. All outbound calls are routed
// through Client, which enforces the resilience patterns the pipeline
// depends on: circuit breaking, bounded retry with exponential backoff,
// trace propagation, and error mapping into the AppError taxonomy.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"daymark/internal/types"
)

// RetryPolicy configures the in-call retry behavior of Client.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// BreakerSettings configures the shared circuit breaker. One breaker guards
// one external dependency for the whole process; all delivery workers share
// it, which is what makes the breaker meaningful under concurrency.
type BreakerSettings struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
}

// NewBreaker builds the process-wide circuit breaker for a dependency.
// The breaker opens after FailureThreshold consecutive failures, waits
// Cooldown, then admits a single probe request (HALF_OPEN); the probe's
// outcome closes or re-opens the circuit.
func NewBreaker(s BreakerSettings) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := uint32(s.FailureThreshold)
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
}

// Client wraps an *http.Client and a shared circuit breaker. The provider
// client embeds it to inherit consistent resilience behavior.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   RetryPolicy
	sleepFn func(time.Duration) // injectable for tests; defaults to time.Sleep
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithSleepFunc overrides the sleep function used between retries.
// Intended for tests to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) { c.sleepFn = fn }
}

// NewClient creates a Client sharing the given breaker.
func NewClient(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], retry RetryPolicy, opts ...ClientOption) *Client {
	c := &Client{
		http:    httpClient,
		breaker: breaker,
		retry:   retry,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request through the breaker with bounded retry.
//
// Retry applies to 429 and 5xx responses and to transport errors; other
// statuses return to the caller as-is. When the breaker is open, Do fails
// fast with ErrCodeCircuitOpen without touching the provider and without
// consuming retry attempts.
//
// The caller owns the returned response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetTraceID(req.Context()); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body for retry", err)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.http.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count as breaker failures.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("provider returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < c.retry.MaxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		// An open breaker short-circuits the whole call; retrying locally
		// would only burn time without reaching the provider.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < c.retry.MaxAttempts-1 {
			c.sleepFn(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}

	return nil, c.mapError(lastResp, lastErr)
}

// backoff computes the wait before the next attempt: the Retry-After header
// when present, otherwise exponential backoff with full jitter clamped to
// [BaseDelay, MaxDelay].
func (c *Client) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > c.retry.MaxDelay {
					wait = c.retry.MaxDelay
				}
				return wait
			}
		}
	}

	base := float64(c.retry.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(c.retry.MaxDelay); base > max {
		base = max
	}
	min := float64(c.retry.BaseDelay)
	if base <= min {
		return c.retry.BaseDelay
	}
	return time.Duration(min + rand.Float64()*(base-min))
}

// mapError translates transport-level failures into AppErrors.
func (c *Client) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeCircuitOpen,
			"circuit breaker is open; provider unavailable", err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimit,
				"provider rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamProvider,
				fmt.Sprintf("provider returned %d after retries", resp.StatusCode), err)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamProvider, "provider request failed", err)
}
