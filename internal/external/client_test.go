package external

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daymark/internal/types"
)

// scriptedTransport plays back a sequence of responses or errors, recording
// each request it sees.
type scriptedTransport struct {
	steps    []scriptedStep
	requests []*http.Request
	bodies   []string
}

type scriptedStep struct {
	status  int
	headers map[string]string
	err     error
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	body := ""
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	s.bodies = append(s.bodies, body)

	step := s.steps[len(s.requests)-1]
	if step.err != nil {
		return nil, step.err
	}
	resp := &http.Response{
		StatusCode: step.status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("{}")),
	}
	for k, v := range step.headers {
		resp.Header.Set(k, v)
	}
	return resp, nil
}

func newTestClient(transport http.RoundTripper, threshold int) (*Client, *[]time.Duration) {
	breaker := NewBreaker(BreakerSettings{
		Name:             "test",
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
	})
	var sleeps []time.Duration
	client := NewClient(
		&http.Client{Transport: transport},
		breaker,
		RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second},
		WithSleepFunc(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)
	return client, &sleeps
}

func postReq(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://provider.example/send",
		bytes.NewReader([]byte(`{"destination":"ada@example.com"}`)))
	require.NoError(t, err)
	return req
}

func TestClient_Do_SuccessFirstAttempt(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{{status: 200}}}
	client, sleeps := newTestClient(transport, 5)

	resp, err := client.Do(postReq(t))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, transport.requests, 1)
	assert.Empty(t, *sleeps)
}

func TestClient_Do_RetriesServerErrorThenSucceeds(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{
		{status: 503},
		{status: 200},
	}}
	client, sleeps := newTestClient(transport, 5)

	resp, err := client.Do(postReq(t))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, transport.requests, 2)
	assert.Len(t, *sleeps, 1)
	// The body must be replayed on the retry, not consumed by attempt one.
	assert.Equal(t, transport.bodies[0], transport.bodies[1])
}

func TestClient_Do_ExhaustsRetries(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{
		{status: 500}, {status: 500}, {status: 500},
	}}
	client, _ := newTestClient(transport, 10)

	_, err := client.Do(postReq(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamProvider, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
	assert.Len(t, transport.requests, 3)
}

func TestClient_Do_RateLimitMapsToRateLimitCode(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{
		{status: 429}, {status: 429}, {status: 429},
	}}
	client, _ := newTestClient(transport, 10)

	_, err := client.Do(postReq(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamRateLimit, types.CodeOf(err))
}

func TestClient_Do_HonorsRetryAfterHeader(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{
		{status: 429, headers: map[string]string{"Retry-After": "1"}},
		{status: 200},
	}}
	client, sleeps := newTestClient(transport, 5)

	resp, err := client.Do(postReq(t))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Len(t, *sleeps, 1)
	assert.Equal(t, time.Second, (*sleeps)[0])
}

func TestClient_Do_TransportErrorRetried(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{
		{err: errors.New("connection reset")},
		{status: 200},
	}}
	client, _ := newTestClient(transport, 5)

	resp, err := client.Do(postReq(t))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, transport.requests, 2)
}

func TestClient_Do_OpenBreakerFailsFastWithoutRetries(t *testing.T) {
	// Two consecutive failures trip the breaker (threshold 2); the failing
	// call stops retrying the moment the circuit opens.
	transport := &scriptedTransport{steps: []scriptedStep{
		{status: 500}, {status: 500}, {status: 500},
	}}
	client, _ := newTestClient(transport, 2)

	_, err := client.Do(postReq(t))
	require.Error(t, err)
	// Attempt 3 was short-circuited: only two requests reached the wire.
	assert.Len(t, transport.requests, 2)

	// Subsequent calls fail fast without touching the provider at all.
	_, err = client.Do(postReq(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeCircuitOpen, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
	assert.Len(t, transport.requests, 2)
}

func TestClient_Do_PropagatesTraceHeader(t *testing.T) {
	transport := &scriptedTransport{steps: []scriptedStep{{status: 200}}}
	client, _ := newTestClient(transport, 5)

	req := postReq(t)
	req = req.WithContext(types.WithTraceID(req.Context(), "trace-42"))

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-42", transport.requests[0].Header.Get("X-Trace-Id"))
}

func TestClient_Backoff_ClampedToMaxDelay(t *testing.T) {
	client := NewClient(nil, nil, RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  300 * time.Millisecond,
	})

	for attempt := 0; attempt < 10; attempt++ {
		d := client.backoff(attempt, nil)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
