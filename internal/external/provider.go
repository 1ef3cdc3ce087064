package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"daymark/internal/types"
)

// SendRequest is the provider's send payload: rendered content plus a
// destination address.
type SendRequest struct {
	Destination string `json:"destination"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
}

// SendResult reports a successful provider send.
type SendResult struct {
	// ProviderMessageID is the provider's identifier for the accepted send.
	ProviderMessageID string
}

// GreetingProvider is the single synchronous operation consumed from the
// delivery provider collaborator. Failures are classified through the
// AppError code: retryable infrastructure codes versus terminal rejection.
type GreetingProvider interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// HTTPProvider delivers greetings over the provider's HTTP API through the
// resilient Client (circuit breaker + bounded retry).
type HTTPProvider struct {
	client *Client
	url    string
	apiKey types.SecretString
	logger types.Logger
}

// HTTPProviderConfig bundles the HTTPProvider constructor arguments.
type HTTPProviderConfig struct {
	Client *Client
	URL    string
	APIKey types.SecretString
	Logger types.Logger
}

// NewHTTPProvider creates a provider client for the given endpoint.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		client: cfg.Client,
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		logger: cfg.Logger,
	}
}

// Send implements GreetingProvider.
//
// Status mapping: 2xx is success; 429 and 5xx surface from Client as
// retryable upstream errors; any other 4xx is a terminal rejection
// (bad destination, rejected content) that must not be retried.
func (p *HTTPProvider) Send(ctx context.Context, sendReq SendRequest) (*SendResult, error) {
	if sendReq.Destination == "" {
		return nil, types.NewAppError(types.ErrCodeMissingField, "send destination is empty", nil)
	}

	payload, err := json.Marshal(sendReq)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal send request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := p.apiKey.Unmask(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var body struct {
			MessageID string `json:"message_id"`
		}
		// A provider that omits the body still counts as accepted.
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &SendResult{ProviderMessageID: body.MessageID}, nil
	}

	// Remaining 4xx: terminal rejection. Client already consumed 429/5xx.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	p.logger.Warn("provider rejected send",
		"status", resp.StatusCode,
		"detail", string(detail),
	)
	return nil, types.NewAppError(types.ErrCodeProviderRejected,
		fmt.Sprintf("provider rejected send with %d: %s", resp.StatusCode, string(detail)), nil)
}

// StubProvider logs sends instead of calling a real provider. Used in local
// development when PROVIDER_URL points nowhere useful.
type StubProvider struct {
	logger types.Logger
}

// NewStubProvider creates a logging stub provider.
func NewStubProvider(logger types.Logger) *StubProvider {
	return &StubProvider{logger: logger}
}

// Send implements GreetingProvider by logging the payload.
func (p *StubProvider) Send(_ context.Context, req SendRequest) (*SendResult, error) {
	p.logger.Info("stub provider send",
		"destination", req.Destination,
		"subject", req.Subject,
	)
	return &SendResult{ProviderMessageID: "stub"}, nil
}

// Compile-time interface assertions.
var (
	_ GreetingProvider = (*HTTPProvider)(nil)
	_ GreetingProvider = (*StubProvider)(nil)
)
