// Package llm provides outbound inference clients: a plain HTTP client
// for local model servers and an OpenAI-compatible client, selected by
// configuration.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// generateResponse is the model server's non-streaming reply envelope.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// HTTPClient calls a local model server's generate endpoint. A circuit
// breaker sits in front so a dead model server fails fast instead of
// burning every worker's deadline on connection timeouts.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewHTTPClient builds the client. readTimeout bounds a single HTTP
// exchange; per-call deadlines still come from the caller's context.
func NewHTTPClient(endpoint string, readTimeout time.Duration, log zerolog.Logger) *HTTPClient {
	settings := gobreaker.Settings{
		Name:        "llm-http",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: readTimeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		log:      log.With().Str("component", "llm_http").Logger(),
	}
}

// Generate performs one non-streaming completion.
func (c *HTTPClient) Generate(ctx context.Context, req *out.GenerateRequest) (string, error) {
	body := struct {
		Model   string              `json:"model"`
		Prompt  string              `json:"prompt"`
		System  string              `json:"system,omitempty"`
		Stream  bool                `json:"stream"`
		Options out.GenerateOptions `json:"options"`
	}{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: req.Options,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", apperr.Fatal("encode generate request", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperr.TransientNetwork(err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Fatal("build generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Includes per-call deadline expiry; the caller decides whether
		// its own deadline is gone before retrying.
		return "", apperr.TransientNetwork(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return "", apperr.RateLimited(retryAfter(resp))
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return "", apperr.TransientNetwork(fmt.Errorf("model server returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return "", apperr.Fatal(fmt.Sprintf("model server returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.TransientNetwork(err)
	}
	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", apperr.ParseError("model server reply is not valid JSON", err)
	}
	return gr.Response, nil
}

// retryAfter reads the server backoff hint, defaulting to two seconds.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 2 * time.Second
}
