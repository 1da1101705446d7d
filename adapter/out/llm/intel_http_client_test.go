package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

func testRequest() *out.GenerateRequest {
	return &out.GenerateRequest{
		Model:  "llama3.1:8b",
		Prompt: "Subject: PO status",
		System: "You are a business email analyst.",
		Options: out.GenerateOptions{
			Temperature: 0.2,
			TopP:        0.9,
			NumPredict:  1024,
		},
	}
}

func TestHTTPClientGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":    "llama3.1:8b",
			"response": `{"priority": "High"}`,
			"done":     true,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	raw, err := c.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if raw != `{"priority": "High"}` {
		t.Errorf("response = %q", raw)
	}

	if got["model"] != "llama3.1:8b" || got["stream"] != false {
		t.Errorf("request body = %v", got)
	}
	if got["system"] == "" || got["prompt"] == "" {
		t.Errorf("prompts missing from request: %v", got)
	}
	opts, ok := got["options"].(map[string]any)
	if !ok || opts["temperature"] != 0.2 {
		t.Errorf("options = %v", got["options"])
	}
}

func TestHTTPClientRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := c.Generate(context.Background(), testRequest())
	ae := apperr.AsAppError(err)
	if ae.Code != apperr.CodeTransientNetwork {
		t.Fatalf("code = %s, want transient", ae.Code)
	}
	if ae.RetryAfter != 7*time.Second {
		t.Errorf("retry_after = %s, want 7s", ae.RetryAfter)
	}
}

func TestHTTPClientServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"internal error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
			_, err := c.Generate(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if apperr.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v (%v)", apperr.IsRetryable(err), tt.retryable, err)
			}
		})
	}
}

func TestHTTPClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	for i := 0; i < 5; i++ {
		if _, err := c.Generate(context.Background(), testRequest()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	srv.Close() // even a dead server cannot be reached now

	_, err := c.Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
	if !apperr.IsRetryable(err) {
		t.Errorf("open circuit should classify as transient, got %v", err)
	}
}

func TestHTTPClientGarbageReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 5*time.Second, zerolog.Nop())
	_, err := c.Generate(context.Background(), testRequest())
	if !apperr.IsCode(err, apperr.CodeParseError) {
		t.Fatalf("err = %v, want parse error", err)
	}
}
