package out

import "context"

// GenerateOptions are the sampling parameters sent with every inference call.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// GenerateRequest is one inference call against the configured endpoint.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Options GenerateOptions `json:"options"`
}

// LLMClient is the outbound port for the inference server. Implementations
// must honor ctx cancellation and surface retryable conditions via apperr
// so the phase analyzers can apply the retry/backoff/fallback policy.
type LLMClient interface {
	// Generate performs one non-streaming completion and returns the raw
	// model text.
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
}
