package llm

import (
	"fmt"

	"github.com/rs/zerolog"

	"mailintel_server/config"
	"mailintel_server/core/port/out"
)

// NewClient selects the inference client from configuration.
func NewClient(cfg *config.Config, log zerolog.Logger) (out.LLMClient, error) {
	switch cfg.LLMProvider {
	case "http":
		return NewHTTPClient(cfg.LLMEndpointURL, cfg.LLMReadTimeout, log), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, log), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
