package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// OpenAIClient adapts the chat completions API to the generate port.
// System and user prompts map onto chat roles; sampling options carry
// over where the API supports them.
type OpenAIClient struct {
	client *openai.Client
	log    zerolog.Logger
}

// NewOpenAIClient builds the client. baseURL is optional and allows
// pointing at any compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string, log zerolog.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		log:    log.With().Str("component", "llm_openai").Logger(),
	}
}

// Generate performs one chat completion and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req *out.GenerateRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Options.Temperature),
		TopP:        float32(req.Options.TopP),
		MaxTokens:   req.Options.NumPredict,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.ParseError("completion returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return apperr.RateLimited(2 * time.Second)
		case apiErr.HTTPStatusCode >= 500:
			return apperr.TransientNetwork(err)
		default:
			return apperr.Fatal("completion request rejected", err)
		}
	}
	return apperr.TransientNetwork(err)
}
