package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOpenRouterBase  = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "mistralai/mistral-7b-instruct"
)

// OpenAIConfig configures the OpenAI-compatible adapter, which also serves
// OpenRouter.
type OpenAIConfig struct {
	// Name labels the backend in logs and errors. Defaults to "openrouter".
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Temperature and MaxTokens fall back to the package defaults when zero.
	Temperature float64
	MaxTokens   int
	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
	Logger  *slog.Logger
}

type openAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *slog.Logger
}

// NewOpenAI returns a Provider for the chat completions API.
func NewOpenAI(cfg OpenAIConfig) Provider {
	if cfg.Name == "" {
		cfg.Name = "openrouter"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// --- wire types (subset of the chat completions API) ---

type oaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type oaiResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (p *openAIProvider) Name() string { return p.cfg.Name }

// Complete sends msgs as a single chat completion request.
func (p *openAIProvider) Complete(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", ErrNoMessages
	}
	data, err := json.Marshal(oaiRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", p.cfg.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", p.cfg.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	p.logger.Debug("llm: sending chat completion", "provider", p.cfg.Name, "model", p.cfg.Model, "messages", len(msgs))
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: http request: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", p.cfg.Name, err)
	}

	var parsed oaiResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Provider: p.cfg.Name, StatusCode: resp.StatusCode, Message: truncateBody(body)}
		if decodeErr == nil && parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
			apiErr.Code = parsed.Error.Type
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.cfg.Name, decodeErr)
	}
	if parsed.Error != nil {
		// Some compatible servers report errors with a 200 status.
		return "", &APIError{Provider: p.cfg.Name, StatusCode: resp.StatusCode, Code: parsed.Error.Type, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", p.cfg.Name, ErrNoChoices)
	}

	choice := parsed.Choices[0]
	p.logger.Debug("llm: received chat completion", "provider", p.cfg.Name, "finish_reason", choice.FinishReason, "chars", len(choice.Message.Content))
	return choice.Message.Content, nil
}
