package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel = "gemini-1.5-flash-latest"
)

// GeminiConfig configures the Google Generative Language adapter.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *slog.Logger
}

type geminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
	logger *slog.Logger
}

// NewGemini returns a Provider for the generateContent endpoint.
func NewGemini(cfg GeminiConfig) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
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
	return &geminiProvider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// --- wire types ---

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generation_config"`
	SafetySettings    []geminiSafetySetting  `json:"safety_settings"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var geminiSafety = []geminiSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

func (p *geminiProvider) Name() string { return "gemini" }

// convertMessages splits msgs into Gemini contents and a system
// instruction. Assistant turns become "model"; other unknown roles are
// dropped. Several system messages are joined in order.
func (p *geminiProvider) convertMessages(msgs []Message) ([]geminiContent, *geminiContent) {
	var contents []geminiContent
	var system []string
	for _, m := range msgs {
		var role string
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
			continue
		case RoleUser:
			role = "user"
		case RoleAssistant, "model":
			role = "model"
		default:
			p.logger.Warn("llm: skipping message with unknown role", "provider", "gemini", "role", m.Role)
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
}

// Complete sends msgs to generateContent and returns the first candidate's
// text.
func (p *geminiProvider) Complete(ctx context.Context, msgs []Message) (string, error) {
	contents, system := p.convertMessages(msgs)
	if len(contents) == 0 {
		return "", ErrNoMessages
	}
	data, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.cfg.Temperature,
			MaxOutputTokens: p.cfg.MaxTokens,
		},
		SafetySettings: geminiSafety,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := p.cfg.BaseURL + "/models/" + url.PathEscape(p.cfg.Model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	p.logger.Debug("llm: sending generateContent", "provider", "gemini", "model", p.cfg.Model, "contents", len(contents), "system", system != nil)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Provider: "gemini", StatusCode: resp.StatusCode, Message: truncateBody(body)}
		var e geminiErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			apiErr.Code = e.Error.Status
			apiErr.Message = e.Error.Message
		}
		return "", apiErr
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked (%s): %w", parsed.PromptFeedback.BlockReason, ErrNoChoices)
		}
		return "", fmt.Errorf("gemini: %w", ErrNoChoices)
	}

	cand := parsed.Candidates[0]
	p.logger.Debug("llm: received generateContent", "provider", "gemini", "finish_reason", cand.FinishReason)
	return cand.Content.Parts[0].Text, nil
}
