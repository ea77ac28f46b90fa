package provider

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

	"github.com/beocch/telegram-ai-assistant/internal/domain"
)

const (
	openaiDefaultAPIBase = "https://api.openai.com/v1"
	openaiDefaultModel   = "gpt-3.5-turbo"
	openaiKeyPrefix      = "sk-"

	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultHTTPTimeout = 120 * time.Second
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	params  domain.Params
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Params  domain.Params
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = openaiDefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Params.MaxTokens <= 0 {
		cfg.Params.MaxTokens = defaultMaxTokens
	}
	if cfg.Params.Temperature <= 0 {
		cfg.Params.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		params:  cfg.Params,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Validate checks the credential format locally; no network call.
func (o *OpenAI) Validate() bool {
	return o.apiKey != "" && strings.HasPrefix(o.apiKey, openaiKeyPrefix)
}

// Models returns the static model catalog; no network call.
func (o *OpenAI) Models() []domain.ModelInfo {
	return []domain.ModelInfo{
		{ID: "gpt-4", Name: "GPT-4", Description: "Most capable model"},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Description: "Latest GPT-4 model"},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Description: "Fast and efficient"},
		{ID: "gpt-3.5-turbo-16k", Name: "GPT-3.5 Turbo 16K", Description: "Extended context"},
	}
}

type oaiRequest struct {
	Model            string       `json:"model"`
	Messages         []oaiMessage `json:"messages"`
	MaxTokens        int          `json:"max_tokens"`
	Temperature      float64      `json:"temperature"`
	TopP             float64      `json:"top_p"`
	FrequencyPenalty float64      `json:"frequency_penalty"`
	PresencePenalty  float64      `json:"presence_penalty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiChoice struct {
	Message oaiMessage `json:"message"`
}

// Generate sends the message sequence as-is; OpenAI supports the system role
// natively so no reshaping is needed. Backend failures come back as notice
// text, never as an error.
func (o *OpenAI) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	msgs := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: m.Content})
	}

	body := oaiRequest{
		Model:            o.model,
		Messages:         msgs,
		MaxTokens:        o.params.MaxTokens,
		Temperature:      o.params.Temperature,
		TopP:             1.0,
		FrequencyPenalty: 0.0,
		PresencePenalty:  0.0,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		o.logger.Error("openai request failed", "err", err)
		return classifyAPIError("OpenAI", 0, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		o.logger.Error("openai api error", "status", resp.StatusCode, "body", string(respBody))
		return classifyAPIError("OpenAI", resp.StatusCode, string(respBody)), nil
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		o.logger.Error("openai decode failed", "err", err)
		return FallbackNotice(), nil
	}

	if len(oaiResp.Choices) == 0 || strings.TrimSpace(oaiResp.Choices[0].Message.Content) == "" {
		o.logger.Error("empty response from openai")
		return FallbackNotice(), nil
	}

	return strings.TrimSpace(oaiResp.Choices[0].Message.Content), nil
}
