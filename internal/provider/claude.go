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

	"github.com/beocch/telegram-ai-assistant/internal/domain"
)

const (
	claudeDefaultAPIBase = "https://api.anthropic.com"
	claudeAPIVersion     = "2023-06-01"
	claudeDefaultModel   = "claude-3-haiku-20240307"
)

// claudeKeyPrefixes are the accepted credential formats; checked locally.
var claudeKeyPrefixes = []string{"sk-ant-", "sk-ant_api03-"}

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey  string
	apiBase string
	model   string
	params  domain.Params
	client  *http.Client
	logger  *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Params  domain.Params
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIBase == "" {
		cfg.APIBase = claudeDefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
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
	return &Claude{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		params:  cfg.Params,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

// Validate checks the credential format locally; no network call.
func (c *Claude) Validate() bool {
	if c.apiKey == "" {
		return false
	}
	for _, prefix := range claudeKeyPrefixes {
		if strings.HasPrefix(c.apiKey, prefix) {
			return true
		}
	}
	return false
}

// Models returns the static model catalog; no network call.
func (c *Claude) Models() []domain.ModelInfo {
	return []domain.ModelInfo{
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Description: "Latest and most capable"},
		{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet", Description: "Balanced performance"},
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Description: "Most powerful model"},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Description: "Fast and efficient"},
	}
}

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	System      string      `json:"system,omitempty"`
	Messages    []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Generate reshapes the message sequence for the Messages API: the system
// message moves to the out-of-band system field and the remaining contents
// are concatenated in order into a single user message. Backend failures
// come back as notice text, never as an error.
func (c *Claude) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	var systemPrompt string
	var parts []string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			systemPrompt = m.Content
			continue
		}
		parts = append(parts, m.Content)
	}

	body := claudeRequest{
		Model:       c.model,
		MaxTokens:   c.params.MaxTokens,
		Temperature: c.params.Temperature,
		System:      systemPrompt,
		Messages: []claudeMsg{
			{Role: domain.RoleUser, Content: strings.Join(parts, "\n\n")},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("claude request failed", "err", err)
		return classifyAPIError("Claude", 0, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("claude api error", "status", resp.StatusCode, "body", string(respBody))
		return classifyAPIError("Claude", resp.StatusCode, string(respBody)), nil
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		c.logger.Error("claude decode failed", "err", err)
		return FallbackNotice(), nil
	}

	var textParts []string
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(textParts, ""))
	if text == "" {
		c.logger.Error("empty response from claude")
		return FallbackNotice(), nil
	}

	return text, nil
}
