package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

const defaultClaudeModel = "claude-haiku-4-5"
const defaultClaudeMaxTokens = 8192

// ClaudeEndpoint implements interfaces.LLMEndpoint over the Anthropic API.
type ClaudeEndpoint struct {
	config  *common.LMConfig
	logger  arbor.ILogger
	client  *anthropic.Client
	timeout time.Duration
	retry   retryConfig
}

// NewClaudeEndpoint resolves the Anthropic API key (env > KV > config) and
// builds a ready-to-use LLMEndpoint.
func NewClaudeEndpoint(ctx context.Context, cfg *common.LMConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (*ClaudeEndpoint, error) {
	apiKey, err := common.ResolveAPIKey(ctx, kv, "lm_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API key is required for Claude endpoint (set ANTHROPIC_API_KEY or lm.api_key): %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}

	timeoutSec := cfg.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 300
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	ep := &ClaudeEndpoint{
		config:  &common.LMConfig{Provider: cfg.Provider, Model: model, MaxRetries: cfg.MaxRetries, TimeoutSeconds: timeoutSec, BaseTemperature: cfg.BaseTemperature, TemperatureIncrement: cfg.TemperatureIncrement},
		logger:  logger,
		client:  client,
		timeout: time.Duration(timeoutSec) * time.Second,
		retry:   defaultRetryConfig(cfg.MaxRetries),
	}

	logger.Debug().Str("model", model).Dur("timeout", ep.timeout).Msg("Claude LLM endpoint initialized")
	return ep, nil
}

// Complete implements interfaces.LLMEndpoint.
func (e *ClaudeEndpoint) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	claudeMessages, systemText, err := convertMessagesToClaude(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages to Claude format: %w", err)
	}

	model := req.Model
	if model == "" {
		model = e.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var resp *anthropic.Message
	err = withRetry(timeoutCtx, e.retry, func() error {
		var apiErr error
		resp, apiErr = e.client.Messages.New(timeoutCtx, params)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text += block.Text
		}
	}

	return &interfaces.CompletionResult{
		ContentText: text,
		Usage: models.CompletionUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// convertMessagesToClaude splits system messages out (Claude takes System as
// a top-level param) and maps the remainder to MessageParam in order.
func convertMessagesToClaude(messages []models.Message) ([]anthropic.MessageParam, string, error) {
	hasUser := false
	for _, m := range messages {
		if m.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	out := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, m := range messages {
		switch m.Role {
		case "system":
			if systemText == "" {
				systemText = m.Content
			}
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, systemText, nil
}
