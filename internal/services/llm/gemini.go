package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiEndpoint implements interfaces.LLMEndpoint over Google's genai SDK.
type GeminiEndpoint struct {
	config  *common.LMConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	retry   retryConfig
}

// NewGeminiEndpoint resolves the Google API key (env > KV > config) and
// builds a ready-to-use LLMEndpoint.
func NewGeminiEndpoint(ctx context.Context, cfg *common.LMConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (*GeminiEndpoint, error) {
	apiKey, err := common.ResolveAPIKey(ctx, kv, "lm_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Google API key is required for Gemini endpoint (set KXO_LM_API_KEY or lm.api_key): %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	timeoutSec := cfg.TimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 300
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	ep := &GeminiEndpoint{
		config:  &common.LMConfig{Provider: cfg.Provider, Model: model, MaxRetries: cfg.MaxRetries, TimeoutSeconds: timeoutSec, BaseTemperature: cfg.BaseTemperature, TemperatureIncrement: cfg.TemperatureIncrement},
		logger:  logger,
		client:  client,
		timeout: time.Duration(timeoutSec) * time.Second,
		retry:   defaultRetryConfig(cfg.MaxRetries),
	}

	logger.Debug().Str("model", model).Dur("timeout", ep.timeout).Msg("Gemini LLM endpoint initialized")
	return ep, nil
}

// Complete implements interfaces.LLMEndpoint.
func (e *GeminiEndpoint) Complete(ctx context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	contents, systemText, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	model := req.Model
	if model == "" {
		model = e.config.Model
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		genConfig.ResponseMIMEType = "application/json"
	}
	if systemText != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var resp *genai.GenerateContentResponse
	err = withRetry(timeoutCtx, e.retry, func() error {
		var apiErr error
		resp, apiErr = e.client.Models.GenerateContent(timeoutCtx, model, contents, genConfig)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	var text string
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text += part.Text
				}
			}
			if text != "" {
				break
			}
		}
	}

	usage := models.CompletionUsage{}
	if resp != nil && resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &interfaces.CompletionResult{ContentText: text, Usage: usage}, nil
}

// convertMessagesToGemini splits system messages out (Gemini takes
// SystemInstruction as a top-level param) and maps the remainder to
// *genai.Content in order, mapping assistant -> model role.
func convertMessagesToGemini(messages []models.Message) ([]*genai.Content, string, error) {
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

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, m := range messages {
		if m.Role == "system" {
			if systemText == "" {
				systemText = m.Content
			}
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}
	return contents, systemText, nil
}
