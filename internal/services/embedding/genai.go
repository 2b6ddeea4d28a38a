// Package embedding implements interfaces.EmbeddingService against Google's
// Generative AI embeddings API. Grounded on the genai embeddings client
// pattern used elsewhere in the pack (batching, retry with exponential
// backoff, per-text EmbedContent calls), adapted onto this module's narrower
// EmbeddingService contract.
package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
)

const (
	// DefaultModel is used when config.Embedding.Model is unset.
	DefaultModel = "text-embedding-004"
	// DefaultDimension matches DefaultModel's output size.
	DefaultDimension = 768
	// DefaultBatchSize matches the provider's per-request cap.
	DefaultBatchSize = 100

	maxRetries = 3
	baseDelay  = 200 * time.Millisecond
	maxDelay   = 10 * time.Second
)

// Client embeds text via the genai API, batching and retrying per request.
type Client struct {
	client *genai.Client
	model  string
	dim    int
	logger arbor.ILogger
}

// New constructs a Client from the embedding section of Config. apiKey is
// taken as already resolved; an empty key is an error.
func New(ctx context.Context, cfg *common.EmbeddingConfig, apiKey string, logger arbor.ILogger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = DefaultDimension
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{client: gc, model: model, dim: dim, logger: logger}, nil
}

// Dimension reports the configured embedding vector length.
func (c *Client) Dimension() int {
	return c.dim
}

// Embed generates a single embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for many texts, chunked into the
// provider's batch-size limit.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += DefaultBatchSize {
		end := i + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, err := c.embedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("embedding request failed")
	}
	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		result, err := c.client.Models.EmbedContent(ctx, c.model, genai.Text(text), &genai.EmbedContentConfig{
			TaskType: "RETRIEVAL_DOCUMENT",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embeddings returned for text")
		}
		vectors = append(vectors, result.Embeddings[0].Values)
	}
	return vectors, nil
}

func backoff(attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
