// Package llmbroker decouples extraction from inference: the Broker
// queues LMRequests on a shared stream and polls the response bucket for
// completions, while the Worker drains that stream against a concrete
// LLMEndpoint.
package llmbroker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ErrQueueFull is raised by Submit when the stream depth exceeds MaxQueueDepth.
var ErrQueueFull = errors.New("llmbroker: queue full")

// Backpressure levels returned by BackpressureStatus.
const (
	BackpressureOK   = "ok"
	BackpressureSlow = "slow"
	BackpressureFull = "full"
)

// Broker is the client-facing half of the LM request/response pipeline.
type Broker struct {
	stream    interfaces.RequestStream
	responses interfaces.ResponseBucket
	config    *common.BrokerConfig
	logger    arbor.ILogger
}

func NewBroker(stream interfaces.RequestStream, responses interfaces.ResponseBucket, config *common.BrokerConfig, logger arbor.ILogger) *Broker {
	return &Broker{stream: stream, responses: responses, config: config, logger: logger}
}

// Submit appends req to the stream, failing with ErrQueueFull once depth
// exceeds max_queue_depth (spec §4.3).
func (b *Broker) Submit(ctx context.Context, req *models.LMRequest) (string, error) {
	depth, err := b.stream.Depth(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check queue depth: %w", err)
	}
	if depth > b.config.MaxQueueDepth {
		return "", ErrQueueFull
	}

	if req.RequestID == "" {
		req.RequestID = common.NewID("req")
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.TimeoutAt.IsZero() {
		req.TimeoutAt = req.CreatedAt.Add(300 * time.Second)
	}

	if err := b.stream.Append(ctx, req); err != nil {
		return "", fmt.Errorf("failed to enqueue request %s: %w", req.RequestID, err)
	}

	if err := b.stream.Trim(ctx, b.config.StreamCap); err != nil {
		b.logger.Warn().Err(err).Msg("failed to trim request stream")
	}

	return req.RequestID, nil
}

// Wait polls the response bucket until the request completes or timeout
// elapses, returning a synthetic timeout LMResponse on expiry rather than
// an error (spec §4.3).
func (b *Broker) Wait(ctx context.Context, requestID string, timeout time.Duration) (*models.LMResponse, error) {
	pollInterval := time.Duration(b.config.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		resp, found, err := b.responses.Get(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll response for %s: %w", requestID, err)
		}
		if found {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return &models.LMResponse{
				RequestID:   requestID,
				Status:      models.LMResponseTimeout,
				CompletedAt: time.Now(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BackpressureStatus compares stream depth against the configured
// thresholds (spec §4.3).
func (b *Broker) BackpressureStatus(ctx context.Context) (string, error) {
	depth, err := b.stream.Depth(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check queue depth: %w", err)
	}
	switch {
	case depth >= b.config.BackpressureFull:
		return BackpressureFull, nil
	case depth >= b.config.BackpressureSlow:
		return BackpressureSlow, nil
	default:
		return BackpressureOK, nil
	}
}
