package llmbroker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

const adaptInterval = 10 * time.Second

// Worker drains the request stream under a named consumer group and
// executes each request against a concrete LLMEndpoint, grounded on the
// teacher's internal/queue/worker.go ticker-driven poll loop (internal/
// queue/worker.go's WorkerPool.worker), adapted from a single queue
// receiver to a batch-per-tick consumer-group read.
type Worker struct {
	group     string
	stream    interfaces.RequestStream
	responses interfaces.ResponseBucket
	dlq       interfaces.DLQ
	endpoint  interfaces.LLMEndpoint
	broker    *common.BrokerConfig
	lm        *common.LMConfig
	logger    arbor.ILogger

	mu          sync.Mutex
	concurrency int
	successes   int
	timeouts    int
	windowStart time.Time
}

func NewWorker(group string, stream interfaces.RequestStream, responses interfaces.ResponseBucket, dlq interfaces.DLQ, endpoint interfaces.LLMEndpoint, broker *common.BrokerConfig, lm *common.LMConfig, logger arbor.ILogger) *Worker {
	concurrency := broker.InitialConcurrency
	if concurrency <= 0 {
		concurrency = broker.MinConcurrency
	}
	return &Worker{
		group:       group,
		stream:      stream,
		responses:   responses,
		dlq:         dlq,
		endpoint:    endpoint,
		broker:      broker,
		lm:          lm,
		logger:      logger,
		concurrency: concurrency,
		windowStart: time.Now(),
	}
}

// Run blocks, polling the stream every poll_interval_ms and recalculating
// adaptive concurrency every 10s, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	pollInterval := time.Duration(w.broker.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	adaptTicker := time.NewTicker(adaptInterval)
	defer adaptTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-adaptTicker.C:
			w.adaptConcurrency()
		case <-pollTicker.C:
			w.pollBatch(ctx)
		}
	}
}

func (w *Worker) currentConcurrency() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.concurrency
}

func (w *Worker) pollBatch(ctx context.Context) {
	reqs, err := w.stream.Read(ctx, w.group, w.currentConcurrency())
	if err != nil {
		w.logger.Warn().Err(err).Str("group", w.group).Msg("failed to read request stream")
		return
	}
	if len(reqs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(r *models.LMRequest) {
			defer wg.Done()
			w.process(ctx, r)
		}(req)
	}
	wg.Wait()
}

// process implements spec §4.4's per-request outcomes, escalating
// temperature on each internal retry attempt per §4.4's schedule
// (base_temp + (k-1)·increment) until max_dlq_retries is exhausted.
func (w *Worker) process(ctx context.Context, req *models.LMRequest) {
	if time.Now().After(req.TimeoutAt) {
		w.finish(ctx, req, &models.LMResponse{
			RequestID:   req.RequestID,
			Status:      models.LMResponseTimeout,
			CompletedAt: time.Now(),
		})
		w.recordOutcome(false, true)
		return
	}

	start := time.Now()
	attempt := req.RetryCount + 1
	temperature := w.lm.BaseTemperature + float32(attempt-1)*w.lm.TemperatureIncrement

	result, err := w.endpoint.Complete(ctx, interfaces.CompletionRequest{
		Messages:    req.Messages,
		JSONMode:    true,
		Temperature: temperature,
		Model:       w.lm.Model,
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		maxRetries := w.broker.MaxDLQRetries
		if maxRetries <= 0 {
			maxRetries = 3
		}
		if req.RetryCount < maxRetries {
			req.RetryCount++
			if appendErr := w.stream.Append(ctx, req); appendErr != nil {
				w.logger.Warn().Err(appendErr).Str("request_id", req.RequestID).Msg("failed to re-enqueue request for retry")
			}
			w.ackOriginal(ctx, req.RequestID)
			w.recordOutcome(false, false)
			return
		}

		w.pushToDLQ(ctx, req, err.Error())
		w.finish(ctx, req, &models.LMResponse{
			RequestID:        req.RequestID,
			Status:           models.LMResponseError,
			Error:            err.Error(),
			ProcessingTimeMs: elapsed,
			CompletedAt:      time.Now(),
		})
		w.recordOutcome(false, false)
		return
	}

	w.finish(ctx, req, &models.LMResponse{
		RequestID:        req.RequestID,
		Status:           models.LMResponseSuccess,
		Result:           result.ContentText,
		ProcessingTimeMs: elapsed,
		CompletedAt:      time.Now(),
	})
	w.recordOutcome(true, false)
}

const responseTTL = 10 * time.Minute

func (w *Worker) finish(ctx context.Context, req *models.LMRequest, resp *models.LMResponse) {
	if err := w.responses.Put(ctx, resp, responseTTL); err != nil {
		w.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to store LM response")
	}
	w.ackOriginal(ctx, req.RequestID)
}

func (w *Worker) ackOriginal(ctx context.Context, requestID string) {
	if err := w.stream.Ack(ctx, w.group, requestID); err != nil && !strings.Contains(err.Error(), "not found") {
		w.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to ack request")
	}
}

func (w *Worker) pushToDLQ(ctx context.Context, req *models.LMRequest, errText string) {
	payload := map[string]interface{}{
		"request_id":   req.RequestID,
		"request_type": string(req.RequestType),
		"messages":     req.Messages,
		"retry_count":  req.RetryCount,
		"error":        errText,
		"failed_at":    time.Now(),
	}
	if err := w.dlq.Push(ctx, "llm:dlq", payload); err != nil {
		w.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to push request to DLQ")
	}
}

func (w *Worker) recordOutcome(success, timeout bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if success {
		w.successes++
	}
	if timeout {
		w.timeouts++
	}
}

// adaptConcurrency recomputes the worker's batch size every 10s per §4.4:
// shrink on a high timeout rate, grow on a consistently low one.
func (w *Worker) adaptConcurrency() {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := w.successes + w.timeouts
	if total == 0 {
		w.windowStart = time.Now()
		return
	}
	timeoutRate := float64(w.timeouts) / float64(total)

	minC := w.broker.MinConcurrency
	maxC := w.broker.MaxConcurrency
	if minC <= 0 {
		minC = 5
	}
	if maxC <= 0 {
		maxC = 50
	}

	switch {
	case timeoutRate > 0.10:
		next := int(float64(w.concurrency) * 0.7)
		if next < minC {
			next = minC
		}
		w.concurrency = next
	case timeoutRate < 0.02 && w.successes > 50:
		next := int(float64(w.concurrency) * 1.2)
		if next > maxC {
			next = maxC
		}
		w.concurrency = next
	}

	w.successes = 0
	w.timeouts = 0
	w.windowStart = time.Now()
}
