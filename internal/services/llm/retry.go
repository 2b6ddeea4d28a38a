package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// retryConfig bounds the exponential backoff applied around a single
// Complete call, generalized from the teacher's Gemini-specific retry
// tuning (internal/services/llm/gemini_retry.go) to cover any LLMEndpoint.
type retryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func defaultRetryConfig(maxRetries int) retryConfig {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return retryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        90 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// isRateLimitError matches 429/RESOURCE_EXHAUSTED/quota responses, the shape
// both Claude and Gemini return for rate limiting.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "quota")
}

// isTransientError additionally matches 5xx/timeout/connection-reset
// failures, the spec's "transient_network" retry class (spec §7).
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if isRateLimitError(err) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, m := range []string{"timeout", "deadline exceeded", "connection reset", "eof", "overloaded", "503", "502", "500"} {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns,
// the form Gemini embeds in RESOURCE_EXHAUSTED error messages.
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

func extractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func (c retryConfig) backoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + 2*time.Second
	}
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}
	d := time.Duration(float64(base) * multiplier)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// withRetry runs op, retrying transient failures up to cfg.MaxRetries times
// with exponential backoff. Non-transient errors return immediately.
func withRetry(ctx context.Context, cfg retryConfig, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransientError(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}
		delay := cfg.backoff(attempt, extractRetryDelay(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
