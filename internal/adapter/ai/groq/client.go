// Package groq implements the AI completion dispatcher backed by the Groq
// OpenAI-compatible chat API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"log/slog"

	"github.com/fairyhunter13/skillpath-ai/internal/adapter/observability"
	"github.com/fairyhunter13/skillpath-ai/internal/config"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// SlotLimiter gates each outbound attempt. Acquire blocks until a request
// slot is available or ctx is done.
type SlotLimiter interface {
	Acquire(ctx context.Context) error
}

// Client implements domain.AIClient. Every attempt, including retries,
// first acquires a limiter slot so aggregate throughput stays bounded no
// matter how many callers are in flight.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	limiter SlotLimiter
}

// New constructs a Groq client with sensible timeouts.
func New(cfg config.Config, limiter SlotLimiter) *Client {
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
	}
}

// getBackoffConfig returns an ExponentialBackOff capped at the configured
// retry budget. MaxElapsedTime is disabled so the attempt count, not wall
// time, is the budget; this keeps retries and backoff in lock-step.
func (c *Client) getBackoffConfig(ctx context.Context) backoff.BackOffContext {
	expo := backoff.NewExponentialBackOff()
	initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	expo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.RetryMaxRetries)), ctx)
}

// Complete calls the chat completions endpoint and returns the first
// choice's message content. Transient failures (network errors, 5xx,
// upstream 429) are retried with exponential backoff up to the configured
// budget; other 4xx fail immediately. Terminal failures wrap
// domain.ErrUpstream so callers never see raw transport errors.
func (c *Client) Complete(ctx domain.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	if c.cfg.GroqAPIKey == "" {
		slog.Error("Groq API key missing", slog.String("provider", "groq"))
		return "", fmt.Errorf("%w: GROQ_API_KEY missing", domain.ErrInvalidArgument)
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.ChatMaxTokens
	}

	body := map[string]any{
		"model":      c.cfg.ChatModel,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	b, _ := json.Marshal(body)

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	_, maxInterval, _ := c.cfg.GetAIBackoffConfig()
	rateLimited := false
	op := func() error {
		// One limiter slot per attempt; retries queue behind fresh traffic.
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GroqBaseURL+"/chat/completions", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.GroqAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.AIRequestsTotal.WithLabelValues("groq", "chat").Inc()
		observability.AIRequestDuration.WithLabelValues("groq", "chat").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("failed to read response body", slog.String("provider", "groq"), slog.Any("error", err))
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimited = true
			slog.Warn("ai provider rate limited",
				slog.String("provider", "groq"),
				slog.Int("status", resp.StatusCode),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			// Honor Retry-After before the backoff interval kicks in.
			if err := sleepRetryAfter(ctx, resp.Header.Get("Retry-After"), maxInterval); err != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client error: non-retryable
			slog.Warn("ai provider 4xx",
				slog.String("provider", "groq"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.ChatModel),
				slog.String("body", snippet(bodyBytes, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 5xx and others: retryable
			slog.Error("ai provider non-2xx",
				slog.String("provider", "groq"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.ChatModel),
				slog.String("body", snippet(bodyBytes, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error", slog.String("provider", "groq"), slog.Any("error", err))
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, c.getBackoffConfig(ctx)); err != nil {
		slog.Error("Groq API failed after retries",
			slog.String("provider", "groq"),
			slog.Bool("rate_limited", rateLimited),
			slog.Any("error", err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: groq api failed: %v", domain.ErrUpstream, err)
	}

	if len(out.Choices) == 0 {
		slog.Error("Groq API returned empty choices", slog.String("provider", "groq"))
		return "", fmt.Errorf("%w: empty choices", domain.ErrUpstream)
	}
	return out.Choices[0].Message.Content, nil
}

// sleepRetryAfter waits out an upstream Retry-After hint, capped so one bad
// header cannot stall the worker.
func sleepRetryAfter(ctx context.Context, header string, maxWait time.Duration) error {
	if header == "" {
		return nil
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	if d > maxWait {
		d = maxWait
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
