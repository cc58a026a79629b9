// Package httpclient provides a JSON HTTP client with rate limiting and retries.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/lendview/internal/pkg/retry"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimit      rate.Limit
	RateBurst      int
}

// DefaultConfig returns sensible defaults for the HTTP client.
func DefaultConfig() Config {
	return Config{
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RateLimit:      rate.Limit(10),
		RateBurst:      5,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client wraps an HTTP client with retry logic and rate limiting.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      *slog.Logger
}

// NewClient creates a new HTTP client. Zero fields in cfg take DefaultConfig values.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaults.RateBurst
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
		},
		logger: logger,
	}
}

// GetJSON performs a GET and decodes the JSON response into result.
func (c *Client) GetJSON(ctx context.Context, url string, result any) error {
	return c.do(ctx, http.MethodGet, url, nil, result)
}

// PostJSON encodes body as JSON, POSTs it and decodes the response into result.
// A nil result discards the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, payload, result)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, result any) error {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"method", method,
			"url", url,
			"attempt", attempt,
			"maxRetries", c.retryConfig.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	_, err := retry.Do(ctx, c.retryConfig, onRetry, func(ctx context.Context) (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return struct{}{}, c.doOnce(ctx, method, url, payload, result)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, result any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(respBody)}
	case resp.StatusCode >= 400:
		return retry.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: truncate(respBody)})
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return retry.Permanent(fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
