// Package httpclient provides the rate-limited, retrying HTTP client used for
// indexer calls.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl-liquidator/internal/pkg/retry"
)

// ErrNotFound is returned for HTTP 404. It is never retried.
var ErrNotFound = errors.New("endpoint not found")

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BackoffStep is the linear backoff unit: the n-th retry waits n*BackoffStep.
	BackoffStep time.Duration

	RateLimit rate.Limit
	RateBurst int
}

// DefaultConfig returns the defaults used against hosted subgraph endpoints.
func DefaultConfig() Config {
	return Config{
		Timeout:     6 * time.Second,
		MaxRetries:  5,
		BackoffStep: time.Second,
		RateLimit:   rate.Limit(5),
		RateBurst:   1,
	}
}

// RequestConfig holds per-request configuration.
type RequestConfig struct {
	URL     string
	Headers map[string]string
}

// ErrorParser parses API-specific error responses.
// It returns an error if the response body contains an API error, or nil if no error.
type ErrorParser func(statusCode int, body []byte) error

// Client wraps an HTTP client with retry logic and rate limiting.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      *slog.Logger
	errorParser ErrorParser
}

// NewClient creates a new HTTP client. Zero fields in cfg take DefaultConfig values.
func NewClient(cfg Config, logger *slog.Logger, errorParser ErrorParser) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = defaults.BackoffStep
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
	if errorParser == nil {
		errorParser = func(_ int, _ []byte) error { return nil }
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.LinearConfig(cfg.MaxRetries, cfg.BackoffStep),
		logger:      logger,
		errorParser: errorParser,
	}
}

// PostJSON marshals body, POSTs it and decodes the JSON response into result.
func (c *Client) PostJSON(ctx context.Context, reqCfg RequestConfig, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, reqCfg, payload, result)
}

func (c *Client) do(ctx context.Context, reqCfg RequestConfig, payload []byte, result any) error {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"url", reqCfg.URL,
			"attempt", attempt,
			"maxRetries", c.retryConfig.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	return retry.DoVoid(ctx, c.retryConfig, IsRetryable, onRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return WrapNonRetryable(fmt.Errorf("rate limiter: %w", err))
		}
		return c.doSingleRequest(ctx, reqCfg, payload, result)
	})
}

func (c *Client) doSingleRequest(ctx context.Context, reqCfg RequestConfig, payload []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqCfg.URL, bytes.NewReader(payload))
	if err != nil {
		return WrapNonRetryable(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for key, value := range reqCfg.Headers {
		req.Header.Set(key, value)
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

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return WrapNonRetryable(fmt.Errorf("%s: %w", reqCfg.URL, ErrNotFound))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (HTTP 429)")
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		if apiErr := c.errorParser(resp.StatusCode, body); apiErr != nil {
			return WrapNonRetryable(apiErr)
		}
		return WrapNonRetryable(fmt.Errorf("client error (HTTP %d): %s", resp.StatusCode, string(body)))
	}

	// The parser decides whether an error inside a 2xx body is retryable.
	if apiErr := c.errorParser(resp.StatusCode, body); apiErr != nil {
		return apiErr
	}

	if err := json.Unmarshal(body, result); err != nil {
		return WrapNonRetryable(fmt.Errorf("parsing response: %w", err))
	}

	return nil
}

// NonRetryableError wraps errors that should not be retried.
type NonRetryableError struct {
	err error
}

func (e *NonRetryableError) Error() string {
	return e.err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.err
}

// WrapNonRetryable wraps an error to indicate it should not be retried.
func WrapNonRetryable(err error) error {
	return &NonRetryableError{err: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var nonRetryable *NonRetryableError
	return !errors.As(err, &nonRetryable)
}
