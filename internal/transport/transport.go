// Package transport executes HTTP requests against LLM backends with
// authentication injection, per-call timeouts, bounded retry on transient
// failures, and per-provider rate limiting. One Client serves one provider
// instance; the rate limiter is scoped to it, not global.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 120 * time.Second
	maxRetries     = 2
)

// Error is a transport-level failure. Retryable errors were already retried
// up to the bounded attempt count before surfacing.
type Error struct {
	StatusCode int
	Body       string
	Retryable  bool
	Err        error

	// retryAfter is a server-provided backoff hint, zero when absent.
	retryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures a Client.
type Config struct {
	// BaseURL is the provider endpoint root.
	BaseURL string
	// Headers are injected into every request (authentication, versioning).
	Headers map[string]string
	// Timeout is the per-call limit (default 120s).
	Timeout time.Duration
	// RequestsPerSecond enables the rate gate when > 0.
	RequestsPerSecond float64
	// Burst is the rate limiter burst size (default 1).
	Burst int
}

// Client executes requests for a single provider instance.
type Client struct {
	baseURL string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a transport client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// SetHTTPClient overrides the underlying HTTP client. Useful for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

// retryableStatus reports whether an HTTP status is a transient failure.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status <= 504)
}

// Do executes one POST with the configured headers, retrying transient
// failures with exponential backoff. All responses with non-2xx status
// surface as *Error; everything needed to classify the failure is on it.
func (c *Client) Do(ctx context.Context, path string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	var lastErr *Error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, lastErr)
			log.Printf("transport: retrying in %s (attempt %d/%d): %v", delay, attempt, maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, &Error{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		respBody, terr := c.doOnce(ctx, path, body)
		if terr == nil {
			return respBody, nil
		}
		lastErr = terr
		if !terr.Retryable {
			return nil, terr
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures are transient unless the context ended.
		return nil, &Error{Err: err, Retryable: ctx.Err() == nil}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Err: err, Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		terr := &Error{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Retryable:  retryableStatus(resp.StatusCode),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				terr.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, terr
	}

	return respBody, nil
}

// retryBaseDelay is the exponential backoff unit; tests shorten it.
var retryBaseDelay = time.Second

func backoffDelay(attempt int, lastErr *Error) time.Duration {
	if lastErr != nil && lastErr.retryAfter > 0 {
		return lastErr.retryAfter
	}
	return time.Duration(math.Pow(2, float64(attempt))) * retryBaseDelay
}
