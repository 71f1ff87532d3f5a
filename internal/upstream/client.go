// Package upstream wraps the third-party REST APIs the service depends on behind a
// single rate limited, retrying resty client.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRetries = 3

// ErrNotFound is returned when the upstream answers 404 for the requested resource.
var ErrNotFound = errors.New("upstream resource not found")

// StatusError is returned for non-retryable HTTP failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	Name           string
	BaseURL        string
	RateLimit      float64 // requests per second; zero disables limiting
	RateLimitBurst int
	Timeout        time.Duration
	Headers        map[string]string
	RetryBackoff   time.Duration // base of the exponential retry backoff; defaults to one second
}

// Client is a REST client for a single upstream provider.
type Client struct {
	name    string
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

// NewClient creates a new upstream client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(opts.BaseURL)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	client.SetHeader("Accept", "application/json")
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		name:    opts.Name,
		client:  client,
		logger:  logger.Named(opts.Name),
		limiter: rate.NewLimiter(limit, burst),
		backoff: backoff,
	}
}

// R starts a new request.
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx)
}

// Get executes a GET request.
func (c *Client) Get(ctx context.Context, path string, req *resty.Request) (*resty.Response, error) {
	return c.Do(ctx, http.MethodGet, path, req)
}

// Post executes a POST request.
func (c *Client) Post(ctx context.Context, path string, req *resty.Request) (*resty.Response, error) {
	return c.Do(ctx, http.MethodPost, path, req)
}

// Do handles the actual request execution with rate limiting and retry logic.
func (c *Client) Do(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusTooManyRequests || statusCode == 418:
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500:
				shouldRetry = true
			case statusCode == http.StatusNotFound:
				return nil, ErrNotFound
			}
			if !shouldRetry {
				return nil, &StatusError{StatusCode: statusCode, Body: resp.String()}
			}
			err = &StatusError{StatusCode: statusCode, Body: resp.String()}
		} else {
			// Network or other client-side errors
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		if i == maxRetries-1 {
			break
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%s request failed after %d attempts: %w", c.name, maxRetries, err)
}
