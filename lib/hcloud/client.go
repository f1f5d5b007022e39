// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package hcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/roost-sh/roost/lib/clock"
)

// defaultBaseURL is the provider's public API root.
const defaultBaseURL = "https://api.hetzner.cloud/v1"

// maxResponseSize bounds API response body reads. Provider responses
// are small JSON documents; the limit only guards against a
// misbehaving server exhausting memory.
const maxResponseSize int64 = 4 << 20

// retryPolicy governs the retrying request primitive. One policy for
// the whole client; tests shrink the base delay.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	maxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: 5,
		baseDelay:   time.Second,
		multiplier:  2,
		maxDelay:    30 * time.Second,
	}
}

// Config holds configuration for creating a provider API Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to the
	// provider's public endpoint. Must use HTTPS unless the host is
	// a loopback test server.
	BaseURL string

	// Token is the bearer token for API authentication. Required.
	Token string

	// HTTPClient is used for all HTTP requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock provides time operations. Defaults to clock.Real().
	// Inject clock.Fake() in tests for deterministic behavior.
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client is a typed provider API client with retrying requests,
// rate-limit tracking, and structured error handling.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	rateLimit  *rateLimitTracker
	retry      retryPolicy
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a provider API client from the given configuration.
// Returns an error if the configuration is invalid.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if !strings.HasPrefix(baseURL, "https://") && !isLoopback(baseURL) {
		return nil, fmt.Errorf("hcloud: API client requires HTTPS (got %q)", baseURL)
	}
	if config.Token == "" {
		return nil, fmt.Errorf("hcloud: API token is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: httpClient,
		rateLimit:  newRateLimitTracker(clk, logger),
		retry:      defaultRetryPolicy(),
		clock:      clk,
		logger:     logger,
	}, nil
}

// isLoopback reports whether the base URL targets a loopback host.
// httptest servers bind 127.0.0.1 over plain HTTP.
func isLoopback(baseURL string) bool {
	return strings.HasPrefix(baseURL, "http://127.0.0.1") ||
		strings.HasPrefix(baseURL, "http://[::1]") ||
		strings.HasPrefix(baseURL, "http://localhost")
}

// do executes an authenticated API request through the retrying
// primitive. The path is relative to the base URL. A non-nil result is
// JSON-decoded from the response body; a 204 or empty body leaves
// result untouched (empty success).
func (client *Client) do(ctx context.Context, method, path string, requestBody any, result any) error {
	endpoint := method + " " + path
	backoff := client.retry.baseDelay

	var lastErr error
	for attempt := 1; attempt <= client.retry.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, err := client.doOnce(ctx, method, path, requestBody, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == client.retry.maxAttempts {
			break
		}

		// A 429 waits for the provider's reset hint instead of the
		// backoff schedule; it still consumes an attempt.
		if wait == 0 {
			wait = fullJitter(backoff)
			backoff = time.Duration(float64(backoff) * client.retry.multiplier)
			if backoff > client.retry.maxDelay {
				backoff = client.retry.maxDelay
			}
		}

		client.logger.Debug("retrying provider request",
			"endpoint", endpoint,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		select {
		case <-client.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("hcloud: %s failed after %d attempts: %w", endpoint, client.retry.maxAttempts, lastErr)
}

// doOnce executes a single request attempt. On a 429 it returns the
// provider-hinted wait duration alongside the error; for all other
// outcomes the returned duration is zero.
func (client *Client) doOnce(ctx context.Context, method, path string, requestBody any, result any) (time.Duration, error) {
	endpoint := method + " " + path
	url := client.baseURL + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return 0, fmt.Errorf("hcloud: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("hcloud: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("hcloud: %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	client.rateLimit.update(response.Header)

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return 0, fmt.Errorf("hcloud: %s: reading response body: %w", endpoint, err)
	}

	if response.StatusCode == http.StatusTooManyRequests {
		return client.rateLimit.retryAfter(response.Header),
			parseAPIError(response.StatusCode, endpoint, body)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return 0, parseAPIError(response.StatusCode, endpoint, body)
	}

	// 204 or empty body: empty success.
	if response.StatusCode == http.StatusNoContent || len(body) == 0 || result == nil {
		return 0, nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return 0, fmt.Errorf("hcloud: %s: decoding response: %w", endpoint, err)
	}
	return 0, nil
}

// fullJitter returns a uniformly random duration in [0, base]. Full
// jitter spreads concurrent retriers across the whole backoff window.
func fullJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base) + 1))
}
