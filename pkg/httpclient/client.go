// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides an HTTP client with retry and exponential
// backoff, used by the MCP HTTP transport.
// Adapted from the teacher's pkg/httpclient: same shape (functional
// options, status-code-driven retry strategy), narrowed to what the MCP
// transport layer needs.
package httpclient

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Client wraps http.Client with retry and backoff.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithMaxRetries sets the maximum number of retries (attempts beyond the
// first).
func WithMaxRetries(n int) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithBaseDelay sets the base delay for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) { cl.baseDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(cl *Client) { cl.maxDelay = d }
}

// New builds a Client with sane defaults, overridden by opts.
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// shouldRetry reports whether a response status code warrants a retry.
func shouldRetry(status int) bool {
	if status == 0 {
		return true // transport-level failure, no status yet
	}
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || (status >= 500 && status < 600)
}

// Do executes req, retrying on transport errors and retryable status
// codes with exponential backoff plus jitter. The request body, if any,
// is read into memory once up front and replayed on every attempt.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.client.Do(req)
		if err == nil && !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastResp = resp
			lastErr = nil
		}

		if attempt == c.maxRetries {
			break
		}

		delay := c.backoffDelay(attempt, resp)
		slog.Debug("httpclient: retrying request", "attempt", attempt+1, "delay", delay, "url", req.URL.String())
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(delay)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

// backoffDelay computes exponential backoff with jitter, honoring a
// Retry-After header if present.
func (c *Client) backoffDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := time.ParseDuration(ra + "s"); err == nil && secs > 0 {
				return secs
			}
		}
	}

	delay := time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	return delay + jitter
}
