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

// Package httpclient provides an HTTP client that retries rate limited and
// failed requests with backoff.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed response is retried.
type RetryStrategy int

const (
	// NoRetry returns the response as is.
	NoRetry RetryStrategy = iota

	// ConservativeRetry makes at most two quick retries, for server errors.
	ConservativeRetry

	// SmartRetry backs off exponentially and honours Retry-After, for rate
	// limits and unavailable services.
	SmartRetry
)

// RateLimitInfo is what a server tells us about when to come back.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// RateLimitHeaderParser extracts rate limit hints from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps a status code to a retry strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with retries.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

func WithHeaderParser(p RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = p }
}

func WithRetryStrategy(f RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = f }
}

// New creates a client with a 60s timeout, 5 retries and a 2s base delay.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		headerParser: ParseRetryAfter,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy retries 429 and 503 with backoff and other transient
// server errors conservatively.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends the request, retrying as the strategy allows. Non-retryable
// responses are returned without error. When retries run out, the last
// response is returned together with a *RetryableError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}
		var info RateLimitInfo
		if c.headerParser != nil {
			info = c.headerParser(resp.Header)
		}
		delay := c.calculateDelay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("giving up after %d retries", attempt),
				RetryAfter: delay,
			}
		}

		slog.Warn("Retrying HTTP request",
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		d := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return d + d/10
	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay
	default:
		return 0
	}
}

// StandardClient returns an *http.Client whose transport retries through c.
// Libraries that only accept *http.Client get the same retry behaviour.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{Timeout: c.client.Timeout, Transport: roundTripper{c: c}}
}

type roundTripper struct{ c *Client }

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	inner := *rt.c
	inner.client = &http.Client{Transport: rt.c.transport()}
	resp, err := inner.Do(req)
	var retryErr *RetryableError
	if errors.As(err, &retryErr) && resp != nil {
		return resp, nil
	}
	return resp, err
}

func (c *Client) transport() http.RoundTripper {
	if c.client.Transport != nil {
		return c.client.Transport
	}
	return http.DefaultTransport
}
