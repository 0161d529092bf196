// Package client provides the hub's outbound HTTP requester with retry,
// exponential backoff, and a non-blocking per-minute rate limiter, plus
// thin API clients for the Operator and RGS services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/playware/integration-hub/pkg/logging"
)

// ErrUnavailable is returned when the remote cannot be reached at all
// (DNS, connection, TLS). Synchronous callers surface it as 502.
var ErrUnavailable = errors.New("downstream unavailable")

// StatusError carries a non-2xx status from a synchronous remote read.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// Config holds client behavior settings.
type Config struct {
	// MaxRetries is the retry budget for 429/5xx responses.
	MaxRetries int

	// RetryBackoff is the initial backoff; it doubles per retry.
	RetryBackoff time.Duration

	// RateLimitPerMinute caps requests in a rolling 60s window.
	// Zero or negative disables the limiter.
	RateLimitPerMinute int

	// Timeout is the connect+read timeout per attempt.
	Timeout time.Duration
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the unified outbound requester.
type Client struct {
	httpClient *http.Client
	cfg        Config
	log        *logging.Logger

	mu     sync.Mutex
	window []time.Time
}

// New creates a new client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		log:        logging.GetDefault().Component("client"),
	}
}

// Request sends one HTTP request with the retry discipline:
//
//   - a full rate-limit window synthesizes a 429 with Retry-After set and
//     returns immediately rather than blocking the caller
//   - network errors fail with ErrUnavailable
//   - 429 sleeps for Retry-After (else the current backoff) and retries
//   - 5xx sleeps for the current backoff and retries
//   - 2xx/4xx return immediately
//   - an exhausted budget returns the last response unchanged
//
// body may be nil, a json.RawMessage, or any JSON-marshalable value.
func (c *Client) Request(ctx context.Context, method, url string, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	retries := 0
	backoff := c.cfg.RetryBackoff

	for {
		if !c.allow(time.Now()) {
			header := http.Header{}
			header.Set("Retry-After", formatSeconds(backoff))
			return &Response{StatusCode: http.StatusTooManyRequests, Header: header}, nil
		}

		resp, err := c.do(ctx, method, url, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && retries < c.cfg.MaxRetries {
			wait := backoff
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				wait = d
			}
			c.log.Debug("Rate limited by remote, retrying", "url", url, "wait", wait, "retries", retries)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			retries++
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 500 && retries < c.cfg.MaxRetries {
			c.log.Debug("Remote error, retrying", "url", url, "status", resp.StatusCode, "retries", retries)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			retries++
			backoff *= 2
			continue
		}

		return resp, nil
	}
}

// do performs a single attempt, reading the body eagerly.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// allow checks the rolling 60-second window, recording the attempt when it
// fits. It never blocks.
func (c *Client) allow(now time.Time) bool {
	if c.cfg.RateLimitPerMinute <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	kept := c.window[:0]
	for _, t := range c.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.window = kept

	if len(c.window) >= c.cfg.RateLimitPerMinute {
		return false
	}

	c.window = append(c.window, now)
	return true
}

// parseRetryAfter parses a Retry-After header given in seconds
// (integer or float).
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'g', -1, 64)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
