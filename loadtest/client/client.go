// Package client provides a reusable HTTP client for load testing the
// moderation triage API. It mirrors the API's JSON types locally so
// the harness stays an independent module, and tracks per-client
// request counts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrRateLimited is returned when the server answers 429.
var ErrRateLimited = errors.New("rate limited")

// ChatMessage is one message in an analyze batch.
type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Decision is the per-message triage result returned by the API.
type Decision struct {
	Username string `json:"username"`
	Verdict  string `json:"decision"`
	Reason   string `json:"reason"`
}

// Metrics tracks per-client request data.
type Metrics struct {
	RequestsSent int
	Errors       int
	RateLimited  int
}

// Client issues analyze requests against one triage server.
type Client struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	metrics Metrics
}

// New creates a load test client for the given base URL, for example
// http://localhost:8484.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Analyze posts one batch and returns the decisions along with the
// request round-trip latency. A 429 is counted separately from errors
// and returned as an error.
func (c *Client) Analyze(ctx context.Context, msgs []ChatMessage) ([]Decision, time.Duration, error) {
	body, err := json.Marshal(struct {
		Messages []ChatMessage `json:"messages"`
	}{Messages: msgs})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)

	c.mu.Lock()
	c.metrics.RequestsSent++
	c.mu.Unlock()

	if err != nil {
		c.addError()
		return nil, latency, fmt.Errorf("analyze: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		c.mu.Lock()
		c.metrics.RateLimited++
		c.mu.Unlock()
		return nil, latency, fmt.Errorf("analyze: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.addError()
		return nil, latency, fmt.Errorf("analyze: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Decisions []Decision `json:"decisions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.addError()
		return nil, latency, fmt.Errorf("decode response: %w", err)
	}

	return out.Decisions, latency, nil
}

// Health checks the /api/health endpoint. Any non-200 answer is an
// error.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) addError() {
	c.mu.Lock()
	c.metrics.Errors++
	c.mu.Unlock()
}
