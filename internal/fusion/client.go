package fusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/klingon-exchange/xrpfusion/pkg/helpers"
	"github.com/klingon-exchange/xrpfusion/pkg/logging"
)

// DefaultBaseURL is the Fusion+ API root.
const DefaultBaseURL = "https://api.1inch.dev/fusion-plus"

const (
	pathActiveOrders = "/orders/v1.0/order/active"
	pathSubmit       = "/relayer/v1.0/submit"
	pathSubmitSecret = "/relayer/v1.0/submit/secret"
)

// retryConfig controls retry behavior for transient relayer failures.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientConfig holds relayer client configuration.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	HTTPClient *http.Client
}

// Client talks to the Fusion+ relayer over HTTPS.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retryConfig
	log     *logging.Logger
}

// NewClient creates a relayer client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    cfg.HTTPClient,
		retry: retryConfig{
			maxRetries: 3,
			baseDelay:  time.Second,
			maxDelay:   8 * time.Second,
		},
		log: logging.GetDefault().Component("fusion-api"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if cfg.MaxRetries > 0 {
		c.retry.maxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		c.retry.baseDelay = cfg.BaseDelay
		c.retry.maxDelay = 8 * cfg.BaseDelay
	}
	return c
}

// SubmitOrder posts a signed order and returns the relayer's order hash.
func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (string, error) {
	var resp struct {
		OrderHash string `json:"orderHash"`
	}
	if err := c.do(ctx, http.MethodPost, pathSubmit, req, &resp); err != nil {
		return "", err
	}
	return resp.OrderHash, nil
}

// GetActiveOrders lists the relayer's active orders. Both a bare array and an
// {"items": [...]} page are accepted.
func (c *Client) GetActiveOrders(ctx context.Context) ([]ActiveOrder, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, pathActiveOrders, nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []ActiveOrder
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, fmt.Errorf("failed to decode active orders: %w", err)
		}
		return orders, nil
	}

	var page struct {
		Items []ActiveOrder `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("failed to decode active orders: %w", err)
	}
	return page.Items, nil
}

// SubmitSecret reveals the order secret to the relayer.
func (c *Client) SubmitSecret(ctx context.Context, orderHash string, secret []byte) error {
	req := SubmitSecretRequest{
		Secret:    helpers.BytesToHex(secret),
		OrderHash: orderHash,
	}
	var resp struct {
		Success *bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, pathSubmitSecret, req, &resp); err != nil {
		return err
	}
	if resp.Success != nil && !*resp.Success {
		return fmt.Errorf("relayer rejected secret for %s", orderHash)
	}
	return nil
}

// statusError is a non-2xx reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relayer returned %d: %s", e.code, e.body)
}

// isTransient returns true for failures worth retrying: transport errors,
// rate limiting and server errors.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// do executes one API call with exponential backoff + jitter for transient
// errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < c.retry.maxRetries {
			delay := c.backoffDelay(attempt)
			c.log.Debug("Retrying relayer call", "path", path, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.retry.maxRetries+1, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &statusError{code: resp.StatusCode, body: snippet}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// backoffDelay computes baseDelay * 2^attempt capped at maxDelay, plus a
// random jitter in [0, baseDelay).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retry.baseDelay << uint(attempt)
	if delay > c.retry.maxDelay {
		delay = c.retry.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(c.retry.baseDelay)))
	return delay + jitter
}
