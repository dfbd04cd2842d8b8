// Package api provides the authenticated HTTP client for the storefront
// backend. It attaches the bearer token to every request and recovers an
// expired token with exactly one refresh-and-retry per request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/withgift/storefront/internal/metrics"
	"github.com/withgift/storefront/internal/session"
	"github.com/withgift/storefront/pkg/logger"
)

// ErrSessionExpired is returned when a 401 could not be recovered by a
// token refresh. The session has already been cleared when this surfaces;
// the caller should send the user back to login.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// Client is the authenticated storefront API client.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	session          *session.Store
	log              *logger.Logger
	metrics          *metrics.Metrics
	onSessionExpired func()
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithOnSessionExpired registers a hook invoked after an unrecoverable
// refresh failure has cleared the session.
func WithOnSessionExpired(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client against the given base URL.
func New(baseURL string, sess *session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		session:    sess,
		log:        logger.NewDefault("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a GET request, decoding the JSON response into target.
func (c *Client) Get(ctx context.Context, path string, target any) error {
	return c.Do(ctx, http.MethodGet, path, nil, target)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, target any) error {
	return c.Do(ctx, http.MethodPost, path, body, target)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, target any) error {
	return c.Do(ctx, http.MethodPut, path, body, target)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, target any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, target)
}

// Do executes a request against the backend. The body is marshaled once so
// the single auth-retry can resend it. target may be nil to discard the
// response body.
func (c *Client) Do(ctx context.Context, method, path string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	err := c.do(ctx, method, path, payload, target, false)
	if err != nil {
		c.metrics.ObserveRequest(method, "error")
		return err
	}
	c.metrics.ObserveRequest(method, "ok")
	return nil
}

// do runs one attempt. retried guards against refresh loops: a request is
// retried at most once, after a successful token refresh.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, target any, retried bool) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	authed := false
	if token, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
		authed = true
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}

	// Refresh only applies to requests that actually carried a token; a
	// 401 on an unauthenticated request is the caller's problem.
	if resp.StatusCode == http.StatusUnauthorized && authed && !retried {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()

		if err := c.refresh(ctx); err != nil {
			c.log.WithError(err).Warn("token refresh failed, clearing session")
			c.session.Clear()
			if c.onSessionExpired != nil {
				c.onSessionExpired()
			}
			return ErrSessionExpired
		}
		return c.do(ctx, method, path, payload, target, true)
	}

	return decodeResponse(resp, target)
}

// mustMarshal marshals values known to be encodable (plain request structs).
func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// decodeResponse reads the response, mapping non-2xx statuses to *APIError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil {
			if envelope.Message != "" {
				apiErr.Message = envelope.Message
			} else if envelope.Error != "" {
				apiErr.Message = envelope.Error
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if target == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
