// Package remote provides a validation support module backed by a remote
// FHIR terminology server.
//
// The module speaks the standard terminology operations over HTTP
// ($validate-code, $lookup, $expand, $translate) and resolves CodeSystems
// and ValueSets with plain searches. A request that times out is reported as
// a failed result so validation can continue; a server that keeps answering
// with 5xx fails the operation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is how often a 5xx or transport failure is retried.
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the pause before the first retry. It doubles on
	// every further attempt.
	DefaultRetryDelay = 200 * time.Millisecond

	contentTypeFHIR = "application/fhir+json"
)

// Client is a remote terminology server module.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger

	mu     sync.RWMutex
	probes map[string]bool
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the pause before the first retry.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the server at baseURL, e.g.
// https://tx.fhir.org/r4.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		headers:    make(http.Header),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     zerolog.Nop(),
		probes:     make(map[string]bool),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name implements support.Module.
func (c *Client) Name() string {
	return "RemoteTerminologyService(" + c.baseURL + ")"
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsRemoteTerminologyServiceConfigured implements
// support.RemoteTerminologyIndicator.
func (c *Client) IsRemoteTerminologyServiceConfigured() bool {
	return true
}

// InvalidateCaches forgets the results of support probes.
func (c *Client) InvalidateCaches() {
	c.mu.Lock()
	c.probes = make(map[string]bool)
	c.mu.Unlock()
}

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	// Diagnostics is taken from the OperationOutcome body when present.
	Diagnostics string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Diagnostics != "" {
		msg += ": " + e.Diagnostics
	}
	return msg
}

// IsServerError reports whether err is a 5xx response.
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 500
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// isTimeout reports whether err is a deadline or transport timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// failureMessage returns the text to put in a failed result for err.
func failureMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Diagnostics != "" {
		return se.Diagnostics
	}
	return err.Error()
}

// get sends a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// post sends body as JSON and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Err(lastErr).
				Str("url", endpoint).
				Int("attempt", attempt+1).
				Msg("retrying terminology request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		retry, err := c.send(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

// send performs one attempt. retry reports whether the failure is worth
// another attempt.
func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte, out any) (retry bool, err error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range c.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", contentTypeFHIR)
	req.Header.Set("X-Request-ID", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeFHIR)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) || ctx.Err() != nil {
			return false, err
		}
		return true, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("terminology request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, URL: endpoint, StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		se.Diagnostics = outcomeDiagnostics(data)
		return resp.StatusCode >= 500, se
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return false, err
		}
		return false, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return false, nil
}
