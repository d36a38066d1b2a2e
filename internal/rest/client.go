// Package rest is the request/response gateway to the messaging backend's
// JSON API. Each call is a single attempt: no retries, no caching.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/protocol"
)

// DefaultBaseURL is the hosted backend's API root.
const DefaultBaseURL = "https://instant-messaging-api.herokuapp.com/api"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Config holds REST client settings.
type Config struct {
	BaseURL    string        // API root, without trailing slash
	HTTPClient *http.Client  // nil uses a client with Timeout
	Timeout    time.Duration // per-request timeout for the default client
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 15 * time.Second,
	}
}

// Client issues requests against the backend API. It is safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Do sends one request. A non-nil body is encoded as JSON. On a 2xx response
// the body is decoded into out (when non-nil); any other status yields an
// *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	endpoint := endpointLabel(method, path)
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.RESTRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		metrics.RESTLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			outcome = "transport_error"
			return errors.Wrap(err, "rest: encode request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		outcome = "transport_error"
		return errors.Wrap(err, "rest: create request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport_error"
		return errors.Wrapf(err, "rest: %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "transport_error"
		return errors.Wrap(err, "rest: read response body")
	}

	log.Debug().
		Str("component", "rest").
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "api_error"
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		outcome = "malformed"
		return errors.Wrapf(protocol.ErrMalformedPayload, "rest: %s %s: %v", method, path, err)
	}
	return nil
}

// decodeError builds the APIError for a non-2xx response.
func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var payload protocol.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// endpointLabel collapses identifiers out of path so metric cardinality
// stays bounded, e.g. "GET /users/:id/chats".
func endpointLabel(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if i > 0 && i%2 == 0 && p != "" {
			parts[i] = ":id"
		}
	}
	return method + " " + strings.Join(parts, "/")
}
