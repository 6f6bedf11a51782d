// Package graph provides the Facebook Graph API batch client. It
// bundles up to 50 relative-URL reads into a single batch call,
// decomposes the combined response into one SubResult per submitted
// path, and classifies failures for the HTTP façade.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxBatchSize is the Graph API limit on operations per batch call.
const MaxBatchSize = 50

// tokenPlaceholder marks copy-pasted example tokens that were never
// replaced with a real credential.
const tokenPlaceholder = "YOUR_ACCESS_TOKEN"

// Prometheus metrics for Graph batch operations.
var (
	batchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_batch_requests_total",
		Help: "Total Graph batch calls by outcome",
	}, []string{"outcome"})

	batchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_batch_request_duration_seconds",
		Help:    "Graph batch call duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	batchSizeObserved = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_batch_size",
		Help:    "Number of sub-requests per batch call",
		Buckets: []float64{1, 5, 10, 20, 30, 40, 50},
	})

	subRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_sub_requests_total",
		Help: "Total batch sub-requests by status",
	}, []string{"status"})
)

// Client sends batch requests to the Graph API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the Graph API origin (overridable for tests).
	BaseURL string

	// APIVersion is the Graph API version tag, e.g. "v23.0".
	// Relative URLs must not carry it themselves.
	APIVersion string

	// Timeout bounds the single outbound batch call.
	Timeout time.Duration

	// UserAgent is sent with every batch call when set.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://graph.facebook.com",
		APIVersion: "v23.0",
		Timeout:    120 * time.Second,
	}
}

// New creates a new Graph batch client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.APIVersion == "" {
		return nil, fmt.Errorf("API version is required")
	}

	if !strings.HasPrefix(cfg.APIVersion, "v") {
		return nil, fmt.Errorf("API version must look like v23.0 (got %q)", cfg.APIVersion)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %v)", cfg.Timeout)
	}

	logger := log.With().Str("component", "graph-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// SendBatch submits up to MaxBatchSize relative URLs as one Graph
// batch call and returns one SubResult per path, in submission order.
// Sub-request failures inside a successful batch call are recorded on
// their entry and do not fail the overall call.
func (c *Client) SendBatch(ctx context.Context, paths []string, accessToken string) ([]SubResult, error) {
	startTime := time.Now()
	defer func() {
		batchRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if accessToken == "" || strings.Contains(accessToken, tokenPlaceholder) {
		batchRequestsTotal.WithLabelValues("invalid_input").Inc()
		return nil, &InvalidInputError{Reason: "a valid access token is required"}
	}

	normalized, err := c.normalizePaths(paths)
	if err != nil {
		batchRequestsTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}
	batchSizeObserved.Observe(float64(len(normalized)))

	body, err := c.encodeForm(normalized, accessToken)
	if err != nil {
		batchRequestsTotal.WithLabelValues("internal_error").Inc()
		return nil, fmt.Errorf("encode batch payload: %w", err)
	}

	// The batch endpoint is the bare version root, no trailing slash.
	endpoint := c.config.BaseURL + "/" + c.config.APIVersion

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		batchRequestsTotal.WithLabelValues("internal_error").Inc()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Int("batch_size", len(normalized)).
		Str("endpoint", endpoint).
		Msg("Sending Graph batch call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("Graph batch call failed")
		batchRequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		batchRequestsTotal.WithLabelValues("transport_error").Inc()
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}

	elements, err := c.decodeBatchResponse(raw, len(normalized))
	if err != nil {
		c.logger.Error().
			Err(err).
			Int("status", resp.StatusCode).
			Msg("Graph batch response rejected")
		return nil, err
	}

	results := c.processElements(elements, normalized)

	c.logger.Info().
		Int("batch_size", len(results)).
		Int("success", countOK(results)).
		Int("failed", len(results)-countOK(results)).
		Dur("duration", time.Since(startTime)).
		Msg("Graph batch call complete")
	batchRequestsTotal.WithLabelValues("success").Inc()

	return results, nil
}

// normalizePaths strips leading slashes and rejects paths that carry
// the API version tag as their first segment, which would
// double-version the relative URL inside the batch.
func (c *Client) normalizePaths(paths []string) ([]string, error) {
	if len(paths) == 0 || len(paths) > MaxBatchSize {
		return nil, &InvalidInputError{
			Reason: fmt.Sprintf("between 1 and %d relative URLs required (got %d)", MaxBatchSize, len(paths)),
		}
	}

	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		u := strings.TrimLeft(p, "/")
		if firstSegment(u) == c.config.APIVersion {
			return nil, &InvalidInputError{
				Reason: fmt.Sprintf("relative URL must not contain the API version %s: %q", c.config.APIVersion, p),
			}
		}
		normalized = append(normalized, u)
	}
	return normalized, nil
}

// encodeForm builds the form-encoded batch payload: the credential,
// the JSON-array batch spec, and the header-echo flag.
func (c *Client) encodeForm(normalized []string, accessToken string) (string, error) {
	ops := make([]batchOp, 0, len(normalized))
	for _, u := range normalized {
		ops = append(ops, batchOp{Method: http.MethodGet, RelativeURL: u})
	}

	spec, err := json.Marshal(ops)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("batch", string(spec))
	form.Set("include_headers", "true")
	return form.Encode(), nil
}

// decodeBatchResponse validates the outer transport frame: the
// payload must be either a top-level error object (APIError) or an
// array with exactly one element per submitted path.
func (c *Client) decodeBatchResponse(raw []byte, want int) ([]json.RawMessage, error) {
	var top json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		batchRequestsTotal.WithLabelValues("protocol_error").Inc()
		return nil, &ProtocolError{
			Reason: "response is not valid JSON",
			Raw:    truncate(string(raw), 1000),
		}
	}

	trimmed := strings.TrimSpace(string(top))
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(top, &envelope); err == nil && envelope.Error != nil {
			batchRequestsTotal.WithLabelValues("api_error").Inc()
			return nil, envelope.Error
		}
		batchRequestsTotal.WithLabelValues("protocol_error").Inc()
		return nil, &ProtocolError{
			Reason: "expected a response array, got an object without an error member",
			Raw:    truncate(string(raw), 1000),
		}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(top, &elements); err != nil {
		batchRequestsTotal.WithLabelValues("protocol_error").Inc()
		return nil, &ProtocolError{
			Reason: "expected a response array",
			Raw:    truncate(string(raw), 1000),
		}
	}

	if len(elements) != want {
		batchRequestsTotal.WithLabelValues("protocol_error").Inc()
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("response array has %d elements, expected %d", len(elements), want),
		}
	}

	return elements, nil
}

// processElements turns each element of the response array into a
// SubResult, aligned 1:1 with submission order. Null elements and
// unparseable bodies become per-entry error markers, never dropped
// entries.
func (c *Client) processElements(elements []json.RawMessage, normalized []string) []SubResult {
	results := make([]SubResult, 0, len(elements))

	for i, element := range elements {
		result := SubResult{
			Index:        i,
			RequestedURL: normalized[i],
		}

		if len(element) == 0 || string(element) == "null" {
			result.Error = errorMarker("null result: the sub-request failed or was skipped upstream")
			subRequestsTotal.WithLabelValues("null").Inc()
			results = append(results, result)
			continue
		}

		var sub subResponse
		if err := json.Unmarshal(element, &sub); err != nil {
			result.Error = errorMarker("malformed batch element: %v", err)
			subRequestsTotal.WithLabelValues("malformed").Inc()
			results = append(results, result)
			continue
		}

		result.StatusCode = sub.Code
		result.Headers = sub.Headers

		// The body is itself a JSON document nested inside a string.
		var body json.RawMessage
		if sub.Body != "" {
			if err := json.Unmarshal([]byte(sub.Body), &body); err != nil {
				result.Error = errorMarker("body is not valid JSON: %s", truncate(sub.Body, 500))
				subRequestsTotal.WithLabelValues("bad_body").Inc()
				results = append(results, result)
				continue
			}
		}

		if sub.Code != nil && *sub.Code == 200 {
			result.Data = body
			subRequestsTotal.WithLabelValues("200").Inc()
		} else {
			result.Error = errorFromBody(body)
			status := "unknown"
			if sub.Code != nil {
				status = fmt.Sprintf("%d", *sub.Code)
			}
			subRequestsTotal.WithLabelValues(status).Inc()
		}

		c.logger.Debug().
			Int("request_index", i).
			Str("requested_url", truncate(normalized[i], 120)).
			Interface("status_code", sub.Code).
			Msg("Processed sub-request")

		results = append(results, result)
	}

	return results
}

// errorFromBody extracts the error member of a failed sub-response
// body when present, otherwise keeps the whole parsed body.
func errorFromBody(body json.RawMessage) json.RawMessage {
	if body == nil {
		return errorMarker("sub-request failed with an empty body")
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil &&
		len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		return envelope.Error
	}
	return body
}

// firstSegment returns the path up to the first slash or query string.
func firstSegment(path string) string {
	seg := path
	if idx := strings.IndexAny(seg, "/?"); idx >= 0 {
		seg = seg[:idx]
	}
	return seg
}

func countOK(results []SubResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
