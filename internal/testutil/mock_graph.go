// Package testutil provides testing utilities for the batch proxy.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// MockResponse defines the behavior of the mock Graph endpoint for
// one sub-request.
type MockResponse struct {
	// Null emits a null element in the response array.
	Null bool

	// Code is the sub-response status code (default 200).
	Code int

	// Body is the raw body string nested inside the element. It is
	// usually a JSON document; pass something else to exercise inner
	// parse failures.
	Body string

	// Headers are echoed with the element when header echoing is
	// requested.
	Headers map[string]string
}

// BatchOp mirrors one operation of the submitted batch spec.
type BatchOp struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
}

// MockGraph is a configurable mock Graph batch endpoint for testing.
type MockGraph struct {
	server *httptest.Server

	mu              sync.RWMutex
	responses       map[string]MockResponse
	defaultResponse MockResponse
	rawStatus       int
	rawBody         string

	// Tracking
	RequestCount int
	LastPath     string
	LastForm     url.Values
	LastBatch    []BatchOp
}

// NewMockGraph creates a new mock Graph server.
func NewMockGraph() *MockGraph {
	mock := &MockGraph{
		responses: make(map[string]MockResponse),
		defaultResponse: MockResponse{
			Code: http.StatusOK,
			Body: `{"data":[]}`,
		},
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockGraph) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraph) Close() {
	m.server.Close()
}

// SetResponse configures the response for one relative URL (as it
// appears in the batch spec, after normalization).
func (m *MockGraph) SetResponse(relativeURL string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[relativeURL] = resp
}

// SetDefaultResponse configures the response for unmatched relative URLs.
func (m *MockGraph) SetDefaultResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = resp
}

// SetRawResponse overrides the whole batch response with a fixed
// status and payload, bypassing per-operation handling. Used to
// exercise top-level error objects and protocol violations.
func (m *MockGraph) SetRawResponse(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawStatus = status
	m.rawBody = body
}

func (m *MockGraph) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var batch []BatchOp
	// A missing or malformed batch param is still recorded; the raw
	// override path must work without one.
	_ = json.Unmarshal([]byte(r.PostFormValue("batch")), &batch)

	m.mu.Lock()
	m.RequestCount++
	m.LastPath = r.URL.Path
	m.LastForm = cloneValues(r.PostForm)
	m.LastBatch = batch
	m.mu.Unlock()

	m.mu.RLock()
	rawStatus, rawBody := m.rawStatus, m.rawBody
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if rawStatus != 0 {
		w.WriteHeader(rawStatus)
		fmt.Fprint(w, rawBody)
		return
	}

	includeHeaders := r.PostFormValue("include_headers") == "true"

	elements := make([]json.RawMessage, 0, len(batch))
	for _, op := range batch {
		m.mu.RLock()
		resp, configured := m.responses[op.RelativeURL]
		if !configured {
			resp = m.defaultResponse
		}
		m.mu.RUnlock()

		elements = append(elements, encodeElement(resp, includeHeaders))
	}

	payload, _ := json.Marshal(elements)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func encodeElement(resp MockResponse, includeHeaders bool) json.RawMessage {
	if resp.Null {
		return json.RawMessage("null")
	}

	type wireHeader struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	type wireItem struct {
		Code    int          `json:"code"`
		Headers []wireHeader `json:"headers,omitempty"`
		Body    string       `json:"body"`
	}

	item := wireItem{
		Code: resp.Code,
		Body: resp.Body,
	}
	if item.Code == 0 {
		item.Code = http.StatusOK
	}

	if includeHeaders {
		for name, value := range resp.Headers {
			item.Headers = append(item.Headers, wireHeader{Name: name, Value: value})
		}
	}

	encoded, _ := json.Marshal(item)
	return encoded
}

func cloneValues(values url.Values) url.Values {
	clone := make(url.Values, len(values))
	for key, vals := range values {
		clone[key] = append([]string(nil), vals...)
	}
	return clone
}

// GetRequestCount returns the number of batch calls received.
func (m *MockGraph) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastBatch returns the most recently submitted batch spec.
func (m *MockGraph) GetLastBatch() []BatchOp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]BatchOp(nil), m.LastBatch...)
}

// ThrottleHeaderValue builds an x-fb-ads-insights-throttle value.
func ThrottleHeaderValue(appPct, accPct float64) string {
	value, _ := json.Marshal(map[string]float64{
		"app_id_util_pct": appPct,
		"acc_id_util_pct": accPct,
	})
	return string(value)
}

// UsageHeaderValue builds an x-business-use-case-usage value with a
// single ads_insights entry for one account.
func UsageHeaderValue(accountID string, callCount, cpuTime, totalTime, etaSeconds float64) string {
	value, _ := json.Marshal(map[string][]map[string]interface{}{
		accountID: {{
			"type":                            "ads_insights",
			"call_count":                      callCount,
			"total_cputime":                   cpuTime,
			"total_time":                      totalTime,
			"estimated_time_to_regain_access": etaSeconds,
			"ads_api_access_tier":             "standard_access",
		}},
	})
	return string(value)
}

// NewThrottledResponse creates a 200 response carrying both telemetry
// headers for one account.
func NewThrottledResponse(accountID string, appPct, accPct, etaSeconds float64) MockResponse {
	return MockResponse{
		Code: http.StatusOK,
		Body: `{"data":[]}`,
		Headers: map[string]string{
			"X-FB-Ads-Insights-Throttle": ThrottleHeaderValue(appPct, accPct),
			"X-Business-Use-Case-Usage":  UsageHeaderValue(accountID, 1, 2, 3, etaSeconds),
		},
	}
}

// NewSubErrorResponse creates a failed sub-response with a Graph
// error body.
func NewSubErrorResponse(code int, message string) MockResponse {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"type":       "OAuthException",
			"code":       code,
			"fbtrace_id": "AbCdEfGh",
		},
	})
	return MockResponse{
		Code: code,
		Body: string(body),
	}
}

// TopLevelErrorBody builds a top-level Graph error object payload.
func TopLevelErrorBody(message, errType string, code int) string {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
	return string(body)
}
