package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DucanhDaniel/FB-BatchRequestServer/internal/testutil"
	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/graph"
	"github.com/rs/zerolog"
)

const testToken = "EAABtestToken123"

func setupTestServer(t *testing.T) (*apiServer, *testutil.MockGraph) {
	t.Helper()

	mock := testutil.NewMockGraph()
	t.Cleanup(mock.Close)

	client, err := graph.New(graph.Config{
		BaseURL:    mock.URL(),
		APIVersion: "v23.0",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create graph client: %v", err)
	}

	return newAPIServer(client, zerolog.Nop()), mock
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestBatchEndpoint_POST(t *testing.T) {
	server, mock := setupTestServer(t)

	mock.SetResponse("act_123/insights?fields=spend",
		testutil.NewThrottledResponse("123", 25.0, 40.0, 120))

	payload := `{"access_token":"` + testToken + `","relative_urls":["act_123/insights?fields=spend","me"]}`
	req := httptest.NewRequest("POST", "/batch", strings.NewReader(payload))
	w := httptest.NewRecorder()

	server.routes().ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if decoded.Status != "success" {
		t.Errorf("Status = %q, want success", decoded.Status)
	}
	if len(decoded.Results) != 2 {
		t.Fatalf("Got %d results, want 2", len(decoded.Results))
	}

	summary := decoded.RateLimitSummary
	if summary.MaxAppUsagePct == nil || *summary.MaxAppUsagePct != 25.0 {
		t.Errorf("MaxAppUsagePct = %v, want 25.0", summary.MaxAppUsagePct)
	}
	if got := summary.AccountUsagePct["123"]; got != 40.0 {
		t.Errorf("AccountUsagePct[123] = %v, want 40.0", got)
	}
	if got := summary.AccountETASeconds["123"]; got != 120 {
		t.Errorf("AccountETASeconds[123] = %v, want 120", got)
	}
}

func TestBatchEndpoint_GETEquivalence(t *testing.T) {
	server, mock := setupTestServer(t)

	mock.SetResponse("act_123/insights?fields=spend",
		testutil.NewThrottledResponse("123", 25.0, 40.0, 0))

	query := url.Values{}
	query.Set("access_token", testToken)
	query.Add("relative_urls", "act_123/insights?fields=spend")
	query.Add("relative_urls", "me")

	req := httptest.NewRequest("GET", "/batch?"+query.Encode(), nil)
	w := httptest.NewRecorder()

	server.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var decoded batchResponse
	if err := json.NewDecoder(w.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(decoded.Results) != 2 {
		t.Errorf("Got %d results, want 2", len(decoded.Results))
	}
	if decoded.RateLimitSummary.MaxAppUsagePct == nil {
		t.Error("GET /batch lost the rate-limit summary")
	}
}

func TestBatchEndpoint_InvalidInput(t *testing.T) {
	server, mock := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		expect int
	}{
		{
			name:   "missing token",
			method: "GET",
			target: "/batch?relative_urls=me",
			expect: http.StatusBadRequest,
		},
		{
			name:   "no relative urls",
			method: "GET",
			target: "/batch?access_token=" + testToken,
			expect: http.StatusBadRequest,
		},
		{
			name:   "malformed body",
			method: "POST",
			target: "/batch",
			body:   `{"access_token":`,
			expect: http.StatusBadRequest,
		},
		{
			name:   "method not allowed",
			method: "DELETE",
			target: "/batch",
			expect: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader
			if tt.body != "" {
				reqBody = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, reqBody)
			w := httptest.NewRecorder()

			server.routes().ServeHTTP(w, req)

			if w.Code != tt.expect {
				t.Errorf("Status = %d, want %d: %s", w.Code, tt.expect, w.Body.String())
			}

			var errResp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("Error response is not JSON: %v", err)
			}
			if errResp.Detail == "" {
				t.Error("Error response has no detail")
			}
		})
	}

	if mock.GetRequestCount() != 0 {
		t.Errorf("Invalid requests reached the upstream: %d calls", mock.GetRequestCount())
	}
}

func TestBatchEndpoint_UpstreamError(t *testing.T) {
	server, mock := setupTestServer(t)

	mock.SetRawResponse(http.StatusBadRequest,
		testutil.TopLevelErrorBody("Invalid OAuth access token", "OAuthException", 190))

	req := httptest.NewRequest("GET", "/batch?access_token="+testToken+"&relative_urls=me", nil)
	w := httptest.NewRecorder()

	server.routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", w.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("Error response is not JSON: %v", err)
	}
	if !strings.Contains(errResp.Detail, "OAuthException") {
		t.Errorf("Detail = %q, want the upstream error propagated", errResp.Detail)
	}
}

func TestRateLimitEndpoint(t *testing.T) {
	server, mock := setupTestServer(t)

	mock.SetResponse("act_111/insights?fields=account_id&limit=1",
		testutil.NewThrottledResponse("111", 10.0, 35.0, 0))
	mock.SetResponse("act_222/insights?fields=account_id&limit=1",
		testutil.NewThrottledResponse("222", 22.0, 5.0, 300))

	query := url.Values{}
	query.Set("access_token", testToken)
	query.Add("ad_account_ids", "act_111")
	query.Add("ad_account_ids", "act_222")

	req := httptest.NewRequest("GET", "/rate_limit?"+query.Encode(), nil)
	w := httptest.NewRecorder()

	server.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// One lightweight probe per account id.
	batch := mock.GetLastBatch()
	if len(batch) != 2 {
		t.Fatalf("Batch spec has %d ops, want 2", len(batch))
	}
	if batch[0].RelativeURL != "act_111/insights?fields=account_id&limit=1" {
		t.Errorf("Probe path = %q", batch[0].RelativeURL)
	}

	var decoded rateLimitResponse
	if err := json.NewDecoder(w.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if decoded.AppUtilPct == nil || *decoded.AppUtilPct != 22.0 {
		t.Errorf("AppUtilPct = %v, want max 22.0", decoded.AppUtilPct)
	}
	if got := decoded.AccUtilPct["111"]; got != 35.0 {
		t.Errorf("AccUtilPct[111] = %v, want 35.0", got)
	}
	if got := decoded.ETASeconds["222"]; got != 300 {
		t.Errorf("ETASeconds[222] = %v, want 300", got)
	}
	if decoded.Message != "ok" {
		t.Errorf("Message = %q, want ok", decoded.Message)
	}
}

func TestRateLimitEndpoint_Validation(t *testing.T) {
	server, _ := setupTestServer(t)

	t.Run("no account ids", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/rate_limit?access_token="+testToken, nil)
		w := httptest.NewRecorder()

		server.routes().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want 400", w.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/rate_limit", nil)
		w := httptest.NewRecorder()

		server.routes().ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Status = %d, want 405", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	server.routes().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	// Histograms register eagerly, unlike labeled counters.
	if !strings.Contains(bodyStr, "graph_batch_request_duration_seconds") {
		t.Error("Expected metrics output to contain graph_batch_request_duration_seconds")
	}
}
