package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/graph"
	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// apiServer holds the handler dependencies.
type apiServer struct {
	graph    *graph.Client
	recorder *ratelimit.Recorder
	logger   zerolog.Logger
}

func newAPIServer(client *graph.Client, logger zerolog.Logger) *apiServer {
	return &apiServer{
		graph:    client,
		recorder: ratelimit.NewRecorder(logger),
		logger:   logger,
	}
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/batch", s.handleBatch)
	mux.HandleFunc("/rate_limit", s.handleRateLimit)
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// batchRequest is the POST /batch body. GET /batch carries the same
// fields as query parameters.
type batchRequest struct {
	AccessToken  string   `json:"access_token"`
	RelativeURLs []string `json:"relative_urls"`
}

type batchResponse struct {
	Status           string            `json:"status"`
	RateLimitSummary ratelimit.Summary `json:"rate_limit_summary"`
	Results          []graph.SubResult `json:"results"`
}

type rateLimitResponse struct {
	AppUtilPct *float64           `json:"app_id_util_pct"`
	AccUtilPct map[string]float64 `json:"acc_id_util_pct"`
	ETASeconds map[string]float64 `json:"etas"`
	Message    string             `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleBatch serves GET and POST /batch: one Graph batch call plus a
// rate-limit summary over its results.
func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var payload batchRequest

	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		payload.AccessToken = query.Get("access_token")
		payload.RelativeURLs = query["relative_urls"]
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		defer r.Body.Close()
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	results, err := s.graph.SendBatch(r.Context(), payload.RelativeURLs, payload.AccessToken)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	summary := ratelimit.Summarize(results)
	s.recorder.Observe(summary)
	s.logBatchSummary(results, summary)

	writeJSON(w, http.StatusOK, batchResponse{
		Status:           "success",
		RateLimitSummary: summary,
		Results:          results,
	})
}

// handleRateLimit serves GET /rate_limit: one lightweight Insights
// probe per account id, answered with the summary only.
func (s *apiServer) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query()
	accessToken := query.Get("access_token")
	accountIDs := query["ad_account_ids"]

	if len(accountIDs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one ad_account_ids value is required")
		return
	}

	// One minimal probe per account, just enough to make the upstream
	// echo its telemetry headers.
	paths := make([]string, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		paths = append(paths, fmt.Sprintf("%s/insights?fields=account_id&limit=1", accountID))
	}

	results, err := s.graph.SendBatch(r.Context(), paths, accessToken)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	summary := ratelimit.Summarize(results)
	s.recorder.Observe(summary)

	writeJSON(w, http.StatusOK, rateLimitResponse{
		AppUtilPct: summary.MaxAppUsagePct,
		AccUtilPct: summary.AccountUsagePct,
		ETASeconds: summary.AccountETASeconds,
		Message:    "ok",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// writeUpstreamError maps a SendBatch failure to the response status
// taxonomy: 400 caller, 502 upstream, 500 otherwise.
func (s *apiServer) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status := graph.HTTPStatus(err)

	logEvent := s.logger.Warn()
	if status == http.StatusInternalServerError {
		logEvent = s.logger.Error()
	}
	logEvent.
		Err(err).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Batch request failed")

	writeError(w, status, err.Error())
}

// logBatchSummary emits one structured event per batch with outcome
// counts and the per-account cost breakdown.
func (s *apiServer) logBatchSummary(results []graph.SubResult, summary ratelimit.Summary) {
	success := 0
	for _, result := range results {
		if result.OK() {
			success++
		}
	}

	event := s.logger.Info().
		Int("batch_size", len(results)).
		Int("success", success).
		Int("failed", len(results)-success)

	if summary.MaxAppUsagePct != nil {
		event = event.Float64("max_app_usage_pct", *summary.MaxAppUsagePct)
	}

	if costs := ratelimit.Costs(results); len(costs) > 0 {
		event = event.Interface("account_costs", costs)
	}

	event.Msg("Batch request processed")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
