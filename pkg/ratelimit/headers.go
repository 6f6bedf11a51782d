// Package ratelimit extracts Graph API rate-limit telemetry from the
// headers echoed with each batch sub-response. It monitors the
// x-fb-ads-insights-throttle and x-business-use-case-usage headers
// and aggregates them into a per-batch summary.
package ratelimit

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/graph"
)

// Rate-limit telemetry headers echoed by the Graph batch endpoint.
// Lookup is case-insensitive; the wire casing varies.
const (
	HeaderInsightsThrottle = "x-fb-ads-insights-throttle"
	HeaderBusinessUseCase  = "x-business-use-case-usage"
)

// ThrottleStats is the decoded x-fb-ads-insights-throttle value.
// Fields are pointers because the upstream omits whichever side of
// the quota the request did not touch.
type ThrottleStats struct {
	// AppUtilPct is the application-level Insights quota used, in percent.
	AppUtilPct *float64 `json:"app_id_util_pct"`

	// AccUtilPct is the account-level Insights quota used, in percent.
	AccUtilPct *float64 `json:"acc_id_util_pct"`
}

// UsageEntry is one entry of the x-business-use-case-usage value.
// The header maps each account id to a list of these, one per call type.
type UsageEntry struct {
	Type                        string  `json:"type"`
	CallCount                   float64 `json:"call_count"`
	TotalCPUTime                float64 `json:"total_cputime"`
	TotalTime                   float64 `json:"total_time"`
	EstimatedTimeToRegainAccess float64 `json:"estimated_time_to_regain_access"`
	AdsAPIAccessTier            string  `json:"ads_api_access_tier"`
}

// accountPattern matches ad-account path segments ("act_<digits>").
var accountPattern = regexp.MustCompile(`^act_(\d+)$`)

// headerValues builds a lower-cased name -> value map for one
// sub-result. Constructing the normalized map once keeps every later
// lookup a plain map access instead of a scan.
func headerValues(headers []graph.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	values := make(map[string]string, len(headers))
	for _, h := range headers {
		values[strings.ToLower(h.Name)] = h.Value
	}
	return values
}

// parseThrottle decodes the throttle header from a normalized header
// map. Returns ok=false when the header is absent or malformed.
func parseThrottle(values map[string]string) (ThrottleStats, bool) {
	raw, present := values[HeaderInsightsThrottle]
	if !present {
		return ThrottleStats{}, false
	}

	var stats ThrottleStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return ThrottleStats{}, false
	}
	return stats, true
}

// parseUsage decodes the business-use-case-usage header from a
// normalized header map: account id -> usage entries.
// Returns ok=false when the header is absent or malformed.
func parseUsage(values map[string]string) (map[string][]UsageEntry, bool) {
	raw, present := values[HeaderBusinessUseCase]
	if !present {
		return nil, false
	}

	var usage map[string][]UsageEntry
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return nil, false
	}
	return usage, true
}

// accountIDFromPath infers the target ad account of a sub-request
// from its relative URL. Returns the bare numeric id ("act_123" ->
// "123") or "" when the first segment is not an ad-account segment.
func accountIDFromPath(path string) string {
	seg := path
	if idx := strings.IndexAny(seg, "/?"); idx >= 0 {
		seg = seg[:idx]
	}

	m := accountPattern.FindStringSubmatch(seg)
	if m == nil {
		return ""
	}
	return m[1]
}

// normalizeAccountID maps any account key to the bare numeric form.
// Usage-header keys arrive bare already; path segments carry the
// act_ prefix.
func normalizeAccountID(id string) string {
	return strings.TrimPrefix(id, "act_")
}
