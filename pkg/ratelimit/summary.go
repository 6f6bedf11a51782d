package ratelimit

import (
	"github.com/DucanhDaniel/FB-BatchRequestServer/pkg/graph"
)

// Summary aggregates the rate-limit telemetry observed across one
// batch call. It is recomputed fresh per batch and never persisted.
// All account maps are keyed by the bare numeric account id.
type Summary struct {
	// MaxAppUsagePct is the highest application-level Insights usage
	// observed across the batch, nil when no throttle header carried one.
	MaxAppUsagePct *float64 `json:"app_id_util_pct"`

	// AccountUsagePct maps account id to the highest account-level
	// Insights usage observed for it.
	AccountUsagePct map[string]float64 `json:"acc_id_util_pct"`

	// AccountETASeconds maps account id to the highest estimated time
	// until quota access returns, across all usage entry types.
	AccountETASeconds map[string]float64 `json:"etas"`
}

// AccountCost is the per-account resource cost of one batch call,
// derived from the business-use-case-usage entries.
type AccountCost struct {
	TotalCPUTime  float64 `json:"total_cputime"`
	TotalTime     float64 `json:"total_time"`
	MaxETASeconds float64 `json:"max_eta_seconds"`
}

// Summarize walks the batch results once and extracts a rate-limit
// summary. It never fails: missing or malformed headers on one entry
// are skipped without affecting the others, so partial data is the
// expected outcome.
//
// Usage percentages and ETAs are point-in-time gauges, not deltas.
// When several sub-requests report the same account, values combine
// by max (worst observed state), never by sum.
func Summarize(results []graph.SubResult) Summary {
	summary := Summary{
		AccountUsagePct:   make(map[string]float64),
		AccountETASeconds: make(map[string]float64),
	}

	for _, result := range results {
		values := headerValues(result.Headers)
		if values == nil {
			continue
		}

		if throttle, ok := parseThrottle(values); ok {
			if throttle.AppUtilPct != nil {
				if summary.MaxAppUsagePct == nil || *throttle.AppUtilPct > *summary.MaxAppUsagePct {
					pct := *throttle.AppUtilPct
					summary.MaxAppUsagePct = &pct
				}
			}

			// The throttle header does not name its account; the
			// sub-request's own target account keys the value.
			if accID := accountIDFromPath(result.RequestedURL); accID != "" && throttle.AccUtilPct != nil {
				if pct, seen := summary.AccountUsagePct[accID]; !seen || *throttle.AccUtilPct > pct {
					summary.AccountUsagePct[accID] = *throttle.AccUtilPct
				}
			}
		}

		if usage, ok := parseUsage(values); ok {
			for rawID, entries := range usage {
				accID := normalizeAccountID(rawID)
				for _, entry := range entries {
					if eta, seen := summary.AccountETASeconds[accID]; !seen || entry.EstimatedTimeToRegainAccess > eta {
						summary.AccountETASeconds[accID] = entry.EstimatedTimeToRegainAccess
					}
				}
			}
		}
	}

	return summary
}

// Costs aggregates the per-account resource cost of a batch: cpu and
// wall time are consumption counters and sum up, the ETA stays a
// max like everywhere else. Same best-effort policy as Summarize.
func Costs(results []graph.SubResult) map[string]AccountCost {
	costs := make(map[string]AccountCost)

	for _, result := range results {
		values := headerValues(result.Headers)
		if values == nil {
			continue
		}

		usage, ok := parseUsage(values)
		if !ok {
			continue
		}

		for rawID, entries := range usage {
			accID := normalizeAccountID(rawID)
			cost := costs[accID]
			for _, entry := range entries {
				cost.TotalCPUTime += entry.TotalCPUTime
				cost.TotalTime += entry.TotalTime
				if entry.EstimatedTimeToRegainAccess > cost.MaxETASeconds {
					cost.MaxETASeconds = entry.EstimatedTimeToRegainAccess
				}
			}
			costs[accID] = cost
		}
	}

	return costs
}
