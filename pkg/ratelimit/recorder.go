package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Usage thresholds for log escalation.
const (
	// UsageWarningPct marks quota usage worth warning about.
	UsageWarningPct = 75.0

	// UsageCriticalPct marks quota usage close to lockout.
	UsageCriticalPct = 90.0
)

// Prometheus metrics for observed rate-limit telemetry.
var (
	appUsagePct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graph_app_usage_pct",
		Help: "Highest application-level Insights usage percentage seen in the last batch",
	})

	accountUsagePct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_account_usage_pct",
		Help: "Account-level Insights usage percentage by account",
	}, []string{"account"})

	accountETASeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_account_eta_seconds",
		Help: "Estimated seconds until quota access returns, by account",
	}, []string{"account"})
)

// Recorder publishes batch summaries as Prometheus gauges and log
// events. It holds no state between batches; each Observe reflects
// exactly one summary.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a new telemetry recorder.
func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Observe exports one batch summary.
func (r *Recorder) Observe(summary Summary) {
	if summary.MaxAppUsagePct != nil {
		appUsagePct.Set(*summary.MaxAppUsagePct)

		logEvent := r.logger.Info()
		if *summary.MaxAppUsagePct >= UsageCriticalPct {
			logEvent = r.logger.Error()
		} else if *summary.MaxAppUsagePct >= UsageWarningPct {
			logEvent = r.logger.Warn()
		}
		logEvent.
			Float64("app_usage_pct", *summary.MaxAppUsagePct).
			Msg("Application Insights quota usage")
	}

	for account, pct := range summary.AccountUsagePct {
		accountUsagePct.WithLabelValues(account).Set(pct)

		if pct >= UsageWarningPct {
			r.logger.Warn().
				Str("account", account).
				Float64("usage_pct", pct).
				Msg("Account Insights quota usage high")
		}
	}

	for account, eta := range summary.AccountETASeconds {
		accountETASeconds.WithLabelValues(account).Set(eta)

		if eta > 0 {
			r.logger.Warn().
				Str("account", account).
				Float64("eta_seconds", eta).
				Msg("Account is throttled, access returns later")
		}
	}
}
