// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Settlement metrics
	DepositsSettled       prometheus.Counter
	WithdrawalsSettled    prometheus.Counter
	MatchMisses           *prometheus.CounterVec
	MatchRetries          prometheus.Counter
	ValueResolutions      *prometheus.CounterVec
	UnmatchedTransfers    prometheus.Counter
	SettlementErrors      *prometheus.CounterVec
	HistoryRecordsWritten prometheus.Counter

	// Latency metrics
	SettlementLatency prometheus.Histogram
	RPCCallLatency    *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSettlement prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "referral_ledger"
	}

	return &Metrics{
		// Settlement metrics
		DepositsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "deposits_settled_total",
			Help:      "Total number of deposit entries settled",
		}),
		WithdrawalsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "withdrawals_settled_total",
			Help:      "Total number of withdraw entries settled",
		}),
		MatchMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "match_misses_total",
			Help:      "Total number of events with no matching ledger entry",
		}, []string{"entry_type"}),
		MatchRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "match_retries_total",
			Help:      "Total number of delayed re-query attempts after a first miss",
		}),
		ValueResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "value_resolutions_total",
			Help:      "Total number of value resolutions by path",
		}, []string{"path"}),
		UnmatchedTransfers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "unmatched_transfers_total",
			Help:      "Total number of decoded transfers with no known market token",
		}),
		SettlementErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "errors_total",
			Help:      "Total number of settlement errors by stage",
		}, []string{"stage"}),
		HistoryRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "history_records_written_total",
			Help:      "Total number of audit history records written",
		}),

		// Latency metrics
		SettlementLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "latency_seconds",
			Help:      "End-to-end settlement latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ethereum RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulSettlement: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_settlement_timestamp",
			Help:      "Unix timestamp of last successful settlement",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordDepositSettled increments the deposits settled counter.
func RecordDepositSettled() {
	DefaultMetrics.DepositsSettled.Inc()
}

// RecordWithdrawalSettled increments the withdrawals settled counter.
func RecordWithdrawalSettled() {
	DefaultMetrics.WithdrawalsSettled.Inc()
}

// RecordMatchMiss records an event that found no ledger entry.
func RecordMatchMiss(entryType string) {
	DefaultMetrics.MatchMisses.WithLabelValues(entryType).Inc()
}

// RecordMatchRetry increments the delayed re-query counter.
func RecordMatchRetry() {
	DefaultMetrics.MatchRetries.Inc()
}

// RecordValueResolution records a value resolution by path
// ("structured" or "receipt").
func RecordValueResolution(path string) {
	DefaultMetrics.ValueResolutions.WithLabelValues(path).Inc()
}

// RecordUnmatchedTransfer increments the unmatched transfers counter.
func RecordUnmatchedTransfer() {
	DefaultMetrics.UnmatchedTransfers.Inc()
}

// RecordSettlementError records a settlement error by stage.
func RecordSettlementError(stage string) {
	DefaultMetrics.SettlementErrors.WithLabelValues(stage).Inc()
}

// RecordHistoryWritten adds to the audit records written counter.
func RecordHistoryWritten(n int) {
	DefaultMetrics.HistoryRecordsWritten.Add(float64(n))
}

// RecordSettlementLatency records end-to-end settlement latency.
func RecordSettlementLatency(seconds float64) {
	DefaultMetrics.SettlementLatency.Observe(seconds)
	DefaultMetrics.LastSuccessfulSettlement.SetToCurrentTime()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
