// Package metrics exposes the engine's Prometheus collectors and the
// /metrics listener. Collectors are package-level so any component can
// increment them without plumbing.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_fetched_total",
		Help: "Total records fetched from the upstream exchange",
	})

	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_written_total",
		Help: "Total records written to the storage sink",
	})

	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_upstream_calls_total",
			Help: "Upstream fetch calls by outcome",
		},
		[]string{"status"}, // ok, error
	)

	GapsFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_gaps_found_total",
		Help: "Gaps detected in stored series",
	})

	GapsFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_gaps_filled_total",
		Help: "Gaps fully healed",
	})

	SymbolDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_symbol_duration_seconds",
		Help:    "Wall-clock duration of one symbol's extraction",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	SymbolsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_symbols_processed_total",
			Help: "Symbols processed by outcome",
		},
		[]string{"status"}, // success, failure
	)

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_active_workers",
		Help: "Workers currently extracting a symbol",
	})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_retry_attempts_total",
		Help: "Operations re-attempted after a retryable failure",
	})

	RateLimitWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_ratelimit_wait_seconds_total",
		Help: "Total time spent blocked waiting for request budget",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_run_duration_seconds",
		Help:    "Wall-clock duration of a full extraction run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)

// Serve starts the /metrics listener in the background. Failures are logged,
// not fatal; a broken metrics port should never stop extraction.
func Serve(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "addr", addr, "err", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
}
