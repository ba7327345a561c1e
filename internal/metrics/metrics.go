// Package metrics exposes Prometheus metrics for calculation runs.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "liquidity_"

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	registerOnce sync.Once

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	lineItemsProcessed *prometheus.CounterVec
	unclassifiedAmount *prometheus.GaugeVec
	lineItemsIngested  prometheus.Counter
	cacheLookups       *prometheus.CounterVec
	workerRuns         *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
)

// Init registers the metrics with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total calculation runs by ratio and status",
			},
			[]string{"ratio", "status"},
		)
		runDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_duration_seconds",
				Help:    "Calculation run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"ratio"},
		)
		lineItemsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "line_items_processed_total",
				Help: "Line items processed by calculation runs",
			},
			[]string{"ratio"},
		)
		unclassifiedAmount = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "unclassified_amount",
				Help: "Unclassified amount of the most recent run",
			},
			[]string{"ratio"},
		)
		lineItemsIngested = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "line_items_ingested_total",
			Help: "Line items accepted by ingestion",
		})
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "run_cache_lookups_total",
				Help: "Run cache lookups by result",
			},
			[]string{"result"},
		)
		workerRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "worker_runs_total",
				Help: "Asynchronous runs handled by the worker by result",
			},
			[]string{"result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route pattern, method and status code",
			},
			[]string{"route", "method", "code"},
		)

		prometheus.MustRegister(
			runsTotal,
			runDuration,
			lineItemsProcessed,
			unclassifiedAmount,
			lineItemsIngested,
			cacheLookups,
			workerRuns,
			httpRequests,
		)
	})
}

// ObserveRun records one completed calculation run.
func ObserveRun(ratio, status string, duration time.Duration, lineItems int, unclassified float64) {
	if ratio == "" {
		ratio = "unknown"
	}
	if runsTotal != nil {
		runsTotal.WithLabelValues(ratio, status).Inc()
	}
	if runDuration != nil {
		runDuration.WithLabelValues(ratio).Observe(duration.Seconds())
	}
	if lineItemsProcessed != nil && lineItems > 0 {
		lineItemsProcessed.WithLabelValues(ratio).Add(float64(lineItems))
	}
	if unclassifiedAmount != nil {
		unclassifiedAmount.WithLabelValues(ratio).Set(unclassified)
	}
}

// AddLineItemsIngested counts accepted line items.
func AddLineItemsIngested(count int) {
	if count <= 0 {
		return
	}
	if lineItemsIngested != nil {
		lineItemsIngested.Add(float64(count))
	}
}

// ObserveCacheLookup counts a run cache hit or miss.
func ObserveCacheLookup(result string) {
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(result).Inc()
	}
}

// IncWorkerRun counts an asynchronous run by result.
func IncWorkerRun(result string) {
	if result == "" {
		return
	}
	if workerRuns != nil {
		workerRuns.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest counts one HTTP request. route is the router pattern,
// not the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(route, method string, code int) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	}
}
