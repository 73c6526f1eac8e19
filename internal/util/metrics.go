package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "source_fetch_total",
		Help: "Upstream fetches by source and outcome",
	}, []string{"source", "outcome"})

	SourceFetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "source_fetch_latency_seconds",
		Help:    "Latency of upstream fetches including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"source"})

	SourceRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "source_retries_total",
		Help: "Retried upstream calls after a transient failure",
	}, []string{"source"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Freshness cache lookups by data type and result (hit, stale, miss, error)",
	}, []string{"data_type", "result"})

	CacheWritesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_writes_failed_total",
		Help: "Freshness cache writes that failed",
	}, []string{"data_type"})

	CacheEntriesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_entries_purged_total",
		Help: "Cache entries removed by the purge worker",
	})

	DegradedSourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_degraded_sources_total",
		Help: "Dashboards assembled without data from a source",
	}, []string{"source", "reason"})

	OrderFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_fallbacks_total",
		Help: "Order source fallbacks by step (cache, narrow_window, exhausted)",
	}, []string{"step"})

	AggregationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregation_latency_seconds",
		Help:    "Latency of the aggregation fold",
		Buckets: prometheus.DefBuckets,
	})

	ForecastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecasts_total",
		Help: "Forecasts produced by method",
	}, []string{"method"})

	SnapshotEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_events_total",
		Help: "Metrics snapshot events by stage (published, publish_failed, consumed, store_failed)",
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
