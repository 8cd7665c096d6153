package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncDrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_drains_total",
		Help: "Total number of offline queue drains by outcome",
	}, []string{"result"})

	SyncDrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_sync_drain_duration_seconds",
		Help:    "Duration of offline queue drains",
		Buckets: prometheus.DefBuckets,
	})

	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_items_total",
		Help: "Total number of queued items processed by kind and outcome",
	}, []string{"kind", "result"})

	OfflineQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pos_offline_queue_depth",
		Help: "Number of records currently queued offline",
	}, []string{"kind"})

	OfflineQueueCorruptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_offline_queue_corrupt_total",
		Help: "Total number of unreadable persisted queue blobs recovered as empty",
	}, []string{"kind"})

	OfflineMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_offline_mode",
		Help: "1 when the terminal is in effective offline mode",
	})

	ConnectivityProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_connectivity_probes_total",
		Help: "Total number of server reachability probes by outcome",
	}, []string{"result"})

	ConnectivityProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_connectivity_probe_latency_seconds",
		Help:    "Latency of server reachability probes",
		Buckets: prometheus.DefBuckets,
	})

	RetryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_retry_attempts_total",
		Help: "Total number of retried submissions",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pos_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	CircuitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_circuit_rejections_total",
		Help: "Total number of calls rejected by an open circuit",
	}, []string{"name"})

	CommandsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_commands_handled_total",
		Help: "Total number of back office commands handled",
	}, []string{"type"})

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
