package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendConfigured is 1 when valid backend credentials were loaded
	BackendConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentdesk_backend_configured",
			Help: "Whether backend credentials are present and well-formed",
		},
	)

	// BackendConnected is 1 when the last backend call or probe succeeded
	BackendConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentdesk_backend_connected",
			Help: "Last observed backend reachability",
		},
	)

	// BackendReconnectAttempts tracks consecutive failed reconnection attempts
	BackendReconnectAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentdesk_backend_reconnect_attempts",
			Help: "Consecutive transport failures since the last success",
		},
	)

	// BackendCalls counts guarded calls by outcome (ok, transport_error, backend_error)
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentdesk_backend_calls_total",
			Help: "Total number of guarded backend calls",
		},
		[]string{"outcome"},
	)

	// BackendLatency tracks guarded call latency
	BackendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rentdesk_backend_call_latency_seconds",
			Help:    "Guarded backend call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Probes counts connectivity probes by result
	Probes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentdesk_backend_probes_total",
			Help: "Total number of connectivity probes",
		},
		[]string{"result"},
	)

	// OperationAttempts counts retried operation attempts
	OperationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentdesk_operation_attempts_total",
			Help: "Total number of data operation attempts",
		},
		[]string{"resource", "operation", "result"},
	)

	// OperationBackoff tracks the wait before each retry
	OperationBackoff = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentdesk_operation_backoff_seconds",
			Help:    "Backoff delay before a retried attempt",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10},
		},
		[]string{"resource"},
	)

	// NetworkOnline is 1 when the host has network presence
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentdesk_network_online",
			Help: "Host-level network presence as seen by the status observer",
		},
	)

	// CacheLookups counts list-cache lookups by result (hit, miss, stale)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentdesk_cache_lookups_total",
			Help: "Total number of list cache lookups",
		},
		[]string{"table", "result"},
	)

	// DBConnectionPoolUsage tracks open connections as a share of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentdesk_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool",
		},
	)
)
