package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// RateLimitDecisions counts admission decisions by endpoint and outcome (allowed, denied, fail_open)
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_rate_limit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"endpoint", "outcome"},
	)

	// LockoutsTotal counts applied account lockouts by reason
	LockoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_account_lockouts_total",
			Help: "Total number of account lockouts applied",
		},
		[]string{"reason"},
	)

	// AuditEventsTotal counts audit entries by event and write outcome (stored, fallback)
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_audit_events_total",
			Help: "Total number of audit events logged",
		},
		[]string{"event", "outcome"},
	)

	// UploadsProcessed counts pipeline results by final action
	UploadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_uploads_processed_total",
			Help: "Total number of uploads processed by the threat pipeline",
		},
		[]string{"final_action"},
	)

	// ScanEngineResults counts per-engine verdicts
	ScanEngineResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_scan_engine_results_total",
			Help: "Total number of scan engine verdicts",
		},
		[]string{"engine", "status"},
	)

	// QuarantineOperations counts quarantine manager operations
	QuarantineOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_quarantine_operations_total",
			Help: "Total number of quarantine operations",
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, route, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestsRejected counts requests rejected by the security middleware, by reason
	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidegenie_requests_rejected_total",
			Help: "Total number of requests rejected at the security boundary",
		},
		[]string{"reason"},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slidegenie_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// ScanDuration tracks how long a full virus scan takes
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slidegenie_scan_duration_seconds",
			Help:    "Virus scan duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Gauge metrics (current values)
var (
	// QuarantineBytes is the total size of ciphertext held in quarantine
	QuarantineBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slidegenie_quarantine_bytes",
			Help: "Bytes currently held in quarantine",
		},
	)
)
