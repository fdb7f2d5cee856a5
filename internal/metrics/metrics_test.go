package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		RateLimitDecisions,
		LockoutsTotal,
		AuditEventsTotal,
		UploadsProcessed,
		ScanEngineResults,
		QuarantineOperations,
		HTTPRequestsTotal,
		RequestsRejected,
		HTTPRequestDuration,
		ScanDuration,
		QuarantineBytes,
	}

	for _, c := range collectors {
		if c == nil {
			t.Error("collector is nil")
		}
	}
}

func TestRateLimitDecisions(t *testing.T) {
	// Counters are cumulative across tests in the package
	before := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("auth:login", "denied"))

	RateLimitDecisions.WithLabelValues("auth:login", "denied").Inc()
	RateLimitDecisions.WithLabelValues("auth:login", "denied").Inc()

	after := testutil.ToFloat64(RateLimitDecisions.WithLabelValues("auth:login", "denied"))
	if after-before != 2 {
		t.Errorf("expected delta 2, got %v", after-before)
	}
}

func TestQuarantineBytesGauge(t *testing.T) {
	QuarantineBytes.Set(1024)
	if got := testutil.ToFloat64(QuarantineBytes); got != 1024 {
		t.Errorf("expected 1024, got %v", got)
	}
	QuarantineBytes.Sub(24)
	if got := testutil.ToFloat64(QuarantineBytes); got != 1000 {
		t.Errorf("expected 1000, got %v", got)
	}
}
