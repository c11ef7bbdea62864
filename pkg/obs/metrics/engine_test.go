package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	em := NewEngineMetrics(reg)

	em.Observe("PutObject", 128, nil, 5*time.Millisecond)
	em.Observe("PutObject", 0, errors.New("boom"), time.Millisecond)
	em.Observe("GetObject", 64, nil, time.Millisecond)

	if got := testutil.ToFloat64(em.ops.WithLabelValues("PutObject", "ok")); got != 1 {
		t.Fatalf("ok puts: %v", got)
	}
	if got := testutil.ToFloat64(em.ops.WithLabelValues("PutObject", "error")); got != 1 {
		t.Fatalf("error puts: %v", got)
	}
	if got := testutil.ToFloat64(em.bytes.WithLabelValues("PutObject")); got != 128 {
		t.Fatalf("put bytes: %v", got)
	}
	if got := testutil.ToFloat64(em.bytes.WithLabelValues("GetObject")); got != 64 {
		t.Fatalf("get bytes: %v", got)
	}
}
