package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("404", "GET")); got != 2 {
		t.Fatalf("requests counter: %v", got)
	}
	if got := testutil.ToFloat64(m.httpInflight); got != 0 {
		t.Fatalf("inflight gauge after requests: %v", got)
	}
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	m := New()
	// A handler that never calls WriteHeader counts as 200.
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("200", "GET")); got != 1 {
		t.Fatalf("requests counter: %v", got)
	}
}
