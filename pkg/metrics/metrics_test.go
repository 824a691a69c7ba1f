package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveStage("merge", 20*time.Millisecond, 3)
	c.ObserveWarnings("merge", 2)
	c.ObserveWarnings("merge", 1)

	if got := testutil.ToFloat64(c.StageItems.WithLabelValues("merge")); got != 3 {
		t.Errorf("stage items = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Warnings.WithLabelValues("merge")); got != 3 {
		t.Errorf("warnings = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(c.StageDurations); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestNewCollectorTwiceReusesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.SetSessionCounts(4, 2)
	if got := testutil.ToFloat64(second.Nodes); got != 4 {
		t.Errorf("nodes gauge = %v, want 4", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveStage("filter", time.Second, 1)
	c.ObserveWarnings("filter", 1)
	c.SetSessionCounts(1, 1)
}

func TestMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	r := mux.NewRouter()
	r.Use(c.Middleware)
	r.HandleFunc("/api/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/nodes/abc", nil))

	if got := testutil.ToFloat64(c.Requests.WithLabelValues("/api/nodes/{id}", "GET", "404")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "pugmark_http_requests_total") {
		t.Errorf("metrics output missing request counter")
	}
}
