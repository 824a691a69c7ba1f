// Package metrics exposes Prometheus metrics for the analysis pipeline and
// the HTTP API.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the pipeline metrics. It satisfies pipeline.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	StageDurations *prometheus.HistogramVec
	StageItems     *prometheus.GaugeVec
	Warnings       *prometheus.CounterVec
	Requests       *prometheus.CounterVec

	Nodes    prometheus.Gauge
	Clusters prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pugmark_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds, labeled by stage.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}

	items, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pugmark_stage_items",
		Help: "Items produced by the last run of each pipeline stage.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}

	warnings, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pugmark_warnings_total",
		Help: "Soft warnings raised by pipeline stages.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pugmark_http_requests_total",
		Help: "Handled API requests, labeled by route, method and status code.",
	}, []string{"route", "method", "code"}))
	if err != nil {
		return nil, err
	}

	nodes, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pugmark_nodes",
		Help: "Current number of nodes in the session.",
	}))
	if err != nil {
		return nil, err
	}

	clusters, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pugmark_clusters",
		Help: "Merged islands in the latest analysis.",
	}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		StageDurations: durations,
		StageItems:     items,
		Warnings:       warnings,
		Requests:       requests,
		Nodes:          nodes,
		Clusters:       clusters,
	}, nil
}

// ObserveStage records one completed pipeline stage.
func (c *Collector) ObserveStage(stage string, elapsed time.Duration, count int) {
	if c == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(elapsed.Seconds())
	c.StageItems.WithLabelValues(stage).Set(float64(count))
}

// ObserveWarnings counts the warnings raised by a stage.
func (c *Collector) ObserveWarnings(stage string, count int) {
	if c == nil {
		return
	}
	c.Warnings.WithLabelValues(stage).Add(float64(count))
}

// SetSessionCounts updates the session gauges after a recomputation.
func (c *Collector) SetSessionCounts(nodes, clusters int) {
	if c == nil {
		return
	}
	c.Nodes.Set(float64(nodes))
	c.Clusters.Set(float64(clusters))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by their mux route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		c.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
