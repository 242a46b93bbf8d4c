// Package metrics holds the Prometheus instruments of the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private Prometheus registry and every instrument
// registered with it.
type Registry struct {
	registry *prometheus.Registry

	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	RebuildsTotal   *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	RecordsSkipped  prometheus.Counter
	GraphNodes      prometheus.Gauge
	GraphEdges      prometheus.Gauge

	NotificationsDropped prometheus.Counter
}

// NewRegistry creates a registry with all instruments initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.QueriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightgraph_queries_total",
			Help: "Total number of queries served",
		},
		[]string{"operation", "status"},
	)
	r.QueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insightgraph_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	r.RebuildsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightgraph_rebuilds_total",
			Help: "Total number of graph rebuilds",
		},
		[]string{"status"},
	)
	r.RebuildDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "insightgraph_rebuild_duration_seconds",
		Help:    "Graph rebuild duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
	r.RecordsSkipped = f.NewCounter(prometheus.CounterOpts{
		Name: "insightgraph_records_skipped_total",
		Help: "Source records skipped during ingestion",
	})
	r.GraphNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "insightgraph_graph_nodes",
		Help: "Nodes in the published graph",
	})
	r.GraphEdges = f.NewGauge(prometheus.GaugeOpts{
		Name: "insightgraph_graph_edges",
		Help: "Edges in the published graph",
	})

	r.NotificationsDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "insightgraph_notifications_dropped_total",
		Help: "Activity notifications that could not be delivered",
	})

	reg.MustRegister(collectors.NewGoCollector())
	return r
}

// RecordQuery counts one query and observes its duration.
func (r *Registry) RecordQuery(operation, status string, duration time.Duration) {
	r.QueriesTotal.WithLabelValues(operation, status).Inc()
	r.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRebuild counts one rebuild. Graph size gauges are only updated
// for successful rebuilds.
func (r *Registry) RecordRebuild(status string, duration time.Duration, skipped, nodes, edges int) {
	r.RebuildsTotal.WithLabelValues(status).Inc()
	r.RebuildDuration.Observe(duration.Seconds())
	r.RecordsSkipped.Add(float64(skipped))
	if status == "ok" {
		r.SetGraphSize(nodes, edges)
	}
}

// SetGraphSize sets the size gauges of the published graph.
func (r *Registry) SetGraphSize(nodes, edges int) {
	r.GraphNodes.Set(float64(nodes))
	r.GraphEdges.Set(float64(edges))
}

// DroppedNotification counts an undelivered activity notification.
func (r *Registry) DroppedNotification() {
	r.NotificationsDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
