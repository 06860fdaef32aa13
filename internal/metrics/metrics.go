package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes recorded by UploadsTotal.
const (
	UploadStored    = "stored"
	UploadDuplicate = "duplicate"
	UploadRejected  = "rejected"
	UploadFailed    = "failed"
)

// Metrics holds the Prometheus collectors of the API. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // bitbeats_http_requests_total{method,route,status}
	RequestDuration *prometheus.HistogramVec // bitbeats_http_request_duration_seconds{method,route}

	UploadsTotal   *prometheus.CounterVec // bitbeats_uploads_total{result}
	DedupHits      prometheus.Counter     // bitbeats_dedup_hits_total
	StoredBytes    prometheus.Counter     // bitbeats_stored_bytes_total
	StreamedBytes  prometheus.Counter     // bitbeats_streamed_bytes_total
	SwarmSessions  prometheus.Gauge       // bitbeats_swarm_sessions
	SeedFailures   prometheus.Counter     // bitbeats_seed_failures_total
	PrunedSessions prometheus.Counter     // bitbeats_pruned_sessions_total

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. A nil reg creates a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbeats_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitbeats_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitbeats_uploads_total",
			Help: "Track uploads by outcome",
		}, []string{"result"}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitbeats_dedup_hits_total",
			Help: "Uploads resolved to an existing track by content hash",
		}),
		StoredBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitbeats_stored_bytes_total",
			Help: "Bytes persisted by new uploads",
		}),
		StreamedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitbeats_streamed_bytes_total",
			Help: "Bytes served over HTTP streaming",
		}),
		SwarmSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bitbeats_swarm_sessions",
			Help: "Active swarm seeding sessions",
		}),
		SeedFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitbeats_seed_failures_total",
			Help: "Failed attempts to publish a track to the swarm",
		}),
		PrunedSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitbeats_pruned_sessions_total",
			Help: "Swarm sessions torn down by the retention pruner",
		}),
		gatherer: reg,
	}
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveUpload counts an upload outcome.
func (m *Metrics) ObserveUpload(result string, storedBytes int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	switch result {
	case UploadDuplicate:
		m.DedupHits.Inc()
	case UploadStored:
		m.StoredBytes.Add(float64(storedBytes))
	}
}

// AddStreamed counts bytes written by the range streamer.
func (m *Metrics) AddStreamed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamedBytes.Add(float64(n))
}

// SetSwarmSessions reports the registry size.
func (m *Metrics) SetSwarmSessions(n int) {
	if m == nil {
		return
	}
	m.SwarmSessions.Set(float64(n))
}

// SeedFailed counts a failed publish.
func (m *Metrics) SeedFailed() {
	if m == nil {
		return
	}
	m.SeedFailures.Inc()
}

// Pruned counts sessions removed by a retention sweep.
func (m *Metrics) Pruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PrunedSessions.Add(float64(n))
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string, m *Metrics) {
	router.GET(path, gin.WrapH(m.Handler()))
}
