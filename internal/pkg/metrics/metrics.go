package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Layer metrics
	LayerObjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "layer",
		Name:      "objects",
		Help:      "Objects currently held by a layer index",
	}, []string{"layer"})

	ObjectsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "layer",
		Name:      "objects_inserted_total",
		Help:      "Total objects inserted into a layer",
	}, []string{"layer"})

	ObjectsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "layer",
		Name:      "objects_rejected_total",
		Help:      "Total objects rejected because of invalid bounds",
	}, []string{"layer"})

	InboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "layer",
		Name:      "inbox_batches",
		Help:      "Batches waiting to be applied by the layer owner",
	}, []string{"layer"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "layer",
		Name:      "query_duration_seconds",
		Help:      "Duration of index queries",
		Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"layer", "op"})

	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "snapshot",
		Name:      "saves_total",
		Help:      "Save attempts by result",
	}, []string{"layer", "result"})

	SnapshotRestores = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "snapshot",
		Name:      "restores_total",
		Help:      "Restore attempts by result",
	}, []string{"layer", "result"})

	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "snapshot",
		Name:      "duration_seconds",
		Help:      "Duration of snapshot save and restore",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"layer", "op"})

	// Source metrics
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "source",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of remote feature fetches",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"source"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "source",
		Name:      "fetch_errors_total",
		Help:      "Total remote feature fetch errors",
	}, []string{"source"})

	PhotosIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "source",
		Name:      "photos_indexed_total",
		Help:      "Total photos added to the seed store by directory scans",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "source",
		Name:      "scan_duration_seconds",
		Help:      "Duration of full directory scans",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
func UpdateDBPoolMetrics(stat interface{}) {
	// Matched structurally so this package does not import pgxpool.
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
