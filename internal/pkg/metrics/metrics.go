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
		Namespace: "geoaugment",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoaugment",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Layer fetch metrics
	FetchCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoaugment",
		Subsystem: "fetch",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a complete layer fetch cycle including inner layers",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	FetchPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "fetch",
		Name:      "pages_total",
		Help:      "Total layer pages received",
	}, []string{"scope"})

	FetchRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "fetch",
		Name:      "redirects_total",
		Help:      "Total redirects followed",
	})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "fetch",
		Name:      "errors_total",
		Help:      "Total terminal engine errors by kind",
	}, []string{"kind"})

	BundleDownloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "fetch",
		Name:      "bundle_downloads_total",
		Help:      "Total asset bundles downloaded and decoded",
	})

	// Reconciliation metrics
	ReconciledObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "store",
		Name:      "reconciled_objects_total",
		Help:      "Objects created, deleted or updated by reconciliation",
	}, []string{"op"})

	LiveObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoaugment",
		Subsystem: "store",
		Name:      "live_objects",
		Help:      "Current number of top-level augment objects",
	})

	StaleBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "store",
		Name:      "stale_batches_total",
		Help:      "Reconciliation batches dropped because a newer generation started",
	})

	// Foreground metrics
	FramesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoaugment",
		Subsystem: "render",
		Name:      "frames_per_second",
		Help:      "Frames counted in the previous whole second",
	})

	ActiveAnimations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoaugment",
		Subsystem: "render",
		Name:      "active_animations",
		Help:      "Animation instances currently active",
	})

	RefreshRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "engine",
		Name:      "refresh_requests_total",
		Help:      "User refresh requests by outcome",
	}, []string{"outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geoaugment",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoaugment",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})
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
