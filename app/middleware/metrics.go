package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request surfaces. Tracking hits vastly outnumber API calls, so they get their own series.
const (
	SurfaceTracking = "tracking"
	SurfaceStream   = "stream"
	SurfaceCron     = "cron"
	SurfaceAPI      = "api"
	SurfacePublic   = "public"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"surface", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trakpilot_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"surface", "method", "route"},
	)

	httpInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trakpilot_http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
		[]string{"surface"},
	)
)

// Surface classifies a request path
func Surface(path string) string {
	switch {
	case path == "/track",
		strings.HasPrefix(path, "/track/"),
		strings.HasPrefix(path, "/t/"),
		strings.HasPrefix(path, "/l/"),
		strings.HasPrefix(path, "/redirect/"):
		return SurfaceTracking
	case strings.HasSuffix(path, "/notifications/stream"):
		return SurfaceStream
	case strings.HasPrefix(path, "/api/v1/cron/"):
		return SurfaceCron
	case strings.HasPrefix(path, "/api/"):
		return SurfaceAPI
	default:
		return SurfacePublic
	}
}

// Metrics returns a Fiber v3 middleware that records Prometheus request metrics.
// Push streams are skipped; their lifetime is tracked by the notification hub.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		surface := Surface(c.Path())
		if surface == SurfaceStream {
			return c.Next()
		}

		start := time.Now()
		inFlight := httpInFlight.WithLabelValues(surface)
		inFlight.Inc()
		defer inFlight.Dec()

		err := c.Next()

		// route template keeps tracking ids and short codes out of the labels
		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			route = r.Path
		}

		method := c.Method()
		httpRequestsTotal.WithLabelValues(surface, method, route, strconv.Itoa(c.Response().StatusCode())).Inc()
		httpRequestDuration.WithLabelValues(surface, method, route).Observe(time.Since(start).Seconds())

		return err
	}
}
