// Prometheus instrumentation for the HTTP surface and the collaboration
// engine. Label cardinality stays bounded: the path label is the registered
// Gin route, falling back to the raw URL only for unmatched requests.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is omitted from the latency labels to keep histogram
	// cardinality down.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Buckets sized for JSON payloads: most responses are rosters and chat
	// pages under a few KiB; full document snapshots reach the MiB range.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// wsSessions tracks live collaboration WebSocket sessions.
	wsSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_ws_sessions",
			Help: "Current number of live collaboration WebSocket sessions.",
		},
	)

	// wsFrames counts inbound WebSocket frames by type.
	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_ws_frames_total",
			Help: "Total inbound WebSocket frames by frame type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, wsSessions, wsFrames)
}

// WSSessionStarted and WSSessionEnded bracket the lifetime of one
// collaboration session in the collab_ws_sessions gauge.
func WSSessionStarted() { wsSessions.Inc() }

// WSSessionEnded decrements the live-session gauge.
func WSSessionEnded() { wsSessions.Dec() }

// WSFrameReceived counts one inbound frame of the given type.
func WSFrameReceived(frameType string) { wsFrames.WithLabelValues(frameType).Inc() }

// Metrics returns a middleware that instruments every request: a counter by
// (method, path, status), a latency histogram, an in-flight gauge, and a
// response-size histogram for handlers that report a size.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Hijacked connections report -1; skip those.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
