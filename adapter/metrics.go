package webull

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client side Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	rateLimitWait   prometheus.Histogram
	streamEvents    *prometheus.CounterVec
	reconnects      prometheus.Counter
}

// NewMetrics creates and registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Name:      "requests_total",
			Help:      "REST requests sent, by method and response status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webull",
			Name:      "request_duration_seconds",
			Help:      "REST round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Name:      "cache_hits_total",
			Help:      "Response cache hits, by cache.",
		}, []string{"cache"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Name:      "cache_misses_total",
			Help:      "Response cache misses, by cache.",
		}, []string{"cache"}),
		rateLimitWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "webull",
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for rate limiter admission.",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
		}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webull",
			Name:      "stream_events_total",
			Help:      "Streaming events delivered, by event type.",
		}, []string{"type"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "webull",
			Name:      "stream_reconnects_total",
			Help:      "Streaming reconnect attempts.",
		}),
	}
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.Observe(d.Seconds())
}

func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StreamReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
