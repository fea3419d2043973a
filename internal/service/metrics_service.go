package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry for HTTP, cache and enrollment workflow instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	sectionOutcomes *prometheus.CounterVec
	requestOutcomes *prometheus.CounterVec
	seatChanges     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	sectionOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "section_proposals_total",
		Help: "Section proposals and reschedules by outcome",
	}, []string{"operation", "outcome"})

	requestOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_request_outcomes_total",
		Help: "Enrollment request operations by outcome code",
	}, []string{"operation", "outcome"})

	seatChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "section_seat_changes_total",
		Help: "Seats taken and released on sections",
	}, []string{"direction"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notification deliveries by channel and result",
	}, []string{"channel", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		sectionOutcomes, requestOutcomes, seatChanges, notifications, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		sectionOutcomes: sectionOutcomes,
		requestOutcomes: requestOutcomes,
		seatChanges:     seatChanges,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request latency and count.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks cache write latency.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordSectionOutcome counts a propose or reschedule result such as "created" or a conflict code.
func (m *MetricsService) RecordSectionOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.sectionOutcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordRequestOutcome counts an enrollment workflow result such as "approved" or "SECTION_FULL".
func (m *MetricsService) RecordRequestOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.requestOutcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordSeatChange counts a seat taken (delta > 0) or released (delta < 0).
func (m *MetricsService) RecordSeatChange(delta int) {
	if m == nil || delta == 0 {
		return
	}
	direction := "taken"
	if delta < 0 {
		direction = "released"
		delta = -delta
	}
	m.seatChanges.WithLabelValues(direction).Add(float64(delta))
}

// RecordNotification counts a delivery attempt on a channel.
func (m *MetricsService) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
