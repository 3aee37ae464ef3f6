package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	evictedSessions     prometheus.Counter
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	classificationsTotal   *prometheus.CounterVec
	classificationFallback *prometheus.CounterVec

	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mosaic_queue_size",
					Help: "Current queue size by lane kind.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_enqueue_total",
					Help: "Total enqueue operations by lane kind.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_dequeue_total",
					Help: "Total completed tasks by lane kind and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mosaic_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mosaic_active_sessions",
					Help: "Current number of live sessions in the store.",
				},
			),
			evictedSessions: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mosaic_sessions_evicted_total",
					Help: "Sessions dropped by idle or capacity eviction.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mosaic_session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mosaic_session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_turns_total",
					Help: "Conversation turns by intent, action and status.",
				},
				[]string{"intent", "action", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mosaic_turn_duration_seconds",
					Help:    "End-to-end turn duration in seconds by intent.",
					Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
				},
				[]string{"intent"},
			),
			classificationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_classifications_total",
					Help: "Classifier decisions by intent and judgment.",
				},
				[]string{"intent", "judgment"},
			),
			classificationFallback: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_classification_fallback_total",
					Help: "Classifier failures that degraded to text, by reason.",
				},
				[]string{"reason"},
			),
			capabilityCalls: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_capability_calls_total",
					Help: "Capability adapter calls by capability, operation and status.",
				},
				[]string{"capability", "operation", "status"},
			),
			capabilityDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mosaic_capability_duration_seconds",
					Help:    "Capability adapter call duration in seconds.",
					Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
				},
				[]string{"capability", "operation"},
			),
			httpRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mosaic_http_requests_total",
					Help: "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.evictedSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.turnsTotal,
			m.turnDuration,
			m.classificationsTotal,
			m.classificationFallback,
			m.capabilityCalls,
			m.capabilityDuration,
			m.httpRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionEvicted() {
	getMetrics().evictedSessions.Inc()
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
}

// RecordTurn counts a finished turn. action is empty when the turn failed
// before an adapter was chosen.
func RecordTurn(intent, action string, duration time.Duration, success bool) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(intent, action, status(success)).Inc()
	m.turnDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

func RecordClassification(intent, judgment string) {
	getMetrics().classificationsTotal.WithLabelValues(intent, judgment).Inc()
}

func RecordClassificationFallback(reason string) {
	getMetrics().classificationFallback.WithLabelValues(reason).Inc()
}

func RecordCapabilityCall(capability, operation string, duration time.Duration, success bool) {
	m := getMetrics()
	m.capabilityCalls.WithLabelValues(capability, operation, status(success)).Inc()
	m.capabilityDuration.WithLabelValues(capability, operation).Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequests.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
