package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeContexts prometheus.Gauge
	createdTotal   *prometheus.CounterVec
	evictedTotal   *prometheus.CounterVec

	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskRejected prometheus.Counter

	cancelTotal *prometheus.CounterVec

	storeLoadDuration  prometheus.Histogram
	storeWriteDuration prometheus.Histogram

	sweepTotal    prometheus.Counter
	sweepDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeContexts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "contexts_active",
					Help: "Current number of registered conversation contexts.",
				},
			),
			createdTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contexts_created_total",
					Help: "Total contexts created by isolation strategy.",
				},
				[]string{"strategy"},
			),
			evictedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contexts_evicted_total",
					Help: "Total contexts evicted by reason.",
				},
				[]string{"reason"},
			),
			taskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tasks_total",
					Help: "Total tasks executed by outcome.",
				},
				[]string{"outcome"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by outcome.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"outcome"},
			),
			taskRejected: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tasks_rejected_total",
					Help: "Total tasks rejected because the context was busy.",
				},
			),
			cancelTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cancel_requests_total",
					Help: "Total cancellation requests by resulting status.",
				},
				[]string{"status"},
			),
			storeLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_store_load_duration_seconds",
					Help:    "Session history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storeWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_store_write_duration_seconds",
					Help:    "Session history write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sweeps_total",
					Help: "Total idle-context sweep passes.",
				},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sweep_duration_seconds",
					Help:    "Idle-context sweep pass duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.activeContexts,
			m.createdTotal,
			m.evictedTotal,
			m.taskTotal,
			m.taskDuration,
			m.taskRejected,
			m.cancelTotal,
			m.storeLoadDuration,
			m.storeWriteDuration,
			m.sweepTotal,
			m.sweepDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an HTTP handler exposing the prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordContextCreated records a new context and updates the active gauge.
func RecordContextCreated(strategy string, active int) {
	m := getMetrics()
	m.createdTotal.WithLabelValues(strategy).Inc()
	m.activeContexts.Set(float64(active))
}

// RecordContextEvicted records an eviction and updates the active gauge.
func RecordContextEvicted(reason string, active int) {
	m := getMetrics()
	m.evictedTotal.WithLabelValues(reason).Inc()
	m.activeContexts.Set(float64(active))
}

// SetActiveContexts updates the active context gauge.
func SetActiveContexts(count int) {
	getMetrics().activeContexts.Set(float64(count))
}

// RecordTask records a completed task with its outcome and duration.
func RecordTask(outcome string, duration time.Duration) {
	m := getMetrics()
	m.taskTotal.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordTaskRejected records a task rejected due to a busy context.
func RecordTaskRejected() {
	getMetrics().taskRejected.Inc()
}

// RecordCancel records a cancellation request by resulting status.
func RecordCancel(status string) {
	getMetrics().cancelTotal.WithLabelValues(status).Inc()
}

// RecordStoreLoad records a session history load duration.
func RecordStoreLoad(duration time.Duration) {
	getMetrics().storeLoadDuration.Observe(duration.Seconds())
}

// RecordStoreWrite records a session history write duration.
func RecordStoreWrite(duration time.Duration) {
	getMetrics().storeWriteDuration.Observe(duration.Seconds())
}

// RecordSweep records a sweep pass and its duration.
func RecordSweep(duration time.Duration) {
	m := getMetrics()
	m.sweepTotal.Inc()
	m.sweepDuration.Observe(duration.Seconds())
}
