package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics exposes counters/histograms for appointment sync runs.
type SyncMetrics struct {
	runsTotal        *prometheus.CounterVec
	patientsTotal    *prometheus.CounterVec
	runDuration      prometheus.Histogram
	proxyRequests    *prometheus.CounterVec
	proxyLatency     *prometheus.HistogramVec
	rateLimitWaiting *prometheus.HistogramVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Appointment sync runs by outcome",
		}, []string{"outcome"}),
		patientsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Subsystem: "sync",
			Name:      "appointments_total",
			Help:      "Appointments processed by result (normalized, skipped, failed)",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workflow",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a sync run",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Subsystem: "tebra_proxy",
			Name:      "requests_total",
			Help:      "Tebra proxy calls by method and status",
		}, []string{"method", "status"}),
		proxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Subsystem: "tebra_proxy",
			Name:      "request_duration_seconds",
			Help:      "Latency of Tebra proxy calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimitWaiting: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Subsystem: "tebra_proxy",
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting on the client-side rate limiter",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.patientsTotal, m.runDuration, m.proxyRequests, m.proxyLatency, m.rateLimitWaiting)
	return m
}

func (m *SyncMetrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *SyncMetrics) ObserveAppointments(normalized, skipped, failed int) {
	if m == nil {
		return
	}
	m.patientsTotal.WithLabelValues("normalized").Add(float64(normalized))
	m.patientsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.patientsTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *SyncMetrics) ObserveProxyRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(method, status).Inc()
	m.proxyLatency.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *SyncMetrics) ObserveRateLimitWait(method string, waited time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaiting.WithLabelValues(method).Observe(waited.Seconds())
}
