// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiontimer"

// Recorder holds every collector the service updates.
type Recorder struct {
	gatherer prometheus.Gatherer

	mutationsTotal      *prometheus.CounterVec
	scanExpiredTotal    prometheus.Counter
	scanFlaggedTotal    prometheus.Counter
	scansTotal          prometheus.Counter
	extensionsTotal     *prometheus.CounterVec
	reloadsTotal        *prometheus.CounterVec
	sessions            *prometheus.GaugeVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		gatherer: reg,
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Collection mutations by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		scansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Expiry scans run",
		}),
		scanExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_expired_total",
			Help:      "Sessions expired by scans",
		}),
		scanFlaggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_flagged_total",
			Help:      "Sessions flagged as nearing their end by scans",
		}),
		extensionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extensions_total",
				Help:      "Extension requests by result",
			},
			[]string{"result"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Collection reloads by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Sessions in the collection by status",
			},
			[]string{"status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		r.mutationsTotal,
		r.scansTotal,
		r.scanExpiredTotal,
		r.scanFlaggedTotal,
		r.extensionsTotal,
		r.reloadsTotal,
		r.sessions,
		r.httpRequestsTotal,
		r.httpRequestDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveMutation counts one collection mutation.
func (r *Recorder) ObserveMutation(event, outcome string) {
	r.mutationsTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveScan records one expiry scan.
func (r *Recorder) ObserveScan(expired, flagged int) {
	r.scansTotal.Inc()
	r.scanExpiredTotal.Add(float64(expired))
	r.scanFlaggedTotal.Add(float64(flagged))
}

// ObserveExtension counts an extension request.
func (r *Recorder) ObserveExtension(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	r.extensionsTotal.WithLabelValues(result).Inc()
}

// ObserveReload counts a collection reload.
func (r *Recorder) ObserveReload(source string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	r.reloadsTotal.WithLabelValues(source, outcome).Inc()
}

// SetSessions sets the number of sessions with status.
func (r *Recorder) SetSessions(status string, n int) {
	r.sessions.WithLabelValues(status).Set(float64(n))
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
