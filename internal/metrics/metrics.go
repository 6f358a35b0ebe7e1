// Package metrics records polling outcomes as Prometheus instruments.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// guard their calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netpulse"

// Outcome label values for fetch counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
)

// Recorder holds the Prometheus instruments for task polling.
type Recorder struct {
	registry   *prometheus.Registry
	fetches    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	polling    *prometheus.GaugeVec
	retryCount *prometheus.GaugeVec
	giveUps    *prometheus.CounterVec
}

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_fetches_total",
			Help:      "Completed task fetches by outcome.",
		}, []string{"task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_fetch_duration_seconds",
			Help:      "Latency of task fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		polling: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_polling",
			Help:      "1 while the task is actively polling.",
		}, []string{"task"}),
		retryCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_retry_count",
			Help:      "Consecutive failed fetches since the last success.",
		}, []string{"task"}),
		giveUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_give_ups_total",
			Help:      "Times a task stopped itself after exhausting its retry budget.",
		}, []string{"task"}),
	}

	reg.MustRegister(r.fetches, r.latency, r.polling, r.retryCount, r.giveUps)
	return r
}

// RecordFetch counts one completed fetch and observes its latency.
func (r *Recorder) RecordFetch(task string, duration time.Duration, outcome string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(task, outcome).Inc()
	r.latency.WithLabelValues(task).Observe(duration.Seconds())
}

// SetPolling updates the polling gauge for a task.
func (r *Recorder) SetPolling(task string, polling bool) {
	if r == nil {
		return
	}
	v := 0.0
	if polling {
		v = 1
	}
	r.polling.WithLabelValues(task).Set(v)
}

// SetRetryCount updates the retry gauge for a task.
func (r *Recorder) SetRetryCount(task string, n int) {
	if r == nil {
		return
	}
	r.retryCount.WithLabelValues(task).Set(float64(n))
}

// RecordGiveUp counts an automatic stop after retries ran out.
func (r *Recorder) RecordGiveUp(task string) {
	if r == nil {
		return
	}
	r.giveUps.WithLabelValues(task).Inc()
}

// Forget drops every series labelled with task.
func (r *Recorder) Forget(task string) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{"task": task}
	r.fetches.DeletePartialMatch(labels)
	r.latency.DeletePartialMatch(labels)
	r.polling.DeletePartialMatch(labels)
	r.retryCount.DeletePartialMatch(labels)
	r.giveUps.DeletePartialMatch(labels)
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
