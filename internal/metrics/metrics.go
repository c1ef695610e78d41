// Package metrics exposes Prometheus instrumentation for the task orchestrator.
// A nil *Recorder is valid and records nothing, so components can treat
// metrics as optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genflow"

// Poll outcomes.
const (
	PollCompleted = "completed"
	PollFailed    = "failed"
	PollPending   = "pending"
	PollTransient = "transient"
	PollTimeout   = "timeout"
)

// Continuation results.
const (
	ContinuationSent    = "sent"
	ContinuationFailed  = "failed"
	ContinuationSkipped = "skipped"
)

// Recorder owns a private registry so independent instances do not collide.
type Recorder struct {
	registry      *prometheus.Registry
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	continuations *prometheus.CounterVec
	cacheEntries  *prometheus.GaugeVec
	evictions     prometheus.Counter
	batchQueries  *prometheus.CounterVec
}

// New builds a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status checks performed by the polling engine, by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Wall time of complete poll loops.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		continuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continuations_total",
			Help:      "Supplementary submissions, by result.",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Task records held in the cache, by lifecycle state.",
		}, []string{"state"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Task records removed because their TTL elapsed.",
		}),
		batchQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_queries_total",
			Help:      "Grouped remote status queries, by id kind and result.",
		}, []string{"kind", "result"}),
	}
	r.registry.MustRegister(
		r.polls,
		r.pollDuration,
		r.continuations,
		r.cacheEntries,
		r.evictions,
		r.batchQueries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObservePoll(outcome string) {
	if r == nil {
		return
	}
	r.polls.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObservePollDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.pollDuration.Observe(d.Seconds())
}

func (r *Recorder) ObserveContinuation(result string) {
	if r == nil {
		return
	}
	r.continuations.WithLabelValues(result).Inc()
}

func (r *Recorder) SetCacheEntries(state string, n int) {
	if r == nil {
		return
	}
	r.cacheEntries.WithLabelValues(state).Set(float64(n))
}

func (r *Recorder) ObserveEvictions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.evictions.Add(float64(n))
}

func (r *Recorder) ObserveBatchQuery(kind, result string) {
	if r == nil {
		return
	}
	r.batchQueries.WithLabelValues(kind, result).Inc()
}
