// Package metrics exposes Prometheus metrics for the entry store, the request
// queue and the sync coordinator. A nil *Metrics is valid and records nothing,
// so components take one unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agrisync"

// Label names.
const (
	LabelCategory = "category"
	LabelResult   = "result"
	LabelKind     = "kind"
	LabelClass    = "class"
	LabelBackend  = "backend"
)

// Read results.
const (
	ReadHit   = "hit"
	ReadStale = "stale"
	ReadMiss  = "miss"
)

// Metrics holds every collector the engine updates.
type Metrics struct {
	usedBytes      prometheus.Gauge
	budgetBytes    prometheus.Gauge
	entries        *prometheus.GaugeVec
	reads          *prometheus.CounterVec
	writes         *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	evictedBytes   prometheus.Counter
	budgetExceeded prometheus.Counter

	enqueued   *prometheus.CounterVec
	pending    prometheus.Gauge
	outcomes   *prometheus.CounterVec
	drains     *prometheus.CounterVec
	drainTime  prometheus.Histogram
	fetchTime  *prometheus.HistogramVec
	permFailed *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registry.
// A nil registry creates unregistered collectors, which tests use.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		usedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "used_bytes",
			Help:      "Bytes currently stored by the entry store",
		}),
		budgetBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "budget_bytes",
			Help:      "Configured local storage budget",
		}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of stored entries by category",
		}, []string{LabelCategory}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Entry reads by category and result (hit, stale, miss)",
		}, []string{LabelCategory, LabelResult}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Entry writes by category, local or merged from sync",
		}, []string{LabelCategory, LabelKind}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to stay within budget",
		}, []string{LabelCategory}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evicted_bytes_total",
			Help:      "Bytes freed by eviction",
		}),
		budgetExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "budget_exceeded_total",
			Help:      "Eviction passes that could not bring usage under budget",
		}),

		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Operations enqueued by kind (deduplicated requests excluded)",
		}, []string{LabelKind}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Operations currently queued (pending or in flight)",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "outcomes_total",
			Help:      "Per-item sync outcomes",
		}, []string{LabelCategory, LabelResult}),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drains_total",
			Help:      "Drain cycles by connectivity class",
		}, []string{LabelClass}),
		drainTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_duration_seconds",
			Help:      "Wall time of a drain cycle",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		fetchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_duration_seconds",
			Help:      "Provider call latency by category",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{LabelCategory}),
		permFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "permanent_failures_total",
			Help:      "Operations that reached failed-permanent",
		}, []string{LabelCategory}),
	}

	if registry != nil {
		registry.MustRegister(
			m.usedBytes, m.budgetBytes, m.entries, m.reads, m.writes,
			m.evictions, m.evictedBytes, m.budgetExceeded,
			m.enqueued, m.pending, m.outcomes, m.drains, m.drainTime,
			m.fetchTime, m.permFailed,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) SetUsage(used, budget int64) {
	if m == nil {
		return
	}
	m.usedBytes.Set(float64(used))
	m.budgetBytes.Set(float64(budget))
}

func (m *Metrics) SetEntries(category string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(category).Set(float64(n))
}

func (m *Metrics) ObserveRead(category, result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(category, result).Inc()
}

// ObserveWrite counts a stored entry; kind is "local" or "merge".
func (m *Metrics) ObserveWrite(category, kind string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(category, kind).Inc()
}

func (m *Metrics) ObserveEviction(category string, bytes int64) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(category).Inc()
	m.evictedBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveBudgetExceeded() {
	if m == nil {
		return
	}
	m.budgetExceeded.Inc()
}

func (m *Metrics) ObserveEnqueue(kind string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) ObserveOutcome(category, result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(category, result).Inc()
}

func (m *Metrics) ObserveDrain(class string, d time.Duration) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(class).Inc()
	m.drainTime.Observe(d.Seconds())
}

func (m *Metrics) ObserveFetch(category string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchTime.WithLabelValues(category).Observe(d.Seconds())
}

func (m *Metrics) ObservePermanentFailure(category string) {
	if m == nil {
		return
	}
	m.permFailed.WithLabelValues(category).Inc()
}
