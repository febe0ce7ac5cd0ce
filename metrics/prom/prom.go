// Package prom exports loader, memory-tier and blob-tier signals as
// Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/imgcache/cache"
	"github.com/IvanBrykalov/imgcache/loader"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "imgcache"

// Adapter implements cache.Metrics, cache.BlobMetrics and loader.Metrics.
// All Prometheus metric types are goroutine-safe, and so is Adapter.
type Adapter struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	// memory tier
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	entries  prometheus.Gauge
	memBytes prometheus.Gauge

	// blob tier
	blobLookups *prometheus.CounterVec
	blobErrors  *prometheus.CounterVec

	// loader
	requests     *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	placeholders prometheus.Counter
	slots        prometheus.Gauge
}

var (
	_ cache.Metrics     = (*Adapter)(nil)
	_ cache.BlobMetrics = (*Adapter)(nil)
	_ loader.Metrics    = (*Adapter)(nil)
)

// New constructs an adapter.
//   - reg:         registry to register with; nil creates a dedicated one
//     that also carries the Go and process collectors
//   - ns:          namespace, DefaultNamespace when empty
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg *prometheus.Registry, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	if ns == "" {
		ns = DefaultNamespace
	}
	counter := func(sub, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(sub, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:     counter("memory", "hits_total", "Memory tier hits."),
		misses:   counter("memory", "misses_total", "Memory tier misses."),
		evicts:   counterVec("memory", "evictions_total", "Memory tier evictions by reason.", "reason"),
		entries:  gauge("memory", "entries", "Images resident in the memory tier."),
		memBytes: gauge("memory", "bytes", "Estimated bytes held by resident images."),

		blobLookups: counterVec("blob", "lookups_total", "Blob tier lookups by result.", "result"),
		blobErrors:  counterVec("blob", "errors_total", "Blob tier failures by operation.", "op"),

		requests:     counterVec("loader", "requests_total", "Loads by how they were served.", "result"),
		fetches:      counterVec("loader", "fetches_total", "Network fetches by outcome.", "outcome"),
		placeholders: counter("loader", "placeholders_total", "Placeholder substitutions."),
		slots:        gauge("loader", "slots_in_use", "Concurrency limiter slots in use."),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "loader",
			Name:        "fetch_duration_seconds",
			Help:        "Latency of network fetches including the body read.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.entries, a.memBytes,
		a.blobLookups, a.blobErrors,
		a.requests, a.fetches, a.fetchLatency, a.placeholders, a.slots,
	)
	a.gatherer = reg
	a.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return a
}

// Handler serves the adapter's registry.
func (a *Adapter) Handler() http.Handler {
	if a == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return a.handler
}

// Gatherer returns the underlying registry for tests.
func (a *Adapter) Gatherer() prometheus.Gatherer { return a.gatherer }

// Hit increments the memory hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the memory miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) { a.evicts.WithLabelValues(r.String()).Inc() }

// Resize applies a shard's size change to the totals.
func (a *Adapter) Resize(entries int, cost int64) {
	a.entries.Add(float64(entries))
	a.memBytes.Add(float64(cost))
}

func (a *Adapter) BlobHit()            { a.blobLookups.WithLabelValues("hit").Inc() }
func (a *Adapter) BlobMiss()           { a.blobLookups.WithLabelValues("miss").Inc() }
func (a *Adapter) BlobError(op string) { a.blobErrors.WithLabelValues(op).Inc() }

func (a *Adapter) Request(result string) { a.requests.WithLabelValues(result).Inc() }

func (a *Adapter) Fetch(outcome string, d time.Duration) {
	a.fetches.WithLabelValues(outcome).Inc()
	a.fetchLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (a *Adapter) Placeholder() { a.placeholders.Inc() }

func (a *Adapter) Slots(inUse int) { a.slots.Set(float64(inUse)) }
