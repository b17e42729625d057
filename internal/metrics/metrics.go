// Package metrics exposes validation engine counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
)

const namespace = "slpvalid"

// Indexer query results.
const (
	ResultValid       = "valid"
	ResultInvalid     = "invalid"
	ResultTimeout     = "timeout"
	ResultUnreachable = "unreachable"
	ResultMalformed   = "malformed"
	ResultProtocol    = "protocol"
	ResultCanceled    = "canceled"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	verdicts       *prometheus.CounterVec
	indexerQueries *prometheus.CounterVec
	indexerLatency *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	replays        *prometheus.CounterVec
	replayDuration prometheus.Histogram
	reorgs         prometheus.Counter
	inflight       prometheus.Gauge
}

// New creates metrics on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the engine's collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts returned, by outcome and source.",
		}, []string{"outcome", "source"}),
		indexerQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "queries_total",
			Help:      "Indexer queries, by indexer and result.",
		}, []string{"indexer", "result"}),
		indexerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "query_duration_seconds",
			Help:      "Indexer query latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"indexer"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Verdict cache lookups, by result.",
		}, []string{"result"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Verdicts currently cached.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "replays_total",
			Help:      "Graph replays, by outcome.",
		}, []string{"outcome"}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "replay_duration_seconds",
			Help:      "Graph replay wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_total",
			Help:      "Reorg notifications handled.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_resolutions",
			Help:      "Distinct validations currently being resolved.",
		}),
	}
	reg.MustRegister(
		m.verdicts,
		m.indexerQueries,
		m.indexerLatency,
		m.cacheLookups,
		m.cacheEntries,
		m.replays,
		m.replayDuration,
		m.reorgs,
		m.inflight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Verdict counts a verdict handed to a caller.
func (m *Metrics) Verdict(o verdict.Outcome, s verdict.SourceKind) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(o.String(), s.String()).Inc()
}

// IndexerQuery records one indexer query.
func (m *Metrics) IndexerQuery(indexer, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.indexerQueries.WithLabelValues(indexer, result).Inc()
	m.indexerLatency.WithLabelValues(indexer).Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// CacheEntries sets the cache size gauge.
func (m *Metrics) CacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Replay records a finished graph replay.
func (m *Metrics) Replay(o verdict.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(o.String()).Inc()
	m.replayDuration.Observe(d.Seconds())
}

// Reorg counts a handled reorg.
func (m *Metrics) Reorg() {
	if m == nil {
		return
	}
	m.reorgs.Inc()
}

// InFlight adjusts the in-flight resolution gauge.
func (m *Metrics) InFlight(delta int) {
	if m == nil {
		return
	}
	m.inflight.Add(float64(delta))
}
