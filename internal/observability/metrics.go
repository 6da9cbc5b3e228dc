// Package observability exposes the bot's Prometheus metrics and a small
// HTTP server for /metrics, /healthz and, optionally, pprof.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"offerbot/internal/pipeline"
	"offerbot/internal/sources"
)

const namespace = "offerbot"

// Metrics implements pipeline.Observer and cycle.Observer.
type Metrics struct {
	reg *prometheus.Registry

	fetched        *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	newOffers      *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec

	deliveries      *prometheus.CounterVec
	deliveryFailure prometheus.Counter
	pending         prometheus.Gauge

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	coalesced     prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	perSource := []string{"source"}

	return &Metrics{
		reg: reg,
		fetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "fetched_total",
			Help: "Candidates returned by source adapters.",
		}, perSource),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rejected_total",
			Help: "Candidates rejected by the normalizer.",
		}, perSource),
		newOffers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "new_total",
			Help: "Offers stored for the first time.",
		}, perSource),
		duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "duplicates_total",
			Help: "Candidates whose link was already known.",
		}, perSource),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "source_failures_total",
			Help: "Failed source fetches by error kind.",
		}, []string{"source", "kind"}),
		sourceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "source_duration_seconds",
			Help:    "Time spent fetching and storing one source.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, perSource),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "delivered_total",
			Help: "Offers delivered, by the tier that succeeded.",
		}, []string{"tier"}),
		deliveryFailure: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "failed_total",
			Help: "Offers left pending after both tiers failed.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "pending",
			Help: "Offers waiting to be delivered after the last cycle.",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "runs_total",
			Help: "Finished cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "duration_seconds",
			Help:    "Wall clock time of a full cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "coalesced_total",
			Help: "Triggers merged into an already running cycle.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SourceDone(r pipeline.SourceReport) {
	m.fetched.WithLabelValues(r.Source).Add(float64(r.Fetched))
	m.rejected.WithLabelValues(r.Source).Add(float64(r.Rejected))
	m.newOffers.WithLabelValues(r.Source).Add(float64(r.New))
	m.duplicates.WithLabelValues(r.Source).Add(float64(r.Duplicates))
	m.sourceDuration.WithLabelValues(r.Source).Observe(r.Duration.Seconds())
	if r.Err != nil {
		kind := "other"
		if fe, ok := sources.AsFetchError(r.Err); ok {
			kind = string(fe.Kind)
		}
		m.sourceFailures.WithLabelValues(r.Source, kind).Inc()
	}
}

func (m *Metrics) Delivered(op pipeline.Op) { m.deliveries.WithLabelValues(string(op)).Inc() }

func (m *Metrics) DeliveryFailed() { m.deliveryFailure.Inc() }

func (m *Metrics) PendingCount(n int) { m.pending.Set(float64(n)) }

func (m *Metrics) CycleDone(outcome string, d time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Coalesced() { m.coalesced.Inc() }
