// Package metrics exposes the scalper's Prometheus metrics. Every method is
// safe to call on a nil *Registry so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all scalper metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	BookRows           *prometheus.CounterVec
	SnapshotsPublished *prometheus.CounterVec
	StreamReconnects   *prometheus.CounterVec
	Signals            *prometheus.CounterVec
	Cycles             *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	Orders             *prometheus.CounterVec
	JournalDropped     prometheus.Counter
	Running            prometheus.Gauge
}

// New creates and registers the scalper metrics.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		BookRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_book_rows_total",
				Help: "Order book diff rows received, by result",
			},
			[]string{"symbol", "result"},
		),
		SnapshotsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_snapshots_published_total",
				Help: "Order book snapshots published to subscribers",
			},
			[]string{"symbol"},
		),
		StreamReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_stream_reconnects_total",
				Help: "Stream reconnect attempts after a failure",
			},
			[]string{"stream"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_density_signals_total",
				Help: "Density signals that passed admission control",
			},
			[]string{"symbol", "side"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_cycles_total",
				Help: "Finished trade cycles by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scalper_cycle_duration_seconds",
				Help:    "Wall time of a trade cycle from admission to resolution",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
			},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalper_orders_total",
				Help: "Order placement and cancel requests by role and result",
			},
			[]string{"role", "result"},
		),
		JournalDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scalper_journal_dropped_total",
				Help: "Lifecycle events dropped because the journal queue was full",
			},
		),
		Running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scalper_running",
				Help: "1 while the strategy accepts new signals",
			},
		),
	}
	r.reg.MustRegister(
		r.BookRows,
		r.SnapshotsPublished,
		r.StreamReconnects,
		r.Signals,
		r.Cycles,
		r.CycleDuration,
		r.Orders,
		r.JournalDropped,
		r.Running,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RowApplied(symbol string) {
	if r != nil {
		r.BookRows.WithLabelValues(symbol, "applied").Inc()
	}
}

func (r *Registry) RowMalformed(symbol string) {
	if r != nil {
		r.BookRows.WithLabelValues(symbol, "malformed").Inc()
	}
}

func (r *Registry) SnapshotPublished(symbol string) {
	if r != nil {
		r.SnapshotsPublished.WithLabelValues(symbol).Inc()
	}
}

func (r *Registry) Reconnect(stream string) {
	if r != nil {
		r.StreamReconnects.WithLabelValues(stream).Inc()
	}
}

func (r *Registry) Signal(symbol, side string) {
	if r != nil {
		r.Signals.WithLabelValues(symbol, side).Inc()
	}
}

// CycleFinished records one trade cycle outcome and its duration.
func (r *Registry) CycleFinished(outcome string, d time.Duration) {
	if r != nil {
		r.Cycles.WithLabelValues(outcome).Inc()
		r.CycleDuration.Observe(d.Seconds())
	}
}

func (r *Registry) Order(role, result string) {
	if r != nil {
		r.Orders.WithLabelValues(role, result).Inc()
	}
}

func (r *Registry) JournalDrop() {
	if r != nil {
		r.JournalDropped.Inc()
	}
}

func (r *Registry) SetRunning(running bool) {
	if r == nil {
		return
	}
	if running {
		r.Running.Set(1)
		return
	}
	r.Running.Set(0)
}
