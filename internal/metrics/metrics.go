// Package metrics exposes Prometheus metrics for the settlement pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oracle_settler"

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	FeedsProcessed  *prometheus.CounterVec
	SettlerFailures *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	SweepEligible   prometheus.Gauge
	LastSweep       prometheus.Gauge
	PollerUpdates   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FeedsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "feeds_processed_total",
			Help:      "Feeds processed by outcome (settled, on_chain, failed) and reason",
		}, []string{"outcome", "reason"}),
		SettlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "settler_failures_total",
			Help:      "Chain Settler failures by code; the feed fell back to its off-chain value",
		}, []string{"code"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of batch sweeps",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		SweepEligible: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sweep_eligible_feeds",
			Help:      "Eligible feeds found by the last sweep",
		}),
		LastSweep: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep finished",
		}),
		PollerUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "config_updates_total",
			Help:      "Event configs rewritten by the status poller, by new status",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Feed(outcome, reason string) {
	if m == nil {
		return
	}
	m.FeedsProcessed.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) SettlerFailure(code string) {
	if m == nil {
		return
	}
	m.SettlerFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) Sweep(eligible int, took time.Duration) {
	if m == nil {
		return
	}
	m.SweepEligible.Set(float64(eligible))
	m.SweepDuration.Observe(took.Seconds())
	m.LastSweep.SetToCurrentTime()
}

func (m *Metrics) PollerUpdate(status string) {
	if m == nil {
		return
	}
	m.PollerUpdates.WithLabelValues(status).Inc()
}
