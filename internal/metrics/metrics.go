// Package metrics exposes operator activity as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var knownStates = []string{"ready", "running", "terminating", "terminated"}

type Metrics struct {
	Ticks        prometheus.Counter
	Cycles       *prometheus.CounterVec // labels: status=filled|skipped|hold|error
	Retries      prometheus.Counter
	TickDuration prometheus.Histogram
	ReturnPct    prometheus.Gauge
	State        *prometheus.GaugeVec // labels: state, 1 for the current one
}

// New builds the metric set and registers it on reg. A nil reg skips
// registration, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smtm_ticks_total",
			Help: "Operator ticks executed",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smtm_cycles_total",
			Help: "Tick outcomes by status",
		}, []string{"status"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smtm_trader_retries_total",
			Help: "Re-attempts of a decision after a transient trader failure",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smtm_tick_duration_seconds",
			Help:    "Wall time of one tick including retries",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		ReturnPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smtm_return_pct",
			Help: "Cumulative return of the current run in percent",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smtm_operator_state",
			Help: "Current operator state",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.Cycles, m.Retries, m.TickDuration, m.ReturnPct, m.State)
	}
	return m
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCycle(status string) {
	m.Cycles.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRetry() {
	m.Retries.Inc()
}

func (m *Metrics) ObserveScore(returnPct float64) {
	m.ReturnPct.Set(returnPct)
}

func (m *Metrics) ObserveState(state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
