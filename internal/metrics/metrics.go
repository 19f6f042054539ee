// Package metrics exposes the engine's operational counters via
// prometheus/client_golang, following the Namespace/Subsystem grouping
// wyfcoding-financialTrading's pkg/metrics uses for its own Counter/Gauge
// set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics is the fixed set of counters the matching engine updates.
type Metrics struct {
	CommandsTotal   *prometheus.CounterVec
	TradesTotal     prometheus.Counter
	QueueDepth      prometheus.Gauge
	CommandDuration *prometheus.HistogramVec
}

// New constructs and registers Metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fenrir",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Commands processed by the matching engine, by command and outcome.",
		}, []string{"command", "outcome"}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fenrir",
			Subsystem: "engine",
			Name:      "trades_total",
			Help:      "Trades emitted by the matcher.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fenrir",
			Subsystem: "engine",
			Name:      "command_queue_depth",
			Help:      "Commands currently queued for the writer.",
		}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fenrir",
			Subsystem: "engine",
			Name:      "command_duration_seconds",
			Help:      "End-to-end command latency, by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
	reg.MustRegister(m.CommandsTotal, m.TradesTotal, m.QueueDepth, m.CommandDuration)
	return m
}

// Handler returns the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
