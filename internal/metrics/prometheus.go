// Package metrics exports sync engine activity to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/reconcile"
)

const namespace = "bufsync"

// Reference kinds counted by bufsync_reconciled_references_total.
const (
	KindCommand = "command"
	KindRecord  = "record"
	KindLookup  = "lookup"
	KindFile    = "file"
)

// Prometheus implements engine.MetricsRecorder.
type Prometheus struct {
	commands   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	backlog    prometheus.Gauge
	references *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on reg. A nil reg
// selects prometheus.DefaultRegisterer. Collectors already registered on reg
// are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing one command, including reconciliation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backlog",
			Help:      "Runnable commands (Pending, Delayed, Failed) in the log.",
		}),
		references: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_references_total",
			Help:      "References rewritten by identity reconciliation, by kind.",
		}, []string{"kind"}),
	}

	var err error
	if p.commands, err = register(reg, p.commands); err != nil {
		return nil, err
	}
	if p.duration, err = register(reg, p.duration); err != nil {
		return nil, err
	}
	if p.backlog, err = register(reg, p.backlog); err != nil {
		return nil, err
	}
	if p.references, err = register(reg, p.references); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveCommand counts one executed command.
func (p *Prometheus) ObserveCommand(action ir.Action, outcome string, d time.Duration) {
	p.commands.WithLabelValues(string(action), outcome).Inc()
	p.duration.WithLabelValues(string(action)).Observe(d.Seconds())
}

// ObserveBacklog sets the backlog gauge.
func (p *Prometheus) ObserveBacklog(n int) {
	p.backlog.Set(float64(n))
}

// ObserveReconcile adds one reconciliation's rewrites.
func (p *Prometheus) ObserveReconcile(rep reconcile.Report) {
	p.references.WithLabelValues(KindCommand).Add(float64(rep.Commands))
	p.references.WithLabelValues(KindRecord).Add(float64(rep.Records))
	p.references.WithLabelValues(KindLookup).Add(float64(rep.Lookups))
	p.references.WithLabelValues(KindFile).Add(float64(rep.Files))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
// A nil g selects prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
