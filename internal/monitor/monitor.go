// Package monitor provides observers for integration runs: fan-out, debug
// logging and Prometheus counters.
package monitor

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/san-kum/daesim/internal/dae"
)

// List fans every notification out to each observer in order.
type List []dae.Observer

func (l List) OnProbe(p dae.Probe, t float64) {
	for _, o := range l {
		o.OnProbe(p, t)
	}
}

func (l List) OnStep(ev dae.StepEvent) {
	for _, o := range l {
		o.OnStep(ev)
	}
}

// Logging writes accepted steps at debug level. Probes are frequent enough
// that they are only logged when Probes is set.
type Logging struct {
	Logger log.Logger
	Probes bool
}

func (l Logging) OnProbe(p dae.Probe, t float64) {
	if l.Probes {
		level.Debug(l.Logger).Log("msg", "probe", "probe", p, "t", t)
	}
}

func (l Logging) OnStep(ev dae.StepEvent) {
	level.Debug(l.Logger).Log("msg", "step", "direction", ev.Direction, "step", ev.Step, "t", ev.T, "h", ev.H, "order", ev.Order)
}

// Counter exports probe and step counts.
type Counter struct {
	probes *prometheus.CounterVec
	steps  *prometheus.CounterVec
	sizes  *prometheus.HistogramVec
}

// NewCounter registers its collectors on reg.
func NewCounter(reg prometheus.Registerer) (*Counter, error) {
	c := &Counter{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daesim",
			Name:      "probe_calls_total",
			Help:      "Callback invocations by probe name.",
		}, []string{"probe"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daesim",
			Name:      "steps_total",
			Help:      "Accepted steps by direction.",
		}, []string{"direction"}),
		sizes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "daesim",
			Name:      "step_size",
			Help:      "Accepted step sizes by direction.",
			Buckets:   prometheus.ExponentialBuckets(1e-8, 10, 10),
		}, []string{"direction"}),
	}
	for _, col := range []prometheus.Collector{c.probes, c.steps, c.sizes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Counter) OnProbe(p dae.Probe, _ float64) {
	c.probes.WithLabelValues(string(p)).Inc()
}

func (c *Counter) OnStep(ev dae.StepEvent) {
	dir := ev.Direction.String()
	c.steps.WithLabelValues(dir).Inc()
	if ev.H > 0 {
		c.sizes.WithLabelValues(dir).Observe(ev.H)
	}
}
