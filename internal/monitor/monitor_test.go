package monitor

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/san-kum/daesim/internal/dae"
)

type recorder struct {
	probes []dae.Probe
	steps  int
}

func (r *recorder) OnProbe(p dae.Probe, _ float64) { r.probes = append(r.probes, p) }
func (r *recorder) OnStep(dae.StepEvent)           { r.steps++ }

func TestListFansOut(t *testing.T) {
	g := NewWithT(t)
	a, b := &recorder{}, &recorder{}
	l := List{a, b}
	l.OnProbe(dae.ProbeRes, 0)
	l.OnProbe(dae.ProbeResB, 1)
	l.OnStep(dae.StepEvent{})
	g.Expect(a.probes).To(Equal([]dae.Probe{dae.ProbeRes, dae.ProbeResB}))
	g.Expect(b.probes).To(Equal(a.probes))
	g.Expect(a.steps).To(Equal(1))
	g.Expect(b.steps).To(Equal(1))
}

func TestCounter(t *testing.T) {
	g := NewWithT(t)
	reg := prometheus.NewRegistry()
	c, err := NewCounter(reg)
	g.Expect(err).NotTo(HaveOccurred())

	c.OnProbe(dae.ProbeRes, 0)
	c.OnProbe(dae.ProbeRes, 0.1)
	c.OnProbe(dae.ProbeJTimesB, 0.2)
	c.OnStep(dae.StepEvent{Direction: dae.Forward, H: 0.01})
	c.OnStep(dae.StepEvent{Direction: dae.Backward, H: 0.02})
	c.OnStep(dae.StepEvent{Direction: dae.Backward, H: 0.02})

	g.Expect(testutil.ToFloat64(c.probes.WithLabelValues("res"))).To(Equal(2.0))
	g.Expect(testutil.ToFloat64(c.probes.WithLabelValues("jtimesB"))).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(c.steps.WithLabelValues("forward"))).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(c.steps.WithLabelValues("backward"))).To(Equal(2.0))

	_, err = NewCounter(reg)
	g.Expect(err).To(HaveOccurred())
}

func TestLogging(t *testing.T) {
	g := NewWithT(t)
	var buf bytes.Buffer
	l := Logging{Logger: log.NewLogfmtLogger(&buf)}
	l.OnProbe(dae.ProbeRes, 0)
	g.Expect(buf.Len()).To(Equal(0))
	l.OnStep(dae.StepEvent{Direction: dae.Backward, Step: 3, T: 0.5, H: 0.1, Order: 2})
	g.Expect(buf.String()).To(ContainSubstring("direction=backward"))
	g.Expect(buf.String()).To(ContainSubstring("step=3"))

	buf.Reset()
	l.Probes = true
	l.OnProbe(dae.ProbeRhsQB, 0)
	g.Expect(buf.String()).To(ContainSubstring("probe=rhsQB"))
}
