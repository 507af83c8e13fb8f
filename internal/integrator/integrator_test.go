package integrator

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"

	"github.com/go-kit/log"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/daesim/internal/adjoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"github.com/san-kum/daesim/internal/options"
	"github.com/san-kum/daesim/internal/problems"
	"gonum.org/v1/gonum/mat"
)

type probeCounter struct {
	mu     sync.Mutex
	probes map[dae.Probe]int
	steps  map[dae.Direction]int
}

func newProbeCounter() *probeCounter {
	return &probeCounter{probes: make(map[dae.Probe]int), steps: make(map[dae.Direction]int)}
}

func (c *probeCounter) OnProbe(p dae.Probe, _ float64) {
	c.mu.Lock()
	c.probes[p]++
	c.mu.Unlock()
}

func (c *probeCounter) OnStep(ev dae.StepEvent) {
	c.mu.Lock()
	c.steps[ev.Direction]++
	c.mu.Unlock()
}

func tight() *options.Options {
	o := options.DefaultOptions()
	o.RelTol = 1e-10
	o.AbsTol = 1e-10
	return o
}

func run(prob dae.Problem, o *options.Options, in Input, opts ...Option) *Result {
	GinkgoHelper()
	it, err := New(prob, o, opts...)
	Expect(err).NotTo(HaveOccurred())
	res, err := it.Run(context.Background(), in)
	Expect(err).NotTo(HaveOccurred())
	return res
}

func linearInput(p []float64, tf float64) Input {
	return Input{Tf: tf, X0: problems.NewLinear().Start(p), P: p}
}

var _ = Describe("Forward integration", func() {
	It("solves the sine DAE to the analytic solution", func() {
		sine := problems.NewSine()
		res := run(sine, tight(), Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, Grid: []float64{0.25, 0.5, 0.75}})

		Expect(res.Times).To(Equal([]float64{0, 0.25, 0.5, 0.75, 1}))
		for k, t := range res.Times {
			want := sine.Solution(t, []float64{1})
			Expect(res.States[k][0]).To(BeNumerically("~", want[0], 1e-6), "t=%g", t)
			Expect(res.States[k][1]).To(BeNumerically("~", want[1], 1e-6), "t=%g", t)
		}
		Expect(res.Final()[0]).To(BeNumerically("~", 1-math.Cos(1), 1e-6))
		Expect(res.Furthest).To(Equal(1.0))
		Expect(res.Stats.Steps).To(BeNumerically(">", 0))
	})

	It("tracks the linear solution and its quadrature", func() {
		lin := problems.NewLinear()
		p := []float64{1, 0.5, 2}
		o := options.DefaultOptions()
		o.RelTol, o.AbsTol = 1e-8, 1e-10
		res := run(lin, o, linearInput(p, 2))

		want := lin.Solution(2, p)
		Expect(res.Final()[0]).To(BeNumerically("~", want[0], 1e-6))
		Expect(res.Final()[1]).To(BeNumerically("~", want[1], 1e-6))
		Expect(res.Quadratures).To(HaveLen(2))
		Expect(res.Quadratures[1][0]).To(BeNumerically("~", lin.Integral(2, p), 1e-6))
	})

	It("gives the same trajectory with a diagonal band as with the dense solver", func() {
		d := problems.NewDecay(4)
		in := Input{Tf: 2, X0: d.Start(), P: d.Rates(), Grid: []float64{0.5, 1, 1.5}}
		dense := run(d, options.DefaultOptions(), in)

		o := options.DefaultOptions()
		o.LinearSolverType = "banded"
		o.LowerBandwidth, o.UpperBandwidth = options.Ptr(0), options.Ptr(0)
		banded := run(d, o, in)

		Expect(banded.Times).To(Equal(dense.Times))
		for k := range dense.States {
			for i := range dense.States[k] {
				Expect(banded.States[k][i]).To(BeNumerically("~", dense.States[k][i], 1e-10))
			}
		}
		exact := d.Solution(2, d.Start(), d.Rates())
		for i := range exact {
			Expect(dense.Final()[i]).To(BeNumerically("~", exact[i], 1e-5))
		}
	})

	It("matches the dense solver with preconditioned GMRES on the heat problem", func() {
		h := problems.NewHeat(20)
		p := []float64{0.1, 0}
		in := Input{Tf: 1, X0: h.Start(p), P: p}
		dense := run(h, options.DefaultOptions(), in)

		obs := newProbeCounter()
		o := options.GetPreset("krylov")
		krylov := run(h, o, in, WithObserver(obs))

		for i := range dense.Final() {
			Expect(krylov.Final()[i]).To(BeNumerically("~", dense.Final()[i], 1e-4))
		}
		Expect(obs.probes[dae.ProbePSetup]).To(BeNumerically(">", 0))
		Expect(obs.probes[dae.ProbeRes]).To(BeNumerically(">", 0))
		Expect(obs.steps[dae.Forward]).To(Equal(krylov.Stats.Steps))
	})

	It("is bit-for-bit reproducible", func() {
		lin := problems.NewLinear()
		p := []float64{0.3, 1.1, 1.5}
		in := linearInput(p, 2)
		in.Sensitivities = true
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}, Q: []float64{1}}
		a := run(lin, options.DefaultOptions(), in)
		b := run(lin, options.DefaultOptions(), in)
		Expect(a.States).To(Equal(b.States))
		Expect(a.Sensitivities).To(Equal(b.Sensitivities))
		Expect(a.Gradient).To(Equal(b.Gradient))
		Expect(a.StatsMap()).To(Equal(b.StatsMap()))
	})

	It("honors first_time as an extra output", func() {
		o := options.DefaultOptions()
		o.FirstTime = options.Ptr(0.1)
		res := run(problems.NewSine(), o, Input{Tf: 2, X0: []float64{0, 0}, P: []float64{1}})
		Expect(res.Times).To(Equal([]float64{0, 0.2, 2}))
	})
})

var _ = Describe("Failures", func() {
	It("reports too much work with a partial result", func() {
		o := options.DefaultOptions()
		o.MaxNumSteps = 1
		it, err := New(problems.NewSine(), o)
		Expect(err).NotTo(HaveOccurred())
		res, err := it.Run(context.Background(), Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}})
		Expect(errors.Is(err, dae.ErrStepFailure)).To(BeTrue())
		Expect(errors.Is(err, dae.ErrTooMuchWork)).To(BeTrue())
		var ie *dae.IntegrationError
		Expect(errors.As(err, &ie)).To(BeTrue())
		Expect(ie.Direction).To(Equal(dae.Forward))
		Expect(res).NotTo(BeNil())
		Expect(res.Furthest).To(BeNumerically("<", 1))
		Expect(res.LastState).To(HaveLen(2))
	})

	It("stops on a canceled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		it, err := New(problems.NewSine(), nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = it.Run(ctx, Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}})
		Expect(errors.Is(err, dae.ErrCanceled)).To(BeTrue())
	})

	DescribeTable("rejects bad input",
		func(in Input, want error) {
			it, err := New(problems.NewSine(), nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = it.Run(context.Background(), in)
			Expect(errors.Is(err, want)).To(BeTrue(), "got %v", err)
		},
		Entry("short state", Input{Tf: 1, X0: []float64{0}, P: []float64{1}}, dae.ErrDimensionMismatch),
		Entry("missing parameter", Input{Tf: 1, X0: []float64{0, 0}}, dae.ErrDimensionMismatch),
		Entry("empty span", Input{T0: 1, Tf: 1, X0: []float64{0, 0}, P: []float64{1}}, dae.ErrConfig),
		Entry("grid outside span", Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, Grid: []float64{2}}, dae.ErrConfig),
		Entry("unordered grid", Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, Grid: []float64{0.5, 0.4}}, dae.ErrConfig),
		Entry("quadrature seeds", Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, AdjointSeeds: &adjoint.Seeds{Q: []float64{1, 1}}}, dae.ErrDimensionMismatch),
	)

	It("requires a strategy for user-defined solvers", func() {
		o := options.DefaultOptions()
		o.LinearSolverType = "user_defined"
		_, err := New(problems.NewSine(), o)
		Expect(errors.Is(err, dae.ErrConfig)).To(BeTrue())

		ls, err := linsol.New(linsol.Dense{}, 2)
		Expect(err).NotTo(HaveOccurred())
		o.LinearSolverTypeB = options.Ptr("dense")
		res := run(problems.NewSine(), o, Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}}, WithUserSolver(ls, nil))
		Expect(res.Final()[0]).To(BeNumerically("~", 1-math.Cos(1), 1e-4))
	})

	It("drops warnings when internal warnings are disabled", func() {
		for _, disable := range []bool{false, true} {
			var buf bytes.Buffer
			o := options.DefaultOptions()
			o.MaxNumSteps = 1
			o.DisableInternalWarnings = disable
			it, err := New(problems.NewSine(), o, WithLogger(log.NewLogfmtLogger(log.NewSyncWriter(&buf))))
			Expect(err).NotTo(HaveOccurred())
			_, err = it.Run(context.Background(), Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}})
			Expect(err).To(HaveOccurred())
			if disable {
				Expect(buf.String()).NotTo(ContainSubstring("level=warn"))
			} else {
				Expect(buf.String()).To(ContainSubstring("level=warn"))
			}
		}
	})
})

var _ = Describe("Sensitivities", func() {
	lin := problems.NewLinear()
	p := []float64{1, 0.5, 2}
	tf := 1.0

	analytic := func() [][]float64 {
		x := lin.Solution(tf, p)[0]
		return [][]float64{{-tf * x}, {tf * x}, {x / p[2]}}
	}

	DescribeTable("forward sensitivities match the closed form",
		func(method string) {
			o := options.DefaultOptions()
			o.RelTol, o.AbsTol = 1e-8, 1e-10
			o.SensitivityMethod = method
			in := linearInput(p, tf)
			in.Sensitivities = true
			res := run(lin, o, in)

			s := res.Sensitivities[len(res.Sensitivities)-1]
			Expect(s).To(HaveLen(3))
			for j, want := range analytic() {
				Expect(s[j][0]).To(BeNumerically("~", want[0], 1e-5), "param %d", j)
				Expect(s[j][1]).To(BeNumerically("~", p[1]*want[0]+boolTo(j == 1)*lin.Solution(tf, p)[0], 1e-5), "param %d", j)
			}
		},
		Entry("simultaneous", "simultaneous"),
		Entry("staggered", "staggered"),
	)

	It("agrees between staggered and simultaneous corrections", func() {
		in := linearInput(p, tf)
		in.Sensitivities = true
		sim := run(lin, options.DefaultOptions(), in)
		o := options.DefaultOptions()
		o.SensitivityMethod = "staggered"
		stg := run(lin, o, in)
		a := sim.Sensitivities[len(sim.Sensitivities)-1]
		b := stg.Sensitivities[len(stg.Sensitivities)-1]
		for j := range a {
			for i := range a[j] {
				Expect(b[j][i]).To(BeNumerically("~", a[j][i], 1e-5))
			}
		}
	})

	It("limits sensitivities to the selected parameters", func() {
		o := options.DefaultOptions()
		o.FSensSensitivityParameters = []int{2}
		in := linearInput(p, tf)
		in.Sensitivities = true
		res := run(lin, o, in)
		s := res.Sensitivities[len(res.Sensitivities)-1]
		Expect(s).To(HaveLen(1))
		Expect(s[0][0]).To(BeNumerically("~", lin.Solution(tf, p)[0]/p[2], 1e-4))
	})

	It("uses the analytic sensitivity residual of the sine problem", func() {
		obs := newProbeCounter()
		o := tight()
		res := run(problems.NewSine(), o, Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, Sensitivities: true}, WithObserver(obs))
		s := res.Sensitivities[len(res.Sensitivities)-1][0]
		Expect(s[0]).To(BeNumerically("~", 1-math.Cos(1), 1e-6))
		Expect(s[1]).To(BeNumerically("~", math.Sin(1), 1e-6))
		Expect(obs.probes[dae.ProbeResS]).To(BeNumerically(">", 0))
	})
})

func boolTo(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ = Describe("Adjoint", func() {
	lin := problems.NewLinear()
	p := []float64{1, 0.5, 2}
	tf := 1.0

	precise := func() *options.Options {
		o := options.DefaultOptions()
		o.RelTol, o.AbsTol = 1e-9, 1e-11
		return o
	}

	It("computes the terminal-cost gradient", func() {
		in := linearInput(p, tf)
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}}
		res := run(lin, precise(), in)

		xf := lin.Solution(tf, p)[0]
		want := []float64{-tf * xf, tf * xf, xf / p[2]}
		Expect(res.Gradient).To(HaveLen(3))
		for j := range want {
			Expect(res.Gradient[j]).To(BeNumerically("~", want[j], 1e-5*math.Max(1, math.Abs(want[j]))), "param %d", j)
		}
		Expect(res.Lambda0[0]).To(BeNumerically("~", math.Exp((p[1]-p[0])*tf), 1e-5))
		Expect(res.FurthestB).To(Equal(0.0))
		Expect(res.Checkpoints).To(BeNumerically(">", 0))
	})

	It("agrees with forward sensitivities", func() {
		in := linearInput(p, tf)
		in.Sensitivities = true
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}}
		res := run(lin, precise(), in)
		s := res.Sensitivities[len(res.Sensitivities)-1]
		for j := range res.Gradient {
			Expect(res.Gradient[j]).To(BeNumerically("~", s[j][0], 1e-5))
		}
	})

	It("differentiates an integral cost through the quadrature", func() {
		sine := problems.NewSine()
		res := run(sine, tight(), Input{Tf: 1, X0: []float64{0, 0}, P: []float64{2}, AdjointSeeds: &adjoint.Seeds{Q: []float64{1}}})
		// ∫ p²(1-cos t)² dt differentiated in p.
		want := 2 * 2 * (1.5 - 2*math.Sin(1) + math.Sin(2)/4)
		Expect(res.Gradient[0]).To(BeNumerically("~", want, 1e-5))
	})

	It("does not depend on the checkpoint stride", func() {
		in := linearInput(p, tf)
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}, Q: []float64{0.5}}
		dense := precise()
		dense.StepsPerCheckpoint = 1
		sparse := precise()
		sparse.StepsPerCheckpoint = sparse.MaxNumSteps
		a := run(lin, dense, in)
		b := run(lin, sparse, in)
		Expect(a.Gradient).To(Equal(b.Gradient))
		Expect(a.Checkpoints).To(BeNumerically(">", b.Checkpoints))
	})

	It("matches across interpolation types", func() {
		in := linearInput(p, tf)
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}}
		h := run(lin, precise(), in)
		o := precise()
		o.InterpolationType = "polynomial"
		poly := run(lin, o, in)
		for j := range h.Gradient {
			Expect(poly.Gradient[j]).To(BeNumerically("~", h.Gradient[j], 1e-5))
		}
	})

	It("reports per-direction statistics and backward probes", func() {
		obs := newProbeCounter()
		o := precise()
		o.LinearSolverType = "iterative"
		o.UsePreconditioner = true
		o.PreType = "left"
		in := linearInput(p, tf)
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}, Q: []float64{1}}
		res := run(lin, o, in, WithObserver(obs))

		stats := res.StatsMap()
		Expect(stats["nsteps"]).To(Equal(res.Stats.Steps))
		Expect(stats["nstepsB"]).To(Equal(res.StatsB.Steps))
		Expect(stats["nlinsetups"]).To(BeNumerically(">", 0))
		Expect(stats["nlinsetupsB"]).To(BeNumerically(">", 0))
		Expect(obs.steps[dae.Backward]).To(Equal(res.StatsB.Steps))
		for _, pr := range []dae.Probe{dae.ProbeResB, dae.ProbeRhsQB, dae.ProbeJTimesB, dae.ProbePSetupB, dae.ProbePSolveB} {
			Expect(obs.probes[pr]).To(BeNumerically(">", 0), "probe %s", pr)
		}
	})

	It("inherits backward tolerances from the forward ones", func() {
		o := options.DefaultOptions()
		o.AbsTol = 1e-7
		it, err := New(lin, o)
		Expect(err).NotTo(HaveOccurred())
		r := it.Resolved()
		Expect(r.Backward.AbsTol).To(Equal(r.Forward.AbsTol))
		Expect(r.Backward.RelTol).To(Equal(r.Forward.RelTol))
	})

	It("fails the backward pass when its step budget runs out", func() {
		o := precise()
		o.MaxNumStepsB = options.Ptr(2)
		it, err := New(lin, o)
		Expect(err).NotTo(HaveOccurred())
		in := linearInput(p, tf)
		in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}}
		res, err := it.Run(context.Background(), in)
		Expect(errors.Is(err, dae.ErrTooMuchWork)).To(BeTrue())
		var ie *dae.IntegrationError
		Expect(errors.As(err, &ie)).To(BeTrue())
		Expect(ie.Direction).To(Equal(dae.Backward))
		Expect(res.Final()).NotTo(BeNil())
		Expect(res.FurthestB).To(BeNumerically(">", 0))
		Expect(res.StatsB.Steps).To(BeNumerically("<=", 2))
	})
})

// growingMass is (1+t)·x' + p·x = 0, whose mass term changes along the
// trajectory. From x(0) = 1, x(t) = (1+t)^-p.
type growingMass struct{}

func (growingMass) Dims() dae.Dims {
	return dae.Dims{States: 1, Params: 1, Differential: []bool{true}}
}

func (growingMass) Residual(t float64, x, xdot, p, res []float64) error {
	res[0] = (1+t)*xdot[0] + p[0]*x[0]
	return nil
}

func (growingMass) Jacobian(t float64, _, _, p []float64, c float64, jac *mat.Dense) error {
	jac.Set(0, 0, c*(1+t)+p[0])
	return nil
}

func (growingMass) ParamJacobian(_ float64, x, _, _ []float64, dst *mat.Dense) error {
	dst.Set(0, 0, x[0])
	return nil
}

var _ = Describe("Solver settings", func() {
	heatInput := func(h *problems.Heat) Input {
		p := []float64{0.1, 0}
		return Input{Tf: 1, X0: h.Start(p), P: p}
	}

	DescribeTable("every Krylov method matches the dense solver on the heat problem",
		func(method string, precondition bool) {
			h := problems.NewHeat(20)
			in := heatInput(h)
			dense := run(h, options.DefaultOptions(), in)

			o := options.DefaultOptions()
			o.LinearSolverType = "iterative"
			o.IterativeSolver = method
			o.MaxKrylov = 20
			if precondition {
				o.UsePreconditioner = true
				o.PreType = "left"
			}
			krylov := run(h, o, in)
			for i := range dense.Final() {
				Expect(krylov.Final()[i]).To(BeNumerically("~", dense.Final()[i], 1e-4), "cell %d", i)
			}
		},
		Entry("gmres", "gmres", false),
		Entry("bcgstab", "bcgstab", false),
		Entry("tfqmr", "tfqmr", false),
		Entry("preconditioned bcgstab", "bcgstab", true),
		Entry("preconditioned tfqmr", "tfqmr", true),
	)

	It("restarts unpreconditioned GMRES on a finer heat grid", func() {
		h := problems.NewHeat(60)
		in := heatInput(h)
		dense := run(h, options.DefaultOptions(), in)

		o := options.DefaultOptions()
		o.LinearSolverType = "iterative"
		o.IterativeSolver = "gmres"
		krylov := run(h, o, in)
		for i := range dense.Final() {
			Expect(krylov.Final()[i]).To(BeNumerically("~", dense.Final()[i], 1e-3), "cell %d", i)
		}
	})

	It("stays accurate with algebraic components left out of the error test", func() {
		lin := problems.NewLinear()
		p := []float64{1, 0.5, 2}
		o := options.DefaultOptions()
		o.RelTol, o.AbsTol = 1e-8, 1e-10
		o.SuppressAlgebraic = true
		res := run(lin, o, linearInput(p, 2))

		want := lin.Solution(2, p)
		Expect(res.Final()[0]).To(BeNumerically("~", want[0], 1e-5))
		Expect(res.Final()[1]).To(BeNumerically("~", want[1], 1e-5))
	})

	It("solves the sine DAE with and without cj scaling", func() {
		sine := problems.NewSine()
		for _, scaling := range []bool{false, true} {
			o := tight()
			o.CjScaling = scaling
			res := run(sine, o, Input{Tf: 2, X0: []float64{0, 0}, P: []float64{1}})
			want := sine.Solution(2, []float64{1})
			Expect(res.Final()[0]).To(BeNumerically("~", want[0], 1e-6), "cj_scaling=%v", scaling)
			Expect(res.Final()[1]).To(BeNumerically("~", want[1], 1e-6), "cj_scaling=%v", scaling)
		}
	})
})

var _ = Describe("Sensitivity settings", func() {
	It("keeps sensitivities accurate outside the error test", func() {
		lin := problems.NewLinear()
		p := []float64{1, 0.5, 2}
		o := options.DefaultOptions()
		o.RelTol, o.AbsTol = 1e-8, 1e-10
		o.FSensErrCon = false
		in := linearInput(p, 1)
		in.Sensitivities = true
		res := run(lin, o, in)

		x := lin.Solution(1, p)[0]
		s := res.Sensitivities[len(res.Sensitivities)-1]
		for j, want := range []float64{-x, x, x / p[2]} {
			Expect(s[j][0]).To(BeNumerically("~", want, 1e-4), "param %d", j)
		}
	})

	It("differences the sine residual when asked to", func() {
		sine := problems.NewSine()
		in := Input{Tf: 1, X0: []float64{0, 0}, P: []float64{1}, Sensitivities: true}
		analytic := run(sine, tight(), in)

		o := tight()
		o.FiniteDifferenceFSens = true
		fd := run(sine, o, in)

		a := analytic.Sensitivities[len(analytic.Sensitivities)-1][0]
		s := fd.Sensitivities[len(fd.Sensitivities)-1][0]
		Expect(s[0]).To(BeNumerically("~", 1-math.Cos(1), 1e-6))
		Expect(s[1]).To(BeNumerically("~", math.Sin(1), 1e-6))
		Expect(s[0]).To(BeNumerically("~", a[0], 1e-6))
	})
})

var _ = Describe("Adjoint starting point", func() {
	lin := problems.NewLinear()
	p := []float64{1, 0.5, 2}
	tf := 1.0

	precise := func() *options.Options {
		o := options.DefaultOptions()
		o.RelTol, o.AbsTol = 1e-9, 1e-11
		return o
	}

	DescribeTable("the gradient does not depend on calc_icB",
		func(calcICB bool) {
			o := precise()
			o.CalcICB = options.Ptr(calcICB)
			in := linearInput(p, tf)
			in.AdjointSeeds = &adjoint.Seeds{X: []float64{1, 0}, Q: []float64{1}}
			res := run(lin, o, in)

			xf := lin.Solution(tf, p)[0]
			k := p[1] - p[0]
			// d/dp of x(tf) + ∫x with x = x0·exp(k·t).
			dk := tf*xf + p[2]*(math.Exp(k*tf)*(k*tf-1)+1)/(k*k)
			want := []float64{-dk, dk, xf/p[2] + lin.Integral(tf, p)/p[2]}
			for j := range want {
				Expect(res.Gradient[j]).To(BeNumerically("~", want[j], 1e-5*math.Max(1, math.Abs(want[j]))), "param %d", j)
			}
		},
		Entry("computed start", true),
		Entry("supplied start", false),
	)

	It("differentiates the sine quadrature without a consistent-start solve", func() {
		o := tight()
		o.CalcICB = options.Ptr(false)
		res := run(problems.NewSine(), o, Input{Tf: 1, X0: []float64{0, 0}, P: []float64{2}, AdjointSeeds: &adjoint.Seeds{X: []float64{1, 0}, Q: []float64{1}}})
		want := (1 - math.Cos(1)) + 2*2*(1.5-2*math.Sin(1)+math.Sin(2)/4)
		Expect(res.Gradient[0]).To(BeNumerically("~", want, 1e-5))
	})

	It("follows a mass matrix that changes with time", func() {
		pp := []float64{1.5}
		tf := 2.0
		res := run(growingMass{}, precise(), Input{Tf: tf, X0: []float64{1}, P: pp, AdjointSeeds: &adjoint.Seeds{X: []float64{1}}})

		xf := math.Pow(1+tf, -pp[0])
		Expect(res.Final()[0]).To(BeNumerically("~", xf, 1e-6))
		Expect(res.Gradient[0]).To(BeNumerically("~", -math.Log(1+tf)*xf, 1e-5))
	})
})
