package bdf

import (
	"context"
	"errors"
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

// sineSys: x1' = x2, 0 = x2 - p·sin(t), optionally with ∂x/∂p and q' = x2.
type sineSys struct {
	p    float64
	sens bool
	quad bool
}

func (sineSys) Dim() int             { return 2 }
func (sineSys) Differential() []bool { return []bool{true, false} }

func (s sineSys) Residual(t float64, y, yp, res []float64) error {
	res[0] = yp[0] - y[1]
	res[1] = y[1] - s.p*math.Sin(t)
	return nil
}

func (sineSys) Linearize(t float64, y, yp []float64, c float64) linsol.Operator {
	return &linsol.MatrixOperator{M: mat.NewDense(2, 2, []float64{c, -1, 0, 1}), Time: t, Scalar: c}
}

func (s sineSys) NumSens() int {
	if s.sens {
		return 1
	}
	return 0
}

func (sineSys) SensResidual(t float64, y, yp, sv, sp []float64, is int, res []float64) error {
	res[0] = sp[0] - sv[1]
	res[1] = sv[1] - math.Sin(t)
	return nil
}

func (s sineSys) NumQuad() int {
	if s.quad {
		return 1
	}
	return 0
}

func (sineSys) QuadRHS(t float64, y, yp, qdot []float64) error {
	qdot[0] = y[1]
	return nil
}

// decaySys: y' = -y.
type decaySys struct{}

func (decaySys) Dim() int             { return 1 }
func (decaySys) Differential() []bool { return nil }

func (decaySys) Residual(t float64, y, yp, res []float64) error {
	res[0] = yp[0] + y[0]
	return nil
}

func (decaySys) Linearize(t float64, y, yp []float64, c float64) linsol.Operator {
	return &linsol.MatrixOperator{M: mat.NewDense(1, 1, []float64{1 + c}), Time: t, Scalar: c}
}

func newStepper(t *testing.T, sys dae.System, cfg Config, opts ...Option) *Stepper {
	t.Helper()
	ls, err := linsol.New(linsol.Dense{}, sys.Dim())
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(sys, ls, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tight() Config {
	cfg := DefaultConfig()
	cfg.RelTol = 1e-8
	cfg.AbsTol = []float64{1e-8}
	cfg.SensRelTol = 1e-8
	cfg.SensAbsTol = []float64{1e-8}
	cfg.QuadAbsTol = 1e-8
	cfg.QuadErrCon = true
	return cfg
}

func TestDerivWeightsUniformBDF2(t *testing.T) {
	w := derivWeights([]float64{2, 1, 0})
	want := []float64{1.5, -2, 0.5}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-14 {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestLayout(t *testing.T) {
	l := Layout{States: 2, Quads: 1, Sens: 2}
	y := []float64{0, 1, 2, 3, 4, 5, 6}
	if l.Len() != 7 {
		t.Fatalf("Len = %d", l.Len())
	}
	if l.QuadSlice(y)[0] != 2 || l.SensSlice(y, 1)[0] != 5 {
		t.Errorf("bad slices: %v %v", l.QuadSlice(y), l.SensSlice(y, 1))
	}
}

func TestSineDAE(t *testing.T) {
	g := NewWithT(t)
	s := newStepper(t, sineSys{p: 1}, tight())
	g.Expect(s.Phase()).To(Equal(Uninitialized))
	y := []float64{0, 0}
	yp := []float64{0, 0}
	g.Expect(s.Init(0, y, yp, 1)).To(Succeed())
	g.Expect(s.Phase()).To(Equal(Stepping))

	out := make([]float64, 2)
	outp := make([]float64, 2)
	g.Expect(s.Advance(context.Background(), 0.5, out, outp)).To(Succeed())
	g.Expect(out[0]).To(BeNumerically("~", 1-math.Cos(0.5), 1e-6))
	g.Expect(s.Advance(context.Background(), 1, out, outp)).To(Succeed())
	g.Expect(out[0]).To(BeNumerically("~", 1-math.Cos(1), 1e-6))
	g.Expect(out[1]).To(BeNumerically("~", math.Sin(1), 1e-8))
	g.Expect(s.Time()).To(Equal(1.0))
	s.Finish()
	g.Expect(s.Phase()).To(Equal(Completed))

	st := s.Stats()
	g.Expect(st.Steps).To(BeNumerically(">", 10))
	g.Expect(st.LinSetups).To(BeNumerically(">", 0))
}

func TestDecayWithoutStopAtEnd(t *testing.T) {
	g := NewWithT(t)
	cfg := tight()
	cfg.StopAtEnd = false
	s := newStepper(t, decaySys{}, cfg)
	y := []float64{1}
	yp := []float64{0}
	g.Expect(s.Init(0, y, yp, 2)).To(Succeed())
	g.Expect(yp[0]).To(BeNumerically("~", -1, 1e-10))
	out := make([]float64, 1)
	outp := make([]float64, 1)
	g.Expect(s.Advance(context.Background(), 2, out, outp)).To(Succeed())
	g.Expect(out[0]).To(BeNumerically("~", math.Exp(-2), 1e-6))
	g.Expect(outp[0]).To(BeNumerically("~", -math.Exp(-2), 1e-4))
}

func TestSensitivitiesAndQuadrature(t *testing.T) {
	for _, staggered := range []bool{false, true} {
		name := "simultaneous"
		if staggered {
			name = "staggered"
		}
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			cfg := tight()
			cfg.Staggered = staggered
			s := newStepper(t, sineSys{p: 2, sens: true, quad: true}, cfg)
			lay := s.Layout()
			g.Expect(lay).To(Equal(Layout{States: 2, Quads: 1, Sens: 1}))

			y := make([]float64, lay.Len())
			yp := make([]float64, lay.Len())
			g.Expect(s.Init(0, y, yp, 1)).To(Succeed())
			out := make([]float64, lay.Len())
			outp := make([]float64, lay.Len())
			g.Expect(s.Advance(context.Background(), 1, out, outp)).To(Succeed())

			want := 1 - math.Cos(1)
			g.Expect(lay.StateSlice(out)[0]).To(BeNumerically("~", 2*want, 2e-6))
			g.Expect(lay.QuadSlice(out)[0]).To(BeNumerically("~", 2*want, 2e-6))
			g.Expect(lay.SensSlice(out, 0)[0]).To(BeNumerically("~", want, 1e-6))
		})
	}
}

func TestMaxStepsExceeded(t *testing.T) {
	cfg := tight()
	cfg.MaxSteps = 1
	s := newStepper(t, sineSys{p: 1}, cfg)
	y := []float64{0, 0}
	yp := []float64{0, 0}
	if err := s.Init(0, y, yp, 1); err != nil {
		t.Fatal(err)
	}
	err := s.Advance(context.Background(), 1, make([]float64, 2), make([]float64, 2))
	if !errors.Is(err, dae.ErrTooMuchWork) || !errors.Is(err, dae.ErrStepFailure) {
		t.Fatalf("expected step failure, got %v", err)
	}
	var ie *dae.IntegrationError
	if !errors.As(err, &ie) || ie.Time >= 1 {
		t.Fatalf("missing furthest time: %v", err)
	}
	if s.Phase() != Failed {
		t.Errorf("phase = %s", s.Phase())
	}
}

func TestCanceledContext(t *testing.T) {
	s := newStepper(t, decaySys{}, tight())
	if err := s.Init(0, []float64{1}, []float64{0}, 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Advance(ctx, 1, make([]float64, 1), make([]float64, 1))
	if !errors.Is(err, dae.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestDeterministic(t *testing.T) {
	run := func() ([]float64, dae.Stats) {
		s := newStepper(t, sineSys{p: 1, sens: true}, tight())
		y := make([]float64, s.Layout().Len())
		yp := make([]float64, s.Layout().Len())
		if err := s.Init(0, y, yp, 1); err != nil {
			t.Fatal(err)
		}
		out := make([]float64, len(y))
		if err := s.Advance(context.Background(), 1, out, make([]float64, len(y))); err != nil {
			t.Fatal(err)
		}
		return out, s.Stats()
	}
	a, sa := run()
	b, sb := run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	if sa != sb {
		t.Fatalf("stats differ: %+v vs %+v", sa, sb)
	}
}

func TestStepHookAndMaxStep(t *testing.T) {
	g := NewWithT(t)
	cfg := tight()
	cfg.MaxStepSize = 0.05
	var times []float64
	var hs []float64
	s := newStepper(t, decaySys{}, cfg, WithStepHook(func(a Accepted) {
		times = append(times, a.T)
		hs = append(hs, a.H)
	}))
	g.Expect(s.Init(0, []float64{1}, []float64{0}, 1)).To(Succeed())
	g.Expect(s.Advance(context.Background(), 1, make([]float64, 1), make([]float64, 1))).To(Succeed())

	g.Expect(times[0]).To(Equal(0.0))
	g.Expect(times[len(times)-1]).To(Equal(1.0))
	for i := 1; i < len(times); i++ {
		g.Expect(times[i]).To(BeNumerically(">", times[i-1]))
		g.Expect(hs[i]).To(BeNumerically("<=", 0.05*1.0101))
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	s := newStepper(t, decaySys{}, tight())
	if err := s.Init(1, []float64{1}, []float64{0}, 1); !errors.Is(err, dae.ErrConfig) {
		t.Errorf("expected ErrConfig for empty interval, got %v", err)
	}
	s = newStepper(t, decaySys{}, tight())
	if err := s.Init(0, []float64{1, 2}, []float64{0}, 1); !errors.Is(err, dae.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
