package integrator

import (
	"math"

	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

// forwardSystem adapts a Problem with fixed parameters to the stepper. It
// also carries the sensitivity residuals for the selected parameters and the
// forward quadratures.
type forwardSystem struct {
	prob dae.Problem
	p    []float64
	n    int
	mask []bool

	jac  dae.Jacobian
	prec dae.Preconditioner
	obs  dae.Observer

	params  []int
	scale   []float64
	sensRes dae.SensitivityResidual
	relTol  float64

	quad dae.Quadrature
	nq   int

	jacEvals int

	pp, plus, minus, xs, xds []float64
}

type forwardConfig struct {
	exact      bool
	precond    bool
	params     []int
	scale      []float64
	finiteDiff bool
	relTol     float64
	sens       bool
}

func newForwardSystem(prob dae.Problem, p []float64, obs dae.Observer, cfg forwardConfig) *forwardSystem {
	d := prob.Dims()
	f := &forwardSystem{
		prob:   prob,
		p:      p,
		n:      d.States,
		mask:   d.Differential,
		obs:    obs,
		relTol: cfg.relTol,
		nq:     d.Quads,
	}
	if j, ok := prob.(dae.Jacobian); ok && cfg.exact {
		f.jac = j
	}
	if pc, ok := prob.(dae.Preconditioner); ok && cfg.precond {
		f.prec = pc
	}
	if q, ok := prob.(dae.Quadrature); ok && d.Quads > 0 {
		f.quad = q
	} else {
		f.nq = 0
	}
	if cfg.sens {
		f.params = cfg.params
		f.scale = cfg.scale
		if sr, ok := prob.(dae.SensitivityResidual); ok && !cfg.finiteDiff {
			f.sensRes = sr
		}
	}
	f.pp = append([]float64(nil), p...)
	f.plus = make([]float64, f.n)
	f.minus = make([]float64, f.n)
	f.xs = make([]float64, f.n)
	f.xds = make([]float64, f.n)
	return f
}

func (f *forwardSystem) Dim() int             { return f.n }
func (f *forwardSystem) Differential() []bool { return f.mask }
func (f *forwardSystem) NumSens() int         { return len(f.params) }
func (f *forwardSystem) NumQuad() int         { return f.nq }

func (f *forwardSystem) Residual(t float64, y, yp, res []float64) error {
	f.obs.OnProbe(dae.ProbeRes, t)
	return f.prob.Residual(t, y, yp, f.p, res)
}

func (f *forwardSystem) residualFunc() dae.ResidualFunc {
	return func(t float64, y, yp, res []float64) error {
		return f.prob.Residual(t, y, yp, f.p, res)
	}
}

// SensResidual evaluates F_x·s + F_ẋ·ṡ + F_p·e_j for sensitivity is. Without
// an analytic residual it takes one centered directional difference in
// (x, ẋ, p) jointly.
func (f *forwardSystem) SensResidual(t float64, y, yp, s, sp []float64, is int, res []float64) error {
	f.obs.OnProbe(dae.ProbeResS, t)
	param := f.params[is]
	if f.sensRes != nil {
		return f.sensRes.SensitivityResidual(t, y, yp, f.p, s, sp, param, res)
	}

	pbar := math.Abs(f.scale[is])
	snorm := 0.0
	for i := range s {
		snorm = math.Max(snorm, math.Max(math.Abs(s[i]), math.Abs(sp[i])))
	}
	delta := math.Sqrt(math.Max(f.relTol, uround))
	sigma := delta * pbar / math.Max(1, pbar*snorm)

	eval := func(sign float64, out []float64) error {
		for i := range y {
			f.xs[i] = y[i] + sign*sigma*s[i]
			f.xds[i] = yp[i] + sign*sigma*sp[i]
		}
		f.pp[param] = f.p[param] + sign*sigma
		return f.prob.Residual(t, f.xs, f.xds, f.pp, out)
	}
	defer func() { f.pp[param] = f.p[param] }()
	if err := eval(1, f.plus); err != nil {
		return err
	}
	if err := eval(-1, f.minus); err != nil {
		return err
	}
	for i := range res {
		res[i] = (f.plus[i] - f.minus[i]) / (2 * sigma)
	}
	return nil
}

func (f *forwardSystem) QuadRHS(t float64, y, _, qdot []float64) error {
	return f.quad.Quadrature(t, y, f.p, qdot)
}

// Linearize captures copies of y and yp; the stepper reuses its buffers.
func (f *forwardSystem) Linearize(t float64, y, yp []float64, c float64) linsol.Operator {
	return &forwardOperator{
		sys: f,
		t:   t,
		c:   c,
		y:   append([]float64(nil), y...),
		yp:  append([]float64(nil), yp...),
	}
}

var uround = math.Nextafter(1, 2) - 1

type forwardOperator struct {
	sys   *forwardSystem
	t, c  float64
	y, yp []float64
	f0    []float64
	m     *mat.Dense
}

func (o *forwardOperator) Dim() int   { return o.sys.n }
func (o *forwardOperator) T() float64 { return o.t }
func (o *forwardOperator) C() float64 { return o.c }

func (o *forwardOperator) base() ([]float64, error) {
	if o.f0 != nil {
		return o.f0, nil
	}
	f0 := make([]float64, o.sys.n)
	if err := o.sys.prob.Residual(o.t, o.y, o.yp, o.sys.p, f0); err != nil {
		return nil, err
	}
	o.f0 = f0
	return f0, nil
}

func (o *forwardOperator) Dense(dst *mat.Dense) error {
	o.sys.jacEvals++
	if o.sys.jac != nil {
		return o.sys.jac.Jacobian(o.t, o.y, o.yp, o.sys.p, o.c, dst)
	}
	f0, err := o.base()
	if err != nil {
		return err
	}
	return dae.DenseDQ(o.sys.residualFunc(), o.t, o.y, o.yp, f0, o.c, dst)
}

func (o *forwardOperator) Band(dst *mat.BandDense) error {
	if o.sys.jac != nil {
		full := mat.NewDense(o.sys.n, o.sys.n, nil)
		if err := o.Dense(full); err != nil {
			return err
		}
		kl, ku := dst.Bandwidth()
		for i := 0; i < o.sys.n; i++ {
			for j := max(0, i-kl); j <= min(o.sys.n-1, i+ku); j++ {
				dst.SetBand(i, j, full.At(i, j))
			}
		}
		return nil
	}
	o.sys.jacEvals++
	f0, err := o.base()
	if err != nil {
		return err
	}
	return dae.BandDQ(o.sys.residualFunc(), o.t, o.y, o.yp, f0, o.c, dst)
}

// MulVec uses the exact matrix when the problem has one and a directional
// difference otherwise.
func (o *forwardOperator) MulVec(dst, v []float64) error {
	if o.sys.jac != nil {
		if o.m == nil {
			o.m = mat.NewDense(o.sys.n, o.sys.n, nil)
			if err := o.Dense(o.m); err != nil {
				o.m = nil
				return err
			}
		}
		mat.NewVecDense(len(dst), dst).MulVec(o.m, mat.NewVecDense(len(v), v))
		return nil
	}
	f0, err := o.base()
	if err != nil {
		return err
	}
	return dae.JacVecDQ(o.sys.residualFunc(), o.t, o.y, o.yp, f0, o.c, v, dst)
}

func (o *forwardOperator) Prec() linsol.Preconditioner {
	if o.sys.prec == nil {
		return nil
	}
	return &problemPrec{
		prob: o.sys.prec,
		obs:  o.sys.obs,
		t:    o.t,
		c:    o.c,
		y:    o.y,
		yp:   o.yp,
		p:    o.sys.p,
	}
}

// problemPrec forwards to the problem's preconditioner at a fixed point.
type problemPrec struct {
	prob  dae.Preconditioner
	obs   dae.Observer
	t, c  float64
	y, yp []float64
	p     []float64
}

func (pc *problemPrec) Setup() error {
	pc.obs.OnProbe(dae.ProbePSetup, pc.t)
	return pc.prob.PrecSetup(pc.t, pc.y, pc.yp, pc.p, pc.c)
}

func (pc *problemPrec) Solve(dst, r []float64, side linsol.Side) error {
	return pc.prob.PrecSolve(pc.t, r, dst, side)
}
