package adjoint

import (
	"fmt"
	"math"

	"github.com/san-kum/daesim/internal/checkpoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

var crur = math.Cbrt(math.Nextafter(1, 2) - 1)

// partials holds the forward linearization at one forward time.
type partials struct {
	t       float64
	x, xdot []float64
	fx, fxd *mat.Dense
	dfxd    *mat.Dense
	fp      *mat.Dense
	gx, gp  []float64
	a       *mat.Dense // F_x - d(F_ẋ)/dt
	valid   bool
}

// backwardSystem is the adjoint DAE in reversed time τ = tf - t with
// unknown μ(τ) = λ(tf - τ):
//
//	F_ẋᵀ·μ' + (F_x - d(F_ẋ)/dt)ᵀ·μ - g_xᵀ = 0
//
// Its quadratures are g_p - F_pᵀ·μ.
type backwardSystem struct {
	prob  dae.Problem
	p     []float64
	cp    *checkpoint.Manager
	obs   dae.Observer
	exact bool
	// constMass skips differentiating F_ẋ along the trajectory.
	constMass bool
	precond   bool
	pretype   linsol.PreType

	n, np int
	tf    float64
	t0    float64
	mask  []bool

	quad dae.Quadrature
	wq   []float64

	cur      partials
	jacEvals int
}

func newBackwardSystem(prob dae.Problem, p []float64, cp *checkpoint.Manager, wq []float64, t0, tf float64, cfg Config) *backwardSystem {
	d := prob.Dims()
	b := &backwardSystem{
		prob:    prob,
		p:       p,
		cp:      cp,
		obs:     cfg.Observer,
		exact:   cfg.ExactJacobian,
		precond: cfg.Precondition,
		pretype: cfg.PreType,
		n:       d.States,
		np:      d.Params,
		t0:      t0,
		tf:      tf,
	}
	if cm, ok := prob.(dae.ConstantMass); ok {
		b.constMass = cm.ConstantMass()
	}
	if q, ok := prob.(dae.Quadrature); ok && len(wq) > 0 {
		b.quad = q
		b.wq = wq
	}
	n, np := b.n, b.np
	b.cur = partials{
		x:    make([]float64, n),
		xdot: make([]float64, n),
		fx:   mat.NewDense(n, n, nil),
		fxd:  mat.NewDense(n, n, nil),
		dfxd: mat.NewDense(n, n, nil),
		a:    mat.NewDense(n, n, nil),
		gx:   make([]float64, n),
		gp:   make([]float64, max(np, 1)),
	}
	if np > 0 {
		b.cur.fp = mat.NewDense(n, np, nil)
	}
	return b
}

func (b *backwardSystem) forwardTime(tau float64) float64 {
	return b.tf - tau
}

func (b *backwardSystem) Dim() int             { return b.n }
func (b *backwardSystem) Differential() []bool { return b.mask }
func (b *backwardSystem) NumQuad() int         { return b.np }

// massRows marks the rows of F_ẋ at tf that are not identically zero; those
// are the differential components of μ.
func (b *backwardSystem) massRows() ([]bool, error) {
	if err := b.linearize(b.tf); err != nil {
		return nil, err
	}
	mask := make([]bool, b.n)
	for i := 0; i < b.n; i++ {
		for j := 0; j < b.n; j++ {
			if b.cur.fxd.At(i, j) != 0 {
				mask[i] = true
				break
			}
		}
	}
	b.mask = mask
	return mask, nil
}

// consistentStart completes the terminal point: given the differential
// components of mu it solves the algebraic equations of the adjoint system at
// tf for the algebraic components (written into mu) and returns mu' for the
// differential ones. It needs the linearization left by massRows.
func (b *backwardSystem) consistentStart(mu []float64) ([]float64, error) {
	n := b.n
	c := &b.cur
	mup := make([]float64, n)

	var rIdx, aIdx, cIdx, eIdx []int
	for i := 0; i < n; i++ {
		if b.mask[i] {
			rIdx = append(rIdx, i)
		} else {
			aIdx = append(aIdx, i)
		}
		col := false
		for k := 0; k < n; k++ {
			if c.fxd.At(k, i) != 0 {
				col = true
				break
			}
		}
		if col {
			cIdx = append(cIdx, i)
		} else {
			eIdx = append(eIdx, i)
		}
	}

	// Equations without μ' terms: Σ_{i∉R} a[i][j]·μ_i = g_x[j] - Σ_{i∈R} a[i][j]·μ_i.
	if len(aIdx) > 0 && len(eIdx) > 0 {
		m := mat.NewDense(len(eIdx), len(aIdx), nil)
		rhs := mat.NewVecDense(len(eIdx), nil)
		for r, j := range eIdx {
			v := c.gx[j]
			for _, i := range rIdx {
				v -= c.a.At(i, j) * mu[i]
			}
			rhs.SetVec(r, v)
			for k, i := range aIdx {
				m.Set(r, k, c.a.At(i, j))
			}
		}
		sol, err := solveLSQ(m, rhs)
		if err != nil {
			return nil, fmt.Errorf("%w: adjoint algebraic start: %v", dae.ErrInitialization, err)
		}
		for k, i := range aIdx {
			mu[i] = sol.AtVec(k)
		}
	}

	// Remaining equations give μ' on the differential components.
	if len(rIdx) > 0 && len(cIdx) > 0 {
		m := mat.NewDense(len(cIdx), len(rIdx), nil)
		rhs := mat.NewVecDense(len(cIdx), nil)
		for r, j := range cIdx {
			v := c.gx[j]
			for i := 0; i < n; i++ {
				v -= c.a.At(i, j) * mu[i]
			}
			rhs.SetVec(r, v)
			for k, i := range rIdx {
				m.Set(r, k, c.fxd.At(i, j))
			}
		}
		sol, err := solveLSQ(m, rhs)
		if err != nil {
			return nil, fmt.Errorf("%w: adjoint derivative start: %v", dae.ErrInitialization, err)
		}
		for k, i := range rIdx {
			mup[i] = sol.AtVec(k)
		}
	}
	return mup, nil
}

// linearize refreshes the cached partials at forward time t.
func (b *backwardSystem) linearize(t float64) error {
	if b.cur.valid && b.cur.t == t {
		return nil
	}
	c := &b.cur
	c.valid = false
	if err := b.cp.Reconstruct(t, c.x, c.xdot); err != nil {
		return err
	}
	b.jacEvals++
	if err := dae.Partials(b.prob, b.exact, t, c.x, c.xdot, b.p, c.fx, c.fxd); err != nil {
		return err
	}
	if err := b.massRate(t); err != nil {
		return err
	}
	c.a.Sub(c.fx, c.dfxd)
	if b.np > 0 {
		if err := dae.ParamPartials(b.prob, t, c.x, c.xdot, b.p, c.fp); err != nil {
			return err
		}
	}
	if err := b.costGradient(t, c.x); err != nil {
		return err
	}
	c.t = t
	c.valid = true
	return nil
}

// massRate approximates d(F_ẋ)/dt by central differences along the
// reconstructed trajectory, one-sided at the ends of the span.
func (b *backwardSystem) massRate(t float64) error {
	d := b.cur.dfxd
	if b.constMass {
		d.Zero()
		return nil
	}
	h := crur * math.Max(1, b.tf-b.t0)
	lo := math.Max(b.t0, t-h)
	hi := math.Min(b.tf, t+h)
	if hi <= lo {
		d.Zero()
		return nil
	}
	n := b.n
	x := make([]float64, n)
	xd := make([]float64, n)
	fx := mat.NewDense(n, n, nil)
	mlo := mat.NewDense(n, n, nil)
	mhi := mat.NewDense(n, n, nil)
	if err := b.cp.Reconstruct(lo, x, xd); err != nil {
		return err
	}
	if err := dae.Partials(b.prob, b.exact, lo, x, xd, b.p, fx, mlo); err != nil {
		return err
	}
	if err := b.cp.Reconstruct(hi, x, xd); err != nil {
		return err
	}
	if err := dae.Partials(b.prob, b.exact, hi, x, xd, b.p, fx, mhi); err != nil {
		return err
	}
	d.Sub(mhi, mlo)
	d.Scale(1/(hi-lo), d)
	return nil
}

// costGradient fills g_x and g_p for g = wqᵀ·fq by central differences.
func (b *backwardSystem) costGradient(t float64, x []float64) error {
	c := &b.cur
	for i := range c.gx {
		c.gx[i] = 0
	}
	for i := range c.gp {
		c.gp[i] = 0
	}
	if b.quad == nil {
		return nil
	}
	g := func(x, p []float64) (float64, error) {
		q := make([]float64, len(b.wq))
		if err := b.quad.Quadrature(t, x, p, q); err != nil {
			return 0, err
		}
		s := 0.0
		for i, w := range b.wq {
			s += w * q[i]
		}
		return s, nil
	}
	xs := append([]float64(nil), x...)
	for i := range xs {
		h := crur * math.Max(1, math.Abs(x[i]))
		xs[i] = x[i] + h
		gp, err := g(xs, b.p)
		if err != nil {
			return err
		}
		xs[i] = x[i] - h
		gm, err := g(xs, b.p)
		if err != nil {
			return err
		}
		xs[i] = x[i]
		c.gx[i] = (gp - gm) / (2 * h)
	}
	ps := append([]float64(nil), b.p...)
	for j := range ps {
		h := crur * math.Max(1, math.Abs(b.p[j]))
		ps[j] = b.p[j] + h
		gp, err := g(x, ps)
		if err != nil {
			return err
		}
		ps[j] = b.p[j] - h
		gm, err := g(x, ps)
		if err != nil {
			return err
		}
		ps[j] = b.p[j]
		c.gp[j] = (gp - gm) / (2 * h)
	}
	return nil
}

func (b *backwardSystem) Residual(tau float64, mu, mup, res []float64) error {
	b.obs.OnProbe(dae.ProbeResB, tau)
	if err := b.linearize(b.forwardTime(tau)); err != nil {
		return err
	}
	c := &b.cur
	for j := 0; j < b.n; j++ {
		v := -c.gx[j]
		for i := 0; i < b.n; i++ {
			v += c.fxd.At(i, j)*mup[i] + c.a.At(i, j)*mu[i]
		}
		res[j] = v
	}
	return nil
}

func (b *backwardSystem) QuadRHS(tau float64, mu, _, qdot []float64) error {
	b.obs.OnProbe(dae.ProbeRhsQB, tau)
	if err := b.linearize(b.forwardTime(tau)); err != nil {
		return err
	}
	c := &b.cur
	for k := 0; k < b.np; k++ {
		v := c.gp[k]
		for i := 0; i < b.n; i++ {
			v -= c.fp.At(i, k) * mu[i]
		}
		qdot[k] = v
	}
	return nil
}

// Linearize assembles (F_x - d(F_ẋ)/dt + c·F_ẋ)ᵀ at the forward time.
func (b *backwardSystem) Linearize(tau float64, _, _ []float64, c float64) linsol.Operator {
	op := &backwardOperator{sys: b, tau: tau, c: c}
	op.err = b.linearize(b.forwardTime(tau))
	if op.err == nil {
		n := b.n
		op.m = mat.NewDense(n, n, nil)
		op.m.Scale(c, b.cur.fxd)
		op.m.Add(op.m, b.cur.a)
		op.m = mat.DenseCopyOf(op.m.T())
	}
	return op
}

type backwardOperator struct {
	sys    *backwardSystem
	tau, c float64
	m      *mat.Dense
	err    error
}

func (o *backwardOperator) Dim() int   { return o.sys.n }
func (o *backwardOperator) T() float64 { return o.tau }
func (o *backwardOperator) C() float64 { return o.c }

func (o *backwardOperator) Dense(dst *mat.Dense) error {
	o.sys.obs.OnProbe(dae.ProbeBJacB, o.tau)
	if o.err != nil {
		return o.err
	}
	dst.Copy(o.m)
	return nil
}

func (o *backwardOperator) Band(dst *mat.BandDense) error {
	o.sys.obs.OnProbe(dae.ProbeBJacB, o.tau)
	if o.err != nil {
		return o.err
	}
	n := o.sys.n
	kl, ku := dst.Bandwidth()
	for i := 0; i < n; i++ {
		for j := max(0, i-kl); j <= min(n-1, i+ku); j++ {
			dst.SetBand(i, j, o.m.At(i, j))
		}
	}
	return nil
}

func (o *backwardOperator) MulVec(dst, v []float64) error {
	o.sys.obs.OnProbe(dae.ProbeJTimesB, o.tau)
	if o.err != nil {
		return o.err
	}
	mat.NewVecDense(len(dst), dst).MulVec(o.m, mat.NewVecDense(len(v), v))
	return nil
}

func (o *backwardOperator) Prec() linsol.Preconditioner {
	if !o.sys.precond {
		return nil
	}
	return &observedPrec{
		inner: linsol.NewJacobi(o, o.sys.pretype),
		obs:   o.sys.obs,
		tau:   o.tau,
	}
}

// observedPrec reports the backward preconditioner calls.
type observedPrec struct {
	inner linsol.Preconditioner
	obs   dae.Observer
	tau   float64
}

func (p *observedPrec) Setup() error {
	p.obs.OnProbe(dae.ProbePSetupB, p.tau)
	return p.inner.Setup()
}

func (p *observedPrec) Solve(dst, r []float64, side linsol.Side) error {
	p.obs.OnProbe(dae.ProbePSolveB, p.tau)
	return p.inner.Solve(dst, r, side)
}
