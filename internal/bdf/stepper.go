package bdf

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/ic"
	"github.com/san-kum/daesim/internal/linsol"
)

const (
	epsNewt = 0.33
	// epsLin is the accuracy asked of iterative linear solves, relative
	// to the Newton tolerance.
	epsLin    = 0.05
	rateMax   = 0.9
	maxStale  = 20
	cjRatio   = 0.25
	etaMax    = 2.0
	etaMinErr = 0.25
	etaConv   = 0.25
)

var errNoConvergence = errors.New("bdf: corrector did not converge")

// Accepted describes an accepted step. Y and YP alias stepper storage and
// are only valid during the hook call.
type Accepted struct {
	Step  int
	T     float64
	H     float64
	Order int
	Y     []float64
	YP    []float64
}

type point struct {
	t     float64
	y, yp []float64
}

type Option func(*Stepper)

func WithObserver(o dae.Observer) Option {
	return func(s *Stepper) { s.obs = o }
}

func WithLogger(l log.Logger) Option {
	return func(s *Stepper) { s.logger = l }
}

// WithStepHook registers fn to run after every accepted step.
func WithStepHook(fn func(Accepted)) Option {
	return func(s *Stepper) { s.hook = fn }
}

func WithDirection(d dae.Direction) Option {
	return func(s *Stepper) { s.dir = d }
}

// Stepper advances a System with variable-order, variable-step BDF
// formulas on the grid of accepted points.
type Stepper struct {
	sys  dae.System
	sens dae.SensitivitySystem
	quad dae.QuadratureSystem
	ls   linsol.Strategy
	cfg  Config
	lay  Layout

	n, nq, ns, size int
	mask            []bool
	errMask         []bool
	sensAtol        [][]float64

	phase     Phase
	hist      []point
	t, h      float64
	k         int
	hused     float64
	kused     int
	tstop     float64
	initPhase bool
	nconst    int

	// corrector
	alpha     []float64
	errFactor float64
	cjLast    float64
	jacOK     bool
	sinceJac  int
	ss, ssS   float64

	ewt, ypred, y, yp, beta []float64
	res, delta, errv        []float64
	dd                      [][]float64

	attempts int
	stats    dae.Stats

	obs    dae.Observer
	logger log.Logger
	hook   func(Accepted)
	dir    dae.Direction
}

func New(sys dae.System, ls linsol.Strategy, cfg Config, opts ...Option) (*Stepper, error) {
	if cfg.MaxOrder < 1 || cfg.MaxOrder > 5 {
		return nil, fmt.Errorf("%w: max order %d outside [1, 5]", dae.ErrConfig, cfg.MaxOrder)
	}
	if cfg.MaxSteps < 1 {
		return nil, fmt.Errorf("%w: max steps must be positive", dae.ErrConfig)
	}
	if cfg.MaxNewtonIters < 1 {
		cfg.MaxNewtonIters = 4
	}
	if cfg.MaxConvFails < 1 {
		cfg.MaxConvFails = 10
	}
	if cfg.MaxErrTestFails < 1 {
		cfg.MaxErrTestFails = 10
	}
	if len(cfg.AbsTol) == 0 {
		return nil, fmt.Errorf("%w: missing absolute tolerance", dae.ErrConfig)
	}

	s := &Stepper{
		sys:    sys,
		ls:     ls,
		cfg:    cfg,
		n:      sys.Dim(),
		mask:   sys.Differential(),
		obs:    dae.NopObserver{},
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if q, ok := sys.(dae.QuadratureSystem); ok && q.NumQuad() > 0 {
		s.quad = q
		s.nq = q.NumQuad()
	}
	if ss, ok := sys.(dae.SensitivitySystem); ok && ss.NumSens() > 0 {
		s.sens = ss
		s.ns = ss.NumSens()
	}
	if len(cfg.AbsTol) > 1 && len(cfg.AbsTol) != s.n {
		return nil, fmt.Errorf("%w: %d absolute tolerances for %d states", dae.ErrDimensionMismatch, len(cfg.AbsTol), s.n)
	}
	s.lay = Layout{States: s.n, Quads: s.nq, Sens: s.ns}
	s.size = s.lay.Len()
	if cfg.SuppressAlgebraic && s.mask != nil {
		s.errMask = s.mask
	}

	s.sensAtol = make([][]float64, s.ns)
	for j := range s.sensAtol {
		atol := cfg.SensAbsTol
		if len(atol) == 0 {
			atol = cfg.AbsTol
		}
		scale := 1.0
		if j < len(cfg.SensScale) && cfg.SensScale[j] != 0 {
			scale = math.Abs(cfg.SensScale[j])
		}
		s.sensAtol[j] = make([]float64, len(atol))
		for i, a := range atol {
			s.sensAtol[j][i] = a / scale
		}
	}

	s.ewt = make([]float64, s.size)
	s.ypred = make([]float64, s.size)
	s.y = make([]float64, s.size)
	s.yp = make([]float64, s.size)
	s.beta = make([]float64, s.size)
	s.errv = make([]float64, s.size)
	s.res = make([]float64, s.n)
	s.delta = make([]float64, s.n)
	s.dd = make([][]float64, cfg.MaxOrder+3)
	for i := range s.dd {
		s.dd[i] = make([]float64, s.size)
	}
	return s, nil
}

func (s *Stepper) Layout() Layout   { return s.lay }
func (s *Stepper) Phase() Phase     { return s.phase }
func (s *Stepper) Time() float64    { return s.t }
func (s *Stepper) Order() int       { return s.kused }
func (s *Stepper) Stats() dae.Stats { return s.stats }

// Current returns a copy of the last accepted solution vector.
func (s *Stepper) Current() []float64 {
	if len(s.hist) == 0 {
		return nil
	}
	return append([]float64(nil), s.hist[len(s.hist)-1].y...)
}

// Init makes the initial point consistent (when configured), records it and
// chooses the first step towards tstop. y0 and yp0 use the flat layout and
// are updated in place.
func (s *Stepper) Init(t0 float64, y0, yp0 []float64, tstop float64) error {
	if s.phase != Uninitialized {
		return fmt.Errorf("%w: stepper already initialized", dae.ErrConfig)
	}
	if len(y0) != s.size || len(yp0) != s.size {
		return fmt.Errorf("%w: initial vectors have length %d/%d, want %d", dae.ErrDimensionMismatch, len(y0), len(yp0), s.size)
	}
	if !(tstop > t0) {
		return fmt.Errorf("%w: end time %g not after start time %g", dae.ErrConfig, tstop, t0)
	}
	s.phase = Initializing
	s.t = t0
	s.tstop = tstop

	if s.cfg.CalcIC {
		if err := s.consistentIC(t0, y0, yp0); err != nil {
			s.phase = Failed
			return s.fail(err, y0)
		}
	}
	if s.quad != nil {
		if err := s.quad.QuadRHS(t0, y0[:s.n], yp0[:s.n], s.lay.QuadSlice(yp0)); err != nil {
			s.phase = Failed
			return s.fail(err, y0)
		}
	}

	s.hist = append(s.hist[:0], point{t: t0, y: append([]float64(nil), y0...), yp: append([]float64(nil), yp0...)})
	s.weights(y0)

	tdist := s.cfg.FirstTime
	if tdist <= 0 {
		tdist = tstop - t0
	}
	h := 1e-3 * tdist
	if ypnorm := s.norm(yp0); ypnorm > 0.5/h {
		h = 0.5 / ypnorm
	}
	if s.cfg.MaxStepSize > 0 {
		h = math.Min(h, s.cfg.MaxStepSize)
	}
	s.h = h
	s.k = 1
	s.initPhase = true
	s.phase = Stepping
	level.Debug(s.logger).Log("msg", "initialized", "t0", t0, "h0", h, "size", s.size)
	if s.hook != nil {
		p := s.hist[0]
		s.hook(Accepted{T: t0, Y: p.y, YP: p.yp})
	}
	return nil
}

func (s *Stepper) consistentIC(t0 float64, y0, yp0 []float64) error {
	cfg := ic.Config{
		RelTol:         s.cfg.RelTol,
		AbsTol:         s.cfg.AbsTol,
		SensRelTol:     s.cfg.SensRelTol,
		SensAbsTol:     s.cfg.SensAbsTol,
		SensScale:      s.cfg.SensScale,
		TScale:         s.cfg.FirstTime,
		ExtraSens:      s.cfg.ExtraSensIC,
		AlgebraicRates: true,
		Observer:       s.obs,
	}
	if cfg.TScale <= 0 {
		cfg.TScale = s.tstop - t0
	}
	if len(cfg.SensAbsTol) == 0 {
		cfg.SensAbsTol = s.cfg.AbsTol
	}
	var sv, spv [][]float64
	for j := 0; j < s.ns; j++ {
		sv = append(sv, s.lay.SensSlice(y0, j))
		spv = append(spv, s.lay.SensSlice(yp0, j))
	}
	st, err := ic.Compute(s.sys, s.ls, t0, y0[:s.n], yp0[:s.n], sv, spv, cfg)
	s.stats.LinSetups += st.LinSetups
	s.stats.ResEvals += st.ResEvals
	s.stats.NewtonIters += st.NewtonIters
	// The factorization belongs to the initialization matrix.
	s.jacOK = false
	return err
}

// Advance integrates until tout is reached and writes the interpolated
// solution into y and yp.
func (s *Stepper) Advance(ctx context.Context, tout float64, y, yp []float64) error {
	if s.phase != Stepping {
		return fmt.Errorf("%w: cannot advance a stepper in phase %s", dae.ErrConfig, s.phase)
	}
	if s.cfg.StopAtEnd && tout > s.tstop {
		return fmt.Errorf("%w: output time %g beyond stop time %g", dae.ErrConfig, tout, s.tstop)
	}
	for s.t < tout {
		if err := s.step(ctx); err != nil {
			s.phase = Failed
			return s.fail(err, s.hist[len(s.hist)-1].y)
		}
	}
	s.interpolate(tout, y, yp)
	return nil
}

// Finish marks the run as completed.
func (s *Stepper) Finish() {
	if s.phase == Stepping {
		s.phase = Completed
	}
}

func (s *Stepper) fail(err error, y []float64) error {
	level.Warn(s.logger).Log("msg", "integration failed", "t", s.t, "err", err)
	state := dae.Vector(y[:min(s.n, len(y))]).Clone()
	return &dae.IntegrationError{
		Direction: s.dir,
		Step:      s.stats.Steps,
		Time:      s.t,
		State:     state,
		Wrapped:   err,
	}
}

func (s *Stepper) weights(y []float64) {
	n := s.n
	dae.Weights(s.ewt[:n], y[:n], s.cfg.RelTol, s.cfg.AbsTol)
	if s.nq > 0 {
		dae.Weights(s.lay.QuadSlice(s.ewt), s.lay.QuadSlice(y), s.cfg.RelTol, []float64{s.cfg.QuadAbsTol})
	}
	for j := 0; j < s.ns; j++ {
		dae.Weights(s.lay.SensSlice(s.ewt, j), s.lay.SensSlice(y, j), s.cfg.SensRelTol, s.sensAtol[j])
	}
}

// norm is the error-test norm: the maximum over the controlled segments.
func (s *Stepper) norm(v []float64) float64 {
	nrm := dae.WRMS(v[:s.n], s.ewt[:s.n], s.errMask)
	if s.nq > 0 && s.cfg.QuadErrCon {
		nrm = math.Max(nrm, dae.WRMS(s.lay.QuadSlice(v), s.lay.QuadSlice(s.ewt), nil))
	}
	if s.ns > 0 && s.cfg.SensErrCon {
		for j := 0; j < s.ns; j++ {
			nrm = math.Max(nrm, dae.WRMS(s.lay.SensSlice(v, j), s.lay.SensSlice(s.ewt, j), s.errMask))
		}
	}
	return nrm
}

func (s *Stepper) step(ctx context.Context) error {
	ncf, nef := 0, 0
	s.weights(s.hist[len(s.hist)-1].y)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", dae.ErrCanceled, err)
		}
		if s.attempts >= s.cfg.MaxSteps {
			return fmt.Errorf("%w: %w: %d step attempts before t=%g", dae.ErrStepFailure, dae.ErrTooMuchWork, s.attempts, s.tstop)
		}
		s.attempts++
		s.stats.StepAttempts++

		if s.cfg.MaxStepSize > 0 && s.h > s.cfg.MaxStepSize {
			s.h = s.cfg.MaxStepSize
		}
		tn1 := s.t + s.h
		if s.cfg.StopAtEnd && s.t+1.01*s.h >= s.tstop {
			s.h = s.tstop - s.t
			tn1 = s.tstop
		}
		if tn1 == s.t {
			return fmt.Errorf("%w: step size %g underflows at t=%g", dae.ErrStepFailure, s.h, s.t)
		}

		s.predict(tn1)
		err := s.correct(tn1)
		if err != nil {
			if !recoverable(err) {
				return err
			}
			ncf++
			s.stats.ConvFails++
			s.jacOK = false
			if ncf >= s.cfg.MaxConvFails {
				return fmt.Errorf("%w: %d convergence failures at t=%g: %w", dae.ErrStepFailure, ncf, s.t, err)
			}
			s.h *= etaConv
			s.initPhase = false
			level.Debug(s.logger).Log("msg", "convergence failure", "t", s.t, "h", s.h, "err", err)
			continue
		}

		errK := s.errorNorm()
		if errK > 1 {
			nef++
			s.stats.ErrTestFails++
			if nef >= s.cfg.MaxErrTestFails {
				return fmt.Errorf("%w: %d error test failures at t=%g", dae.ErrStepFailure, nef, s.t)
			}
			eta := etaMinErr
			if nef == 1 {
				eta = 0.9 * math.Pow(2*errK+1e-4, -1/float64(s.k+1))
				eta = math.Max(etaMinErr, math.Min(0.9, eta))
			} else {
				s.k = 1
			}
			s.h *= eta
			s.initPhase = false
			level.Debug(s.logger).Log("msg", "error test failed", "t", s.t, "h", s.h, "order", s.k, "err", errK)
			continue
		}

		s.accept(tn1, errK)
		return nil
	}
}

func recoverable(err error) bool {
	return errors.Is(err, errNoConvergence) || errors.Is(err, dae.ErrLinearSolve)
}

// predict fills ypred, the corrector coefficients and beta for a step to tn1.
func (s *Stepper) predict(tn1 float64) {
	m := len(s.hist)
	k := s.k
	if k > m-1 && m > 1 {
		k = m - 1
	}
	if m == 1 {
		k = 1
	}
	s.k = k
	last := s.hist[m-1]
	h := tn1 - last.t

	var p float64
	if m == 1 {
		for i := range s.ypred {
			s.ypred[i] = last.y[i] + h*last.yp[i]
		}
		p = h * h / 2
	} else {
		nodes := make([]float64, k+1)
		for j := 0; j <= k; j++ {
			nodes[j] = s.hist[m-1-j].t
		}
		w := dae.LagrangeWeights(nodes, tn1)
		for i := range s.ypred {
			sum := 0.0
			for j := 0; j <= k; j++ {
				sum += w[j] * s.hist[m-1-j].y[i]
			}
			s.ypred[i] = sum
		}
		p = 1.0
		for j := 0; j <= k; j++ {
			p *= tn1 - nodes[j]
		}
		p /= factorial(k + 1)
	}

	cnodes := make([]float64, k+1)
	cnodes[0] = tn1
	for j := 1; j <= k; j++ {
		cnodes[j] = s.hist[m-j].t
	}
	s.alpha = derivWeights(cnodes)
	for i := range s.beta {
		sum := 0.0
		for j := 1; j <= k; j++ {
			sum += s.alpha[j] * s.hist[m-j].y[i]
		}
		s.beta[i] = sum
	}
	e := 1.0
	for j := 1; j <= k; j++ {
		e *= tn1 - cnodes[j]
	}
	e /= factorial(k+1) * s.alpha[0]
	s.errFactor = e / (p + e)
}

func (s *Stepper) needSetup(c float64) bool {
	if !s.jacOK || s.sinceJac >= maxStale {
		return true
	}
	if s.cfg.CjScaling {
		return math.Abs(c/s.cjLast-1) > cjRatio
	}
	return c != s.cjLast
}

func (s *Stepper) setup(t float64) error {
	n := s.n
	c := s.alpha[0]
	for i := 0; i < n; i++ {
		s.yp[i] = c*s.ypred[i] + s.beta[i]
	}
	s.jacOK = false
	op := s.sys.Linearize(t, s.ypred[:n], s.yp[:n], c)
	s.stats.LinSetups++
	if err := s.ls.Setup(op); err != nil {
		return err
	}
	s.jacOK = true
	s.cjLast = c
	s.sinceJac = 0
	s.ss = 20
	s.ssS = 20
	return nil
}

// scale returns the correction factor for a matrix built at a stale c.
func (s *Stepper) scale() float64 {
	c := s.alpha[0]
	if !s.cfg.CjScaling || c == s.cjLast {
		return 1
	}
	return 2 / (1 + c/s.cjLast)
}

func (s *Stepper) correct(t float64) error {
	fresh := false
	if s.needSetup(s.alpha[0]) {
		if err := s.setup(t); err != nil {
			return err
		}
		fresh = true
	}
	err := s.solve(t)
	if err == nil || fresh || !recoverable(err) {
		return err
	}
	if err := s.setup(t); err != nil {
		return err
	}
	return s.solve(t)
}

func (s *Stepper) solve(t float64) error {
	n := s.n
	c := s.alpha[0]
	copy(s.y, s.ypred)
	for i := range s.y {
		s.yp[i] = c*s.y[i] + s.beta[i]
	}
	simultaneous := s.sens != nil && !s.cfg.Staggered
	if err := s.newton(t, simultaneous); err != nil {
		return err
	}
	if s.sens != nil && s.cfg.Staggered {
		if err := s.staggered(t); err != nil {
			return err
		}
	}
	if s.quad != nil {
		qp := s.lay.QuadSlice(s.yp)
		q := s.lay.QuadSlice(s.y)
		bq := s.lay.QuadSlice(s.beta)
		if err := s.quad.QuadRHS(t, s.y[:n], s.yp[:n], qp); err != nil {
			return err
		}
		for i := range q {
			q[i] = (qp[i] - bq[i]) / c
		}
	}
	return nil
}

func (s *Stepper) newton(t float64, withSens bool) error {
	n := s.n
	y, yp := s.y[:n], s.yp[:n]
	var sres [][]float64
	if withSens {
		sres = make([][]float64, s.ns)
		for j := range sres {
			sres[j] = make([]float64, n)
		}
	}
	oldnrm := 0.0
	for m := 0; m < s.cfg.MaxNewtonIters; m++ {
		s.stats.NewtonIters++
		s.stats.ResEvals++
		if err := s.sys.Residual(t, y, yp, s.res); err != nil {
			return err
		}
		for j := range sres {
			if err := s.sens.SensResidual(t, y, yp, s.lay.SensSlice(s.y, j), s.lay.SensSlice(s.yp, j), j, sres[j]); err != nil {
				return err
			}
		}

		delnrm, err := s.update(s.res, y, yp, s.ewt[:n])
		if err != nil {
			return err
		}
		for j := range sres {
			d, err := s.update(sres[j], s.lay.SensSlice(s.y, j), s.lay.SensSlice(s.yp, j), s.lay.SensSlice(s.ewt, j))
			if err != nil {
				return err
			}
			if s.cfg.SensErrCon {
				delnrm = math.Max(delnrm, d)
			}
		}

		if m == 0 {
			oldnrm = delnrm
			if delnrm <= 1e-4*epsNewt {
				return nil
			}
		} else {
			rate := math.Pow(delnrm/oldnrm, 1/float64(m))
			if rate > rateMax {
				return errNoConvergence
			}
			s.ss = rate / (1 - rate)
		}
		if s.ss*delnrm <= epsNewt {
			return nil
		}
	}
	return errNoConvergence
}

// update applies one Newton correction -M^-1·r to (v, vp) and returns the
// WRMS size of the correction.
func (s *Stepper) update(r, v, vp, w []float64) (float64, error) {
	d := s.delta
	for i := range d {
		d[i] = -r[i]
	}
	if tl, ok := s.ls.(linsol.Tolerancer); ok {
		tl.SetTolerance(epsLin*epsNewt, w)
	}
	if err := s.ls.Solve(d); err != nil {
		return 0, err
	}
	if f := s.scale(); f != 1 {
		for i := range d {
			d[i] *= f
		}
	}
	c := s.alpha[0]
	for i := range d {
		v[i] += d[i]
		vp[i] += c * d[i]
	}
	return dae.WRMS(d, w, nil), nil
}

// staggered corrects all sensitivities after the states converged, with the
// matrix of the state iteration.
func (s *Stepper) staggered(t float64) error {
	n := s.n
	y, yp := s.y[:n], s.yp[:n]
	r := make([]float64, n)
	oldnrm := 0.0
	for m := 0; m < s.cfg.MaxNewtonIters; m++ {
		delnrm := 0.0
		for j := 0; j < s.ns; j++ {
			sj, spj := s.lay.SensSlice(s.y, j), s.lay.SensSlice(s.yp, j)
			if err := s.sens.SensResidual(t, y, yp, sj, spj, j, r); err != nil {
				return err
			}
			d, err := s.update(r, sj, spj, s.lay.SensSlice(s.ewt, j))
			if err != nil {
				return err
			}
			delnrm = math.Max(delnrm, d)
		}
		if m == 0 {
			oldnrm = delnrm
			if delnrm <= 1e-4*epsNewt {
				return nil
			}
		} else {
			rate := math.Pow(delnrm/oldnrm, 1/float64(m))
			if rate > rateMax {
				return errNoConvergence
			}
			s.ssS = rate / (1 - rate)
		}
		if s.ssS*delnrm <= epsNewt {
			return nil
		}
	}
	return errNoConvergence
}

func (s *Stepper) errorNorm() float64 {
	for i := range s.errv {
		s.errv[i] = s.errFactor * (s.y[i] - s.ypred[i])
	}
	return s.norm(s.errv)
}

// orderEstimate approximates the local error an order-q formula would make
// with the last step size, from the (q+1)-th divided difference of the
// stored points.
func (s *Stepper) orderEstimate(q int) float64 {
	m := len(s.hist)
	if q < 1 || m < q+2 {
		return math.Inf(1)
	}
	pts := s.hist[m-q-2:]
	for i := range pts {
		copy(s.dd[i], pts[i].y)
	}
	for lvl := 1; lvl <= q+1; lvl++ {
		for i := q + 1; i >= lvl; i-- {
			dt := pts[i].t - pts[i-lvl].t
			for c := range s.dd[i] {
				s.dd[i][c] = (s.dd[i][c] - s.dd[i-1][c]) / dt
			}
		}
	}
	f := factorial(q+1) * math.Pow(s.hused, float64(q+1)) / (float64(q+1) * harmonic(q))
	for c := range s.errv {
		s.errv[c] = f * s.dd[q+1][c]
	}
	return s.norm(s.errv)
}

func (s *Stepper) accept(tn1, errK float64) {
	s.hist = append(s.hist, point{
		t:  tn1,
		y:  append([]float64(nil), s.y...),
		yp: append([]float64(nil), s.yp...),
	})
	if keep := s.cfg.MaxOrder + 3; len(s.hist) > keep {
		s.hist = append(s.hist[:0], s.hist[len(s.hist)-keep:]...)
	}
	s.t = tn1
	s.hused = s.h
	if s.k == s.kused {
		s.nconst++
	} else {
		s.nconst = 1
	}
	s.kused = s.k
	s.sinceJac++
	s.stats.Steps++

	if s.hook != nil {
		s.hook(Accepted{Step: s.stats.Steps, T: tn1, H: s.hused, Order: s.kused, Y: s.y, YP: s.yp})
	}
	s.obs.OnStep(dae.StepEvent{Direction: s.dir, Step: s.stats.Steps, T: tn1, H: s.hused, Order: s.kused})

	s.selectNext(errK)
}

func (s *Stepper) selectNext(errK float64) {
	k := s.k
	m := len(s.hist)
	if s.initPhase {
		eta := math.Min(etaMax, math.Pow(2*errK+1e-4, -1/float64(k+1)))
		if eta >= etaMax {
			if k < s.cfg.MaxOrder && m >= k+2 {
				s.k = k + 1
			}
			s.h *= etaMax
			return
		}
		s.initPhase = false
	}

	knew, errNew := k, errK
	if k > 1 {
		if e := s.orderEstimate(k - 1); e <= errK {
			knew, errNew = k-1, e
		}
	}
	if knew == k && k < s.cfg.MaxOrder && s.nconst >= k+1 && m >= k+3 {
		if e := s.orderEstimate(k + 1); e < errK {
			knew, errNew = k+1, e
		}
	}
	eta := math.Pow(2*errNew+1e-4, -1/float64(knew+1))
	switch {
	case eta >= etaMax:
		eta = etaMax
	case eta <= 1:
		eta = math.Max(0.5, math.Min(0.9, eta))
	default:
		eta = 1
	}
	s.k = knew
	s.h *= eta
}

// interpolate evaluates the interpolating polynomial through the last
// order+1 accepted points.
func (s *Stepper) interpolate(t float64, y, yp []float64) {
	m := len(s.hist)
	last := s.hist[m-1]
	if t == last.t || m == 1 {
		copy(y, last.y)
		copy(yp, last.yp)
		return
	}
	npts := min(m, max(s.kused, 1)+1)
	nodes := make([]float64, npts)
	for j := range nodes {
		nodes[j] = s.hist[m-1-j].t
	}
	w := dae.LagrangeWeights(nodes, t)
	wd := dae.LagrangeDerivWeights(nodes, t)
	for i := range y {
		v, d := 0.0, 0.0
		for j := range nodes {
			v += w[j] * s.hist[m-1-j].y[i]
			d += wd[j] * s.hist[m-1-j].y[i]
		}
		y[i] = v
		yp[i] = d
	}
}
