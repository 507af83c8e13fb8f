// Package ic computes consistent initial conditions for index-1 systems.
//
// Given the differential components of y and a guess for everything else,
// Compute adjusts the algebraic components of y and the differential
// components of y' until F(t0, y, y') = 0. Sensitivity vectors are corrected
// the same way once the states are consistent.
package ic

import (
	"fmt"
	"math"

	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	epsIC         = 0.0033
	maxLineSearch = 4
	rateMax       = 0.9
)

type Config struct {
	RelTol     float64
	AbsTol     []float64
	SensRelTol float64
	SensAbsTol []float64
	// SensScale divides SensAbsTol per sensitivity vector.
	SensScale []float64
	// TScale is the distance to the first output time; it sets the step
	// used to estimate algebraic derivatives.
	TScale float64
	// MaxIters bounds Newton iterations per matrix setup, MaxSetups the
	// number of setups.
	MaxIters  int
	MaxSetups int
	// ExtraSens first makes the states consistent on their own.
	ExtraSens bool
	// AlgebraicRates estimates y' for algebraic components from a second
	// consistent point one small step ahead.
	AlgebraicRates bool
	Observer       dae.Observer
}

func DefaultConfig() Config {
	return Config{
		RelTol:         1e-6,
		AbsTol:         []float64{1e-8},
		SensRelTol:     1e-6,
		SensAbsTol:     []float64{1e-8},
		MaxIters:       10,
		MaxSetups:      4,
		AlgebraicRates: true,
	}
}

type solver struct {
	sys  dae.System
	sens dae.SensitivitySystem
	ls   linsol.Strategy
	cfg  Config
	n    int
	mask []bool
	hic  float64

	ewt   []float64
	res   []float64
	delta []float64
	ytry  []float64
	yptry []float64
	ftry  []float64
	scr   []float64

	stats dae.Stats
}

// Compute corrects y, yp (and s, sp when sensitivities are given) in place.
// The returned stats count residual evaluations and matrix setups.
func Compute(sys dae.System, ls linsol.Strategy, t0 float64, y, yp []float64, s, sp [][]float64, cfg Config) (dae.Stats, error) {
	if cfg.MaxIters <= 0 {
		cfg.MaxIters = 10
	}
	if cfg.MaxSetups <= 0 {
		cfg.MaxSetups = 4
	}
	if cfg.Observer == nil {
		cfg.Observer = dae.NopObserver{}
	}
	cfg.Observer.OnProbe(dae.ProbeIC, t0)

	n := sys.Dim()
	sv := &solver{
		sys:   sys,
		ls:    ls,
		cfg:   cfg,
		n:     n,
		mask:  sys.Differential(),
		ewt:   make([]float64, n),
		res:   make([]float64, n),
		delta: make([]float64, n),
		ytry:  make([]float64, n),
		yptry: make([]float64, n),
		ftry:  make([]float64, n),
		scr:   make([]float64, n),
	}
	sv.hic = 1e-3 * cfg.TScale
	if sv.hic <= 0 || math.IsNaN(sv.hic) {
		sv.hic = 1e-3
	}
	if ss, ok := sys.(dae.SensitivitySystem); ok && len(s) > 0 {
		sv.sens = ss
	}
	dae.Weights(sv.ewt, y, cfg.RelTol, cfg.AbsTol)

	if sv.sens != nil && cfg.ExtraSens {
		if err := sv.newton(t0, y, yp, nil, nil); err != nil {
			return sv.stats, err
		}
	}
	if err := sv.newton(t0, y, yp, s, sp); err != nil {
		return sv.stats, err
	}
	if cfg.AlgebraicRates && sv.mask != nil {
		if err := sv.algebraicRates(t0, y, yp); err != nil {
			return sv.stats, err
		}
	}
	return sv.stats, nil
}

func (sv *solver) differential(i int) bool {
	return sv.mask == nil || sv.mask[i]
}

// apply moves the unknowns by -lambda·delta: algebraic y and differential y'.
func (sv *solver) apply(dstY, dstYP, y, yp, delta []float64, lambda float64) {
	copy(dstY, y)
	copy(dstYP, yp)
	for i := range delta {
		if sv.differential(i) {
			dstYP[i] -= lambda * delta[i]
		} else {
			dstY[i] -= lambda * delta[i]
		}
	}
}

// norm measures a correction in units of y: derivative changes are scaled
// by the initial-condition step.
func (sv *solver) norm(delta, w []float64) float64 {
	for i, d := range delta {
		if sv.differential(i) {
			d *= sv.hic
		}
		sv.scr[i] = d
	}
	return dae.WRMS(sv.scr, w, nil)
}

// roundoff reports whether the last correction only moved the unknowns by
// rounding error.
func (sv *solver) roundoff(delta, y, yp []float64, lambda float64) bool {
	const ulps = 100 * 0x1p-52
	for i, d := range delta {
		u := y[i]
		if sv.differential(i) {
			u = yp[i]
		}
		if math.Abs(lambda*d) > ulps*math.Abs(u) {
			return false
		}
	}
	return true
}

func (sv *solver) residual(t float64, y, yp, res []float64) error {
	sv.stats.ResEvals++
	return sv.sys.Residual(t, y, yp, res)
}

func (sv *solver) newton(t float64, y, yp []float64, s, sp [][]float64) error {
	var lastErr error
	for setup := 0; setup < sv.cfg.MaxSetups; setup++ {
		op := &operator{
			n:    sv.n,
			t:    t,
			mask: sv.mask,
			j0:   sv.sys.Linearize(t, y, yp, 0),
			j1:   sv.sys.Linearize(t, y, yp, 1),
		}
		if err := sv.ls.Setup(op); err != nil {
			return fmt.Errorf("%w: %v", dae.ErrInitialization, err)
		}
		sv.stats.LinSetups++

		converged, err := sv.iterate(t, y, yp, s, sp)
		if err != nil {
			lastErr = err
			continue
		}
		if converged {
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w at t=%g: %v", dae.ErrInitialization, t, lastErr)
	}
	return fmt.Errorf("%w at t=%g: newton did not converge", dae.ErrInitialization, t)
}

func (sv *solver) iterate(t float64, y, yp []float64, s, sp [][]float64) (bool, error) {
	if err := sv.residual(t, y, yp, sv.res); err != nil {
		return false, err
	}
	oldnrm := 0.0
	for it := 0; it < sv.cfg.MaxIters; it++ {
		sv.stats.NewtonIters++
		copy(sv.delta, sv.res)
		if err := sv.ls.Solve(sv.delta); err != nil {
			return false, err
		}

		fnorm := floats.Norm(sv.res, 2)
		lambda := 1.0
		for k := 0; ; k++ {
			sv.apply(sv.ytry, sv.yptry, y, yp, sv.delta, lambda)
			if err := sv.residual(t, sv.ytry, sv.yptry, sv.ftry); err != nil {
				return false, err
			}
			if k == maxLineSearch || floats.Norm(sv.ftry, 2) <= fnorm {
				break
			}
			lambda /= 2
		}
		copy(y, sv.ytry)
		copy(yp, sv.yptry)
		copy(sv.res, sv.ftry)
		delnrm := lambda * sv.norm(sv.delta, sv.ewt)
		settled := sv.roundoff(sv.delta, y, yp, lambda)

		if sv.sens != nil {
			d, err := sv.correctSens(t, y, yp, s, sp)
			if err != nil {
				return false, err
			}
			delnrm = math.Max(delnrm, d)
			settled = settled && d <= epsIC
		}
		if settled {
			return true, nil
		}
		// Past the first iteration convergence is judged by the contraction rate.
		if it == 0 {
			oldnrm = delnrm
			if delnrm <= epsIC {
				return true, nil
			}
			continue
		}
		rate := math.Pow(delnrm/oldnrm, 1/float64(it))
		if rate > rateMax {
			return false, nil
		}
		if rate/(1-rate)*delnrm <= epsIC {
			return true, nil
		}
	}
	return false, nil
}

// correctSens performs one Newton correction on every sensitivity vector.
// The sensitivity system is linear, so a fresh matrix makes it exact.
func (sv *solver) correctSens(t float64, y, yp []float64, s, sp [][]float64) (float64, error) {
	worst := 0.0
	w := make([]float64, sv.n)
	for j := range s {
		if err := sv.sens.SensResidual(t, y, yp, s[j], sp[j], j, sv.delta); err != nil {
			return 0, err
		}
		sv.stats.ResEvals++
		if err := sv.ls.Solve(sv.delta); err != nil {
			return 0, err
		}
		for i := range sv.delta {
			if sv.differential(i) {
				sp[j][i] -= sv.delta[i]
			} else {
				s[j][i] -= sv.delta[i]
			}
		}
		atol := sv.cfg.SensAbsTol
		if len(sv.cfg.SensScale) > j && sv.cfg.SensScale[j] != 0 {
			scaled := make([]float64, len(atol))
			for i := range atol {
				scaled[i] = atol[i] / math.Abs(sv.cfg.SensScale[j])
			}
			atol = scaled
		}
		dae.Weights(w, s[j], sv.cfg.SensRelTol, atol)
		worst = math.Max(worst, sv.norm(sv.delta, w))
	}
	return worst, nil
}

// algebraicRates fills y' for algebraic components with the slope towards
// a consistent point one initial-condition step ahead.
func (sv *solver) algebraicRates(t0 float64, y, yp []float64) error {
	dt := sv.hic
	y1 := make([]float64, sv.n)
	yp1 := make([]float64, sv.n)
	for i := range y {
		y1[i] = y[i] + dt*yp[i]
	}
	copy(yp1, yp)
	if err := sv.newton(t0+dt, y1, yp1, nil, nil); err != nil {
		return err
	}
	for i := range y {
		if !sv.differential(i) {
			yp[i] = (y1[i] - y[i]) / dt
		}
	}
	return nil
}

// operator is the Newton matrix for the unknowns (algebraic y, differential
// y'): columns of ∂F/∂y for the former and ∂F/∂y' for the latter.
type operator struct {
	n      int
	t      float64
	mask   []bool
	j0, j1 linsol.Operator
	m0, m1 *mat.Dense
	v0, v1 []float64
	out    []float64
}

func (o *operator) Dim() int                    { return o.n }
func (o *operator) T() float64                  { return o.t }
func (o *operator) C() float64                  { return 0 }
func (o *operator) Prec() linsol.Preconditioner { return nil }

func (o *operator) differential(j int) bool {
	return o.mask == nil || o.mask[j]
}

func (o *operator) Dense(dst *mat.Dense) error {
	if o.m0 == nil {
		o.m0 = mat.NewDense(o.n, o.n, nil)
		o.m1 = mat.NewDense(o.n, o.n, nil)
	}
	o.m0.Zero()
	o.m1.Zero()
	if err := o.j0.Dense(o.m0); err != nil {
		return err
	}
	if err := o.j1.Dense(o.m1); err != nil {
		return err
	}
	for j := 0; j < o.n; j++ {
		for i := 0; i < o.n; i++ {
			v := o.m0.At(i, j)
			if o.differential(j) {
				v = o.m1.At(i, j) - v
			}
			dst.Set(i, j, v)
		}
	}
	return nil
}

func (o *operator) MulVec(dst, v []float64) error {
	if o.v0 == nil {
		o.v0 = make([]float64, o.n)
		o.v1 = make([]float64, o.n)
		o.out = make([]float64, o.n)
	}
	for j := range v {
		o.v0[j], o.v1[j] = 0, 0
		if o.differential(j) {
			o.v1[j] = v[j]
		} else {
			o.v0[j] = v[j]
		}
	}
	// (J1 - J0)·v_d + J0·v_a = J1·v_d + J0·(v_a - v_d)
	if err := o.j1.MulVec(o.out, o.v1); err != nil {
		return err
	}
	floats.Sub(o.v0, o.v1)
	if err := o.j0.MulVec(dst, o.v0); err != nil {
		return err
	}
	floats.Add(dst, o.out)
	return nil
}
