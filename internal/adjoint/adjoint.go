// Package adjoint integrates the adjoint system of a DAE backward in time
// and accumulates the gradient of a terminal and integral cost with respect
// to every parameter.
//
// The forward trajectory is only read through a checkpoint.Manager, so the
// forward pass must have been recorded completely before Run is called.
//
// The cost is G = wxᵀ·x(tf) + wqᵀ·q(tf), where q are the forward
// quadratures. With λ the solution of
//
//	(λᵀ·F_ẋ)' - λᵀ·F_x = -wqᵀ·∂fq/∂x,   λᵀ·F_ẋ(tf) = wxᵀ
//
// the gradient is
//
//	dG/dp = ∫ (wqᵀ·∂fq/∂p - λᵀ·F_p) dt + λᵀ·F_ẋ·∂x/∂p at t0.
package adjoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/daesim/internal/bdf"
	"github.com/san-kum/daesim/internal/checkpoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

// Seeds weight the final states and the final forward quadratures.
type Seeds struct {
	X []float64 `yaml:"x" json:"x"`
	Q []float64 `yaml:"q" json:"q"`
}

type Config struct {
	// T0 and Tf bound the backward sweep. Tf <= T0 selects the recorded
	// span.
	T0, Tf        float64
	Stepper       bdf.Config
	ExactJacobian bool
	Precondition  bool
	PreType       linsol.PreType
	Observer      dae.Observer
	Logger        log.Logger
}

type Result struct {
	// Gradient has one entry per problem parameter.
	Gradient []float64
	// Lambda0 is λ(t0).
	Lambda0 []float64
	Stats   dae.Stats
	// Furthest is the smallest forward time the backward pass reached.
	Furthest float64
}

type Integrator struct {
	prob dae.Problem
	p    []float64
	cp   *checkpoint.Manager
	ls   linsol.Strategy
	cfg  Config
}

func New(prob dae.Problem, p []float64, cp *checkpoint.Manager, ls linsol.Strategy, cfg Config) (*Integrator, error) {
	d := prob.Dims()
	if len(p) != d.Params {
		return nil, fmt.Errorf("%w: %d parameters, problem has %d", dae.ErrDimensionMismatch, len(p), d.Params)
	}
	if cp == nil || ls == nil {
		return nil, fmt.Errorf("%w: adjoint needs a checkpoint manager and a linear solver", dae.ErrConfig)
	}
	if cfg.Observer == nil {
		cfg.Observer = dae.NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	cfg.Stepper.StopAtEnd = true
	return &Integrator{prob: prob, p: p, cp: cp, ls: ls, cfg: cfg}, nil
}

// Run integrates from the end of the recorded span back to its start.
func (a *Integrator) Run(ctx context.Context, seeds Seeds) (*Result, error) {
	d := a.prob.Dims()
	n := d.States
	if seeds.X != nil && len(seeds.X) != n {
		return nil, fmt.Errorf("%w: %d state seeds for %d states", dae.ErrDimensionMismatch, len(seeds.X), n)
	}
	if len(seeds.Q) > 0 && len(seeds.Q) != d.Quads {
		return nil, fmt.Errorf("%w: %d quadrature seeds for %d quadratures", dae.ErrDimensionMismatch, len(seeds.Q), d.Quads)
	}
	if a.cp.Len() < 2 {
		return nil, fmt.Errorf("%w: forward trajectory has no accepted steps", dae.ErrReconstruction)
	}

	t0, tf := a.cp.Span()
	if a.cfg.Tf > a.cfg.T0 {
		if a.cfg.T0 < t0 || a.cfg.Tf > tf {
			return nil, fmt.Errorf("%w: adjoint horizon [%g, %g] outside recorded span [%g, %g]", dae.ErrReconstruction, a.cfg.T0, a.cfg.Tf, t0, tf)
		}
		t0, tf = a.cfg.T0, a.cfg.Tf
	}
	sys := newBackwardSystem(a.prob, a.p, a.cp, seeds.Q, t0, tf, a.cfg)
	logger := log.With(a.cfg.Logger, "direction", dae.Backward)
	res := &Result{Furthest: sys.tf}

	mask, err := sys.massRows()
	if err != nil {
		return res, err
	}
	mu0, err := terminal(sys.cur.fxd, mask, d, seeds.X)
	if err != nil {
		return res, err
	}
	mup0, err := sys.consistentStart(mu0)
	if err != nil {
		return res, err
	}

	st, err := bdf.New(sys, a.ls, a.cfg.Stepper,
		bdf.WithDirection(dae.Backward),
		bdf.WithObserver(a.cfg.Observer),
		bdf.WithLogger(logger),
	)
	if err != nil {
		return res, err
	}
	lay := st.Layout()
	y := make([]float64, lay.Len())
	yp := make([]float64, lay.Len())
	copy(y, mu0)
	copy(yp, mup0)

	span := sys.tf - sys.t0
	if err := st.Init(0, y, yp, span); err != nil {
		return a.partial(res, st, sys), a.toForwardTime(err, sys)
	}
	if err := st.Advance(ctx, span, y, yp); err != nil {
		return a.partial(res, st, sys), a.toForwardTime(err, sys)
	}
	st.Finish()

	res.Lambda0 = append([]float64(nil), lay.StateSlice(y)...)
	res.Gradient = append([]float64(nil), lay.QuadSlice(y)...)
	if res.Gradient == nil {
		res.Gradient = []float64{}
	}
	if err := a.initialTerm(sys, res.Lambda0, res.Gradient); err != nil {
		return a.partial(res, st, sys), err
	}
	res.Furthest = sys.t0
	res.Stats = st.Stats()
	res.Stats.JacEvals += sys.jacEvals
	level.Info(logger).Log("msg", "adjoint complete", "nstepsB", res.Stats.Steps, "nlinsetupsB", res.Stats.LinSetups)
	return res, nil
}

func (a *Integrator) partial(res *Result, st *bdf.Stepper, sys *backwardSystem) *Result {
	res.Stats = st.Stats()
	res.Stats.JacEvals += sys.jacEvals
	res.Furthest = sys.forwardTime(st.Time())
	if cur := st.Current(); cur != nil {
		res.Lambda0 = append([]float64(nil), cur[:sys.n]...)
	}
	return res
}

// toForwardTime reports a backward failure at forward time.
func (a *Integrator) toForwardTime(err error, sys *backwardSystem) error {
	var ie *dae.IntegrationError
	if errors.As(err, &ie) {
		ie.Time = sys.forwardTime(ie.Time)
	}
	return err
}

// terminal solves λᵀ·F_ẋ(tf) = wxᵀ on the differential columns for the
// components of λ in mass rows. Seeds on algebraic states are rejected:
// their contribution cannot be expressed through λ(tf) alone.
func terminal(fxd *mat.Dense, rows []bool, d dae.Dims, wx []float64) ([]float64, error) {
	n := d.States
	mu := make([]float64, n)
	if wx == nil {
		return mu, nil
	}
	var rIdx, dIdx []int
	for i := 0; i < n; i++ {
		if rows[i] {
			rIdx = append(rIdx, i)
		}
		if d.IsDifferential(i) {
			dIdx = append(dIdx, i)
		} else if wx[i] != 0 {
			return nil, fmt.Errorf("%w: adjoint seed on algebraic state %d", dae.ErrConfig, i)
		}
	}
	if len(rIdx) == 0 || len(dIdx) == 0 {
		return mu, nil
	}
	// Σ_{i∈R} μ_i·F_ẋ[i][j] = wx_j for j ∈ D, solved in the least-squares sense.
	m := mat.NewDense(len(dIdx), len(rIdx), nil)
	rhs := mat.NewVecDense(len(dIdx), nil)
	for r, j := range dIdx {
		rhs.SetVec(r, wx[j])
		for c, i := range rIdx {
			m.Set(r, c, fxd.At(i, j))
		}
	}
	sol, err := solveLSQ(m, rhs)
	if err != nil {
		return nil, fmt.Errorf("%w: adjoint terminal condition: %v", dae.ErrInitialization, err)
	}
	for c, i := range rIdx {
		mu[i] = sol.AtVec(c)
	}
	return mu, nil
}

func solveLSQ(m *mat.Dense, rhs *mat.VecDense) (*mat.VecDense, error) {
	var sol mat.VecDense
	if err := sol.SolveVec(m, rhs); err != nil && !errors.As(err, new(mat.Condition)) {
		return nil, err
	}
	return &sol, nil
}

// initialTerm adds λᵀ·F_ẋ·∂x/∂p at t0 to the gradient.
func (a *Integrator) initialTerm(sys *backwardSystem, lambda, grad []float64) error {
	ini, ok := a.prob.(dae.InitialSensitivity)
	if !ok || len(grad) == 0 {
		return nil
	}
	if err := sys.linearize(sys.t0); err != nil {
		return err
	}
	n := sys.n
	w := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			w[j] += lambda[i] * sys.cur.fxd.At(i, j)
		}
	}
	s0 := make([]float64, n)
	for k := range grad {
		for i := range s0 {
			s0[i] = 0
		}
		ini.InitialSensitivity(a.p, k, s0)
		for j := 0; j < n; j++ {
			grad[k] += w[j] * s0[j]
		}
	}
	return nil
}
