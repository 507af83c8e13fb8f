// Package integrator runs a forward DAE integration with optional forward
// sensitivities and quadratures, followed by an optional adjoint sweep that
// produces the gradient of a cost with respect to every parameter.
//
// A single Integrator may be reused for several runs but not concurrently;
// every Run builds its own stepper, linear solver instances and checkpoint
// manager. Independent Integrators share no mutable state.
package integrator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/daesim/internal/adjoint"
	"github.com/san-kum/daesim/internal/bdf"
	"github.com/san-kum/daesim/internal/checkpoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"github.com/san-kum/daesim/internal/options"
)

type Option func(*Integrator)

func WithLogger(l log.Logger) Option {
	return func(i *Integrator) { i.logger = l }
}

func WithObserver(o dae.Observer) Option {
	return func(i *Integrator) { i.obs = o }
}

// WithUserSolver supplies the strategies used when linear_solver_type(B)
// is user_defined. Either may be nil when its direction does not need one.
func WithUserSolver(fwd, bwd linsol.Strategy) Option {
	return func(i *Integrator) {
		i.userFwd = fwd
		i.userBwd = bwd
	}
}

type Integrator struct {
	prob dae.Problem
	dims dae.Dims
	res  options.Resolved

	logger  log.Logger
	obs     dae.Observer
	userFwd linsol.Strategy
	userBwd linsol.Strategy
}

func New(prob dae.Problem, opts *options.Options, o ...Option) (*Integrator, error) {
	if prob == nil {
		return nil, fmt.Errorf("%w: nil problem", dae.ErrConfig)
	}
	d := prob.Dims()
	if d.States < 1 {
		return nil, fmt.Errorf("%w: problem has %d states", dae.ErrConfig, d.States)
	}
	if d.Differential != nil && len(d.Differential) != d.States {
		return nil, fmt.Errorf("%w: differential mask has %d entries for %d states", dae.ErrDimensionMismatch, len(d.Differential), d.States)
	}
	res, err := options.Resolve(opts, d.States, d.Params)
	if err != nil {
		return nil, err
	}
	in := &Integrator{
		prob:   prob,
		dims:   d,
		res:    res,
		logger: log.NewNopLogger(),
		obs:    dae.NopObserver{},
	}
	for _, opt := range o {
		opt(in)
	}
	if _, ok := res.Forward.Solver.(linsol.UserDefined); ok && in.userFwd == nil {
		return nil, fmt.Errorf("%w: linear_solver_type: user_defined without a solver", dae.ErrConfig)
	}
	in.logger = log.With(in.logger, "component", "integrator")
	if res.DisableWarnings {
		in.logger = dropWarnings{next: in.logger}
	}
	return in, nil
}

// Resolved returns the concrete settings the integrator runs with.
func (in *Integrator) Resolved() options.Resolved { return in.res }

type Input struct {
	T0, Tf float64
	X0     []float64
	// XDot0 seeds ẋ(t0); nil falls back to init_xdot, then to zeros.
	XDot0 []float64
	P     []float64
	// Grid lists output times in [T0, Tf]; empty means T0 and Tf only.
	Grid          []float64
	Sensitivities bool
	AdjointSeeds  *adjoint.Seeds
}

func (in *Integrator) strategy(dir dae.Direction) (linsol.Strategy, error) {
	s, user := in.res.Forward, in.userFwd
	if dir == dae.Backward {
		s, user = in.res.Backward, in.userBwd
	}
	if _, ok := s.Solver.(linsol.UserDefined); ok {
		if user == nil {
			return nil, fmt.Errorf("%w: linear_solver_type%s: user_defined without a solver", dae.ErrConfig, suffix(dir))
		}
		return linsol.New(linsol.UserDefined{Solver: user}, in.dims.States)
	}
	ls, err := linsol.New(s.Solver, in.dims.States)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dae.ErrConfig, err)
	}
	return ls, nil
}

func suffix(dir dae.Direction) string {
	if dir == dae.Backward {
		return "B"
	}
	return ""
}

func (in *Integrator) validate(x Input) error {
	d := in.dims
	if len(x.X0) != d.States {
		return fmt.Errorf("%w: %d initial states for %d", dae.ErrDimensionMismatch, len(x.X0), d.States)
	}
	if x.XDot0 != nil && len(x.XDot0) != d.States {
		return fmt.Errorf("%w: %d initial derivatives for %d", dae.ErrDimensionMismatch, len(x.XDot0), d.States)
	}
	if len(x.P) != d.Params {
		return fmt.Errorf("%w: %d parameters for %d", dae.ErrDimensionMismatch, len(x.P), d.Params)
	}
	if !(x.Tf > x.T0) || math.IsInf(x.Tf, 0) || math.IsNaN(x.T0) {
		return fmt.Errorf("%w: time span [%g, %g]", dae.ErrConfig, x.T0, x.Tf)
	}
	for i, t := range x.Grid {
		if t < x.T0 || t > x.Tf || math.IsNaN(t) {
			return fmt.Errorf("%w: output time %g outside [%g, %g]", dae.ErrConfig, t, x.T0, x.Tf)
		}
		if i > 0 && !(t > x.Grid[i-1]) {
			return fmt.Errorf("%w: output times must increase strictly", dae.ErrConfig)
		}
	}
	if x.AdjointSeeds != nil && len(x.AdjointSeeds.Q) > 0 && len(x.AdjointSeeds.Q) != d.Quads {
		return fmt.Errorf("%w: %d quadrature seeds for %d quadratures", dae.ErrDimensionMismatch, len(x.AdjointSeeds.Q), d.Quads)
	}
	return nil
}

// outputTimes merges the grid with t0, tf and the first_time output.
func (in *Integrator) outputTimes(x Input) []float64 {
	ts := []float64{x.T0, x.Tf}
	ts = append(ts, x.Grid...)
	if in.res.FirstTime > 0 {
		ts = append(ts, x.T0+in.res.FirstTime*(x.Tf-x.T0))
	}
	sort.Float64s(ts)
	out := ts[:1]
	for _, t := range ts[1:] {
		if t > out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// Run integrates forward over [T0, Tf] and, when seeds are given, backward
// again for the gradient. On failure the partial result is returned along
// with the error.
func (in *Integrator) Run(ctx context.Context, x Input) (*Result, error) {
	if err := in.validate(x); err != nil {
		return nil, err
	}
	d := in.dims
	n := d.States
	p := append([]float64(nil), x.P...)
	r := in.res

	params := r.SensParams
	if !x.Sensitivities {
		params = nil
	}
	sys := newForwardSystem(in.prob, p, in.obs, forwardConfig{
		exact:      r.Forward.ExactJacobian,
		precond:    r.Forward.UsePreconditioner,
		params:     params,
		scale:      r.SensScale,
		finiteDiff: r.FiniteDiff,
		relTol:     r.SensRelTol,
		sens:       x.Sensitivities,
	})
	ls, err := in.strategy(dae.Forward)
	if err != nil {
		return nil, err
	}

	times := in.outputTimes(x)
	cfg := r.BDF(dae.Forward)
	cfg.FirstTime = times[1] - x.T0

	var cp *checkpoint.Manager
	var hookErr error
	opts := []bdf.Option{
		bdf.WithObserver(in.obs),
		bdf.WithLogger(log.With(in.logger, "direction", dae.Forward)),
		bdf.WithDirection(dae.Forward),
	}
	if x.AdjointSeeds != nil {
		cp, err = checkpoint.NewManager(n, r.StepsPerCheckpoint, r.Forward.MaxOrder, r.Interpolation)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bdf.WithStepHook(func(a bdf.Accepted) {
			if hookErr != nil {
				return
			}
			hookErr = cp.Record(checkpoint.Point{T: a.T, H: a.H, Order: a.Order, X: a.Y[:n], XDot: a.YP[:n]})
		}))
	}
	st, err := bdf.New(sys, ls, cfg, opts...)
	if err != nil {
		return nil, err
	}
	lay := st.Layout()

	y := make([]float64, lay.Len())
	yp := make([]float64, lay.Len())
	copy(y, x.X0)
	switch {
	case x.XDot0 != nil:
		copy(yp, x.XDot0)
	case r.InitXDot != nil:
		copy(yp, r.InitXDot)
	}
	if ini, ok := in.prob.(dae.InitialSensitivity); ok {
		for j, param := range params {
			ini.InitialSensitivity(p, param, lay.SensSlice(y, j))
		}
	}

	res := &Result{Furthest: x.T0, LastState: dae.Vector(x.X0).Clone()}
	fail := func(err error) (*Result, error) {
		res.Stats = st.Stats()
		res.Stats.JacEvals += sys.jacEvals
		res.Furthest = st.Time()
		if cur := st.Current(); cur != nil {
			res.LastState = dae.Vector(cur[:n]).Clone()
		}
		return res, err
	}

	if err := st.Init(x.T0, y, yp, x.Tf); err != nil {
		return fail(err)
	}
	res.record(lay, times[0], y)
	for _, tout := range times[1:] {
		if err := st.Advance(ctx, tout, y, yp); err != nil {
			return fail(err)
		}
		if hookErr != nil {
			return fail(hookErr)
		}
		res.record(lay, tout, y)
	}
	st.Finish()
	res.Stats = st.Stats()
	res.Stats.JacEvals += sys.jacEvals
	res.Furthest = x.Tf
	res.LastState = dae.Vector(lay.StateSlice(y)).Clone()
	level.Info(in.logger).Log("msg", "forward complete", "nsteps", res.Stats.Steps, "nlinsetups", res.Stats.LinSetups, "tf", x.Tf)

	if x.AdjointSeeds == nil {
		return res, nil
	}
	cp.Finish()
	if err := in.backward(ctx, p, cp, x, res); err != nil {
		return res, err
	}
	return res, nil
}

func (in *Integrator) backward(ctx context.Context, p []float64, cp *checkpoint.Manager, x Input, res *Result) error {
	r := in.res
	ls, err := in.strategy(dae.Backward)
	if err != nil {
		return err
	}
	cfg := adjoint.Config{
		T0:            x.T0,
		Tf:            x.Tf,
		Stepper:       r.BDF(dae.Backward),
		ExactJacobian: r.Backward.ExactJacobian,
		Observer:      in.obs,
		Logger:        in.logger,
	}
	if it, ok := r.Backward.Solver.(linsol.Iterative); ok && it.Precondition {
		cfg.Precondition = true
		cfg.PreType = it.PreType
	}
	a, err := adjoint.New(in.prob, p, cp, ls, cfg)
	if err != nil {
		return err
	}
	out, err := a.Run(ctx, *x.AdjointSeeds)
	res.Checkpoints = cp.Checkpoints()
	if out != nil {
		res.StatsB = out.Stats
		res.Gradient = out.Gradient
		res.Lambda0 = out.Lambda0
		res.FurthestB = out.Furthest
	}
	return err
}
