package options

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/daesim/internal/bdf"
	"github.com/san-kum/daesim/internal/checkpoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
)

// Settings are the concrete settings of one integration direction.
type Settings struct {
	RelTol            float64
	AbsTol            []float64
	QuadAbsTol        float64
	CalcIC            bool
	ExactJacobian     bool
	Solver            linsol.Spec
	UsePreconditioner bool
	MaxSteps          int
	MaxStepSize       float64
	MaxOrder          int
	SuppressAlgebraic bool
	StopAtEnd         bool
}

// Resolved is Options with every inherited value filled in and every enum
// decoded. It is built once per integrator and never changes.
type Resolved struct {
	Forward  Settings
	Backward Settings

	CjScaling  bool
	QuadErrCon bool

	SensErrCon    bool
	SensRelTol    float64
	SensAbsTol    []float64
	Staggered     bool
	FiniteDiff    bool
	SensScale     []float64
	SensParams    []int
	ExtraSensIC   bool
	Interpolation checkpoint.Interpolation

	StepsPerCheckpoint int
	InitXDot           []float64
	FirstTime          float64
	DisableWarnings    bool

	MaxConvFails    int
	MaxErrTestFails int
	MaxNewtonIters  int
}

func configErr(option, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", dae.ErrConfig, option, fmt.Sprintf(format, args...))
}

// Resolve merges backward options from their forward counterparts and
// validates everything against a problem with n states and np parameters.
func Resolve(o *Options, n, np int) (Resolved, error) {
	if o == nil {
		o = DefaultOptions()
	}
	var r Resolved

	fwd, err := resolveForward(o, n)
	if err != nil {
		return r, err
	}
	bwd, err := resolveBackward(o, fwd, n)
	if err != nil {
		return r, err
	}
	r.Forward, r.Backward = fwd, bwd

	r.CjScaling = o.CjScaling
	r.QuadErrCon = o.QuadErrCon
	r.SensErrCon = o.FSensErrCon
	r.FiniteDiff = o.FiniteDifferenceFSens
	r.ExtraSensIC = o.ExtraFSensCalcIC
	r.DisableWarnings = o.DisableInternalWarnings

	r.SensRelTol = fwd.RelTol
	if o.FSensRelTol != nil {
		r.SensRelTol = *o.FSensRelTol
	}
	r.SensAbsTol = fwd.AbsTol
	switch {
	case o.FSensAbsTolV != nil:
		if len(o.FSensAbsTolV) != n {
			return r, configErr("fsens_abstolv", "has %d entries for %d states", len(o.FSensAbsTolV), n)
		}
		r.SensAbsTol = cloneFloats(o.FSensAbsTolV)
	case o.FSensAbsTol != nil:
		r.SensAbsTol = []float64{*o.FSensAbsTol}
	}
	if err := checkTolerances("fsens_reltol", r.SensRelTol, r.SensAbsTol); err != nil {
		return r, err
	}

	switch strings.ToLower(o.SensitivityMethod) {
	case "", "simultaneous":
	case "staggered":
		r.Staggered = true
	default:
		return r, configErr("sensitivity_method", "unknown method %q", o.SensitivityMethod)
	}

	r.Interpolation, err = checkpoint.ParseInterpolation(o.InterpolationType)
	if err != nil {
		return r, configErr("interpolation_type", "unknown type %q", o.InterpolationType)
	}

	if r.SensParams, err = sensParams(o.FSensSensitivityParameters, np); err != nil {
		return r, err
	}
	if r.SensScale, err = sensScale(o.FSensScalingFactors, len(r.SensParams)); err != nil {
		return r, err
	}

	if o.StepsPerCheckpoint < 1 {
		return r, configErr("steps_per_checkpoint", "must be >= 1, got %d", o.StepsPerCheckpoint)
	}
	r.StepsPerCheckpoint = o.StepsPerCheckpoint

	if o.InitXDot != nil && len(o.InitXDot) != n {
		return r, configErr("init_xdot", "has %d entries for %d states", len(o.InitXDot), n)
	}
	r.InitXDot = cloneFloats(o.InitXDot)

	if o.FirstTime != nil {
		if !(*o.FirstTime > 0 && *o.FirstTime <= 1) {
			return r, configErr("first_time", "must be in (0, 1], got %g", *o.FirstTime)
		}
		r.FirstTime = *o.FirstTime
	}

	r.MaxConvFails = positive(o.MaxConvFails, DefaultMaxConvFails)
	r.MaxErrTestFails = positive(o.MaxErrTestFails, DefaultMaxErrTestFails)
	r.MaxNewtonIters = positive(o.MaxNewtonIters, DefaultMaxNewtonIters)
	return r, nil
}

func positive(v, def int) int {
	if v < 1 {
		return def
	}
	return v
}

func resolveForward(o *Options, n int) (Settings, error) {
	s := Settings{
		RelTol:            o.RelTol,
		AbsTol:            []float64{o.AbsTol},
		QuadAbsTol:        o.AbsTol,
		CalcIC:            o.CalcIC,
		ExactJacobian:     o.ExactJacobian,
		UsePreconditioner: o.UsePreconditioner,
		MaxSteps:          o.MaxNumSteps,
		MaxStepSize:       o.MaxStepSize,
		MaxOrder:          o.MaxMultistepOrder,
		SuppressAlgebraic: o.SuppressAlgebraic,
		StopAtEnd:         o.StopAtEnd,
	}
	if o.AbsTolV != nil {
		if len(o.AbsTolV) != n {
			return s, configErr("abstolv", "has %d entries for %d states", len(o.AbsTolV), n)
		}
		s.AbsTol = cloneFloats(o.AbsTolV)
	}
	if err := checkTolerances("reltol", s.RelTol, s.AbsTol); err != nil {
		return s, err
	}
	if err := checkStepping("", s); err != nil {
		return s, err
	}
	spec, err := solverSpec(n, "", o.LinearSolverType, o.IterativeSolver, o.PreType,
		o.UsePreconditioner, o.MaxKrylov, o.LowerBandwidth, o.UpperBandwidth)
	if err != nil {
		return s, err
	}
	s.Solver = spec
	return s, nil
}

// resolveBackward fills every unset backward option from the forward one.
// The backward iteration matrix is the transpose of the forward one, so
// inherited bandwidths swap.
func resolveBackward(o *Options, fwd Settings, n int) (Settings, error) {
	s := fwd
	s.AbsTol = fwd.AbsTol
	if o.AbsTolB != nil {
		s.AbsTol = []float64{*o.AbsTolB}
		s.QuadAbsTol = *o.AbsTolB
	}
	if o.RelTolB != nil {
		s.RelTol = *o.RelTolB
	}
	if o.CalcICB != nil {
		s.CalcIC = *o.CalcICB
	}
	if o.ExactJacobianB != nil {
		s.ExactJacobian = *o.ExactJacobianB
	}
	if o.UsePreconditionerB != nil {
		s.UsePreconditioner = *o.UsePreconditionerB
	}
	if o.MaxNumStepsB != nil {
		s.MaxSteps = *o.MaxNumStepsB
	}
	if o.MaxStepSizeB != nil {
		s.MaxStepSize = *o.MaxStepSizeB
	}
	if o.MaxMultistepOrderB != nil {
		s.MaxOrder = *o.MaxMultistepOrderB
	}
	if o.SuppressAlgebraicB != nil {
		s.SuppressAlgebraic = *o.SuppressAlgebraicB
	}
	// The adjoint sweep must land on t0 exactly.
	s.StopAtEnd = true

	if err := checkTolerances("reltolB", s.RelTol, s.AbsTol); err != nil {
		return s, err
	}
	if err := checkStepping("B", s); err != nil {
		return s, err
	}

	solverType := o.LinearSolverType
	if o.LinearSolverTypeB != nil {
		solverType = *o.LinearSolverTypeB
	}
	method := inherit(o.IterativeSolverB, o.IterativeSolver)
	pretype := inherit(o.PreTypeB, o.PreType)
	krylov := o.MaxKrylov
	if o.MaxKrylovB != nil {
		krylov = *o.MaxKrylovB
	}
	lower, upper := o.UpperBandwidth, o.LowerBandwidth
	if o.LowerBandwidthB != nil {
		lower = o.LowerBandwidthB
	}
	if o.UpperBandwidthB != nil {
		upper = o.UpperBandwidthB
	}
	spec, err := solverSpec(n, "B", solverType, method, pretype, s.UsePreconditioner, krylov, lower, upper)
	if err != nil {
		return s, err
	}
	s.Solver = spec
	return s, nil
}

func inherit(b *string, f string) string {
	if b != nil {
		return *b
	}
	return f
}

func checkTolerances(name string, rtol float64, atol []float64) error {
	if math.IsNaN(rtol) || rtol < 0 {
		return configErr(name, "must be >= 0, got %g", rtol)
	}
	anyPositive := false
	for _, a := range atol {
		if math.IsNaN(a) || a < 0 {
			return configErr(name, "absolute tolerance must be >= 0, got %g", a)
		}
		anyPositive = anyPositive || a > 0
	}
	if rtol == 0 && !anyPositive {
		return configErr(name, "relative and absolute tolerances are both zero")
	}
	return nil
}

func checkStepping(suffix string, s Settings) error {
	if s.MaxSteps < 1 {
		return configErr("max_num_steps"+suffix, "must be >= 1, got %d", s.MaxSteps)
	}
	if s.MaxStepSize < 0 {
		return configErr("max_step_size"+suffix, "must be >= 0, got %g", s.MaxStepSize)
	}
	if s.MaxOrder < 1 || s.MaxOrder > 5 {
		return configErr("max_multistep_order"+suffix, "must be in [1, 5], got %d", s.MaxOrder)
	}
	return nil
}

func solverSpec(n int, suffix, kind, method, pretype string, precondition bool, krylov int, lower, upper *int) (linsol.Spec, error) {
	switch strings.ToLower(kind) {
	case "", "dense":
		return linsol.Dense{}, nil
	case "user_defined":
		// Filled in by the integrator from the caller's strategy.
		return linsol.UserDefined{}, nil
	case "banded":
		if lower == nil || upper == nil {
			return nil, configErr("linear_solver_type"+suffix, "banded solver needs lower_bandwidth and upper_bandwidth")
		}
		for _, bw := range []struct {
			name string
			v    int
		}{{"lower_bandwidth", *lower}, {"upper_bandwidth", *upper}} {
			if bw.v < 0 || bw.v > n-1 {
				return nil, configErr(bw.name+suffix, "%d outside [0, %d]", bw.v, n-1)
			}
		}
		return linsol.Banded{Lower: *lower, Upper: *upper}, nil
	case "iterative":
		it := linsol.Iterative{MaxKrylov: krylov, Precondition: precondition, MaxRestarts: linsol.DefaultMaxRestarts}
		switch strings.ToLower(method) {
		case "", "gmres":
			it.Method = linsol.GMRES
		case "bcgstab":
			it.Method = linsol.BiCGStab
		case "tfqmr":
			it.Method = linsol.TFQMR
		default:
			return nil, configErr("iterative_solver"+suffix, "unknown solver %q", method)
		}
		if krylov < 1 {
			return nil, configErr("max_krylov"+suffix, "must be >= 1, got %d", krylov)
		}
		switch strings.ToLower(pretype) {
		case "none":
			it.PreType = linsol.PreNone
		case "", "left":
			it.PreType = linsol.PreLeft
		case "right":
			it.PreType = linsol.PreRight
		case "both":
			it.PreType = linsol.PreBoth
		default:
			return nil, configErr("pretype"+suffix, "unknown type %q", pretype)
		}
		if !precondition {
			it.PreType = linsol.PreNone
		} else if it.PreType == linsol.PreNone {
			it.PreType = linsol.PreLeft
		}
		it.Precondition = it.PreType != linsol.PreNone
		return it, nil
	}
	return nil, configErr("linear_solver_type"+suffix, "unknown type %q", kind)
}

func sensParams(sel []int, np int) ([]int, error) {
	if sel == nil {
		out := make([]int, np)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	seen := make(map[int]bool, len(sel))
	for _, j := range sel {
		if j < 0 || j >= np {
			return nil, configErr("fsens_sensitivity_parameters", "index %d outside [0, %d)", j, np)
		}
		if seen[j] {
			return nil, configErr("fsens_sensitivity_parameters", "index %d repeated", j)
		}
		seen[j] = true
	}
	return append([]int(nil), sel...), nil
}

func sensScale(pbar []float64, ns int) ([]float64, error) {
	if pbar == nil {
		out := make([]float64, ns)
		for i := range out {
			out[i] = 1
		}
		return out, nil
	}
	if len(pbar) != ns {
		return nil, configErr("fsens_scaling_factors", "has %d entries for %d sensitivities", len(pbar), ns)
	}
	for _, v := range pbar {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, configErr("fsens_scaling_factors", "entries must be finite and nonzero, got %g", v)
		}
	}
	return cloneFloats(pbar), nil
}

// BDF returns the stepper configuration for one direction.
func (r Resolved) BDF(dir dae.Direction) bdf.Config {
	s := r.Forward
	if dir == dae.Backward {
		s = r.Backward
	}
	cfg := bdf.Config{
		RelTol:            s.RelTol,
		AbsTol:            s.AbsTol,
		QuadAbsTol:        s.QuadAbsTol,
		MaxOrder:          s.MaxOrder,
		MaxSteps:          s.MaxSteps,
		MaxStepSize:       s.MaxStepSize,
		StopAtEnd:         s.StopAtEnd,
		SuppressAlgebraic: s.SuppressAlgebraic,
		QuadErrCon:        r.QuadErrCon,
		CjScaling:         r.CjScaling,
		CalcIC:            s.CalcIC,
		MaxConvFails:      r.MaxConvFails,
		MaxErrTestFails:   r.MaxErrTestFails,
		MaxNewtonIters:    r.MaxNewtonIters,
	}
	if dir == dae.Forward {
		cfg.SensRelTol = r.SensRelTol
		cfg.SensAbsTol = r.SensAbsTol
		cfg.SensScale = r.SensScale
		cfg.SensErrCon = r.SensErrCon
		cfg.Staggered = r.Staggered
		cfg.ExtraSensIC = r.ExtraSensIC
	}
	return cfg
}
