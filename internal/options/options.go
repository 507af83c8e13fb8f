package options

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAbsTol             = 1e-8
	DefaultRelTol             = 1e-6
	DefaultMaxNumSteps        = 10000
	DefaultMaxOrder           = 5
	DefaultMaxKrylov          = 10
	DefaultStepsPerCheckpoint = 20
	DefaultMaxConvFails       = 10
	DefaultMaxErrTestFails    = 10
	DefaultMaxNewtonIters     = 4
)

// Options is the user-facing option surface. Pointer fields are optional:
// nil means the value is inherited, usually from the forward counterpart.
type Options struct {
	AbsTol  float64   `yaml:"abstol"`
	RelTol  float64   `yaml:"reltol"`
	AbsTolV []float64 `yaml:"abstolv,omitempty"`
	AbsTolB *float64  `yaml:"abstolB,omitempty"`
	RelTolB *float64  `yaml:"reltolB,omitempty"`

	CalcIC    bool  `yaml:"calc_ic"`
	CalcICB   *bool `yaml:"calc_icB,omitempty"`
	CjScaling bool  `yaml:"cj_scaling"`

	ExactJacobian  bool  `yaml:"exact_jacobian"`
	ExactJacobianB *bool `yaml:"exact_jacobianB,omitempty"`

	LinearSolverType   string  `yaml:"linear_solver_type"`
	LinearSolverTypeB  *string `yaml:"linear_solver_typeB,omitempty"`
	IterativeSolver    string  `yaml:"iterative_solver"`
	IterativeSolverB   *string `yaml:"iterative_solverB,omitempty"`
	PreType            string  `yaml:"pretype"`
	PreTypeB           *string `yaml:"pretypeB,omitempty"`
	UsePreconditioner  bool    `yaml:"use_preconditioner"`
	UsePreconditionerB *bool   `yaml:"use_preconditionerB,omitempty"`
	MaxKrylov          int     `yaml:"max_krylov"`
	MaxKrylovB         *int    `yaml:"max_krylovB,omitempty"`
	LowerBandwidth     *int    `yaml:"lower_bandwidth,omitempty"`
	UpperBandwidth     *int    `yaml:"upper_bandwidth,omitempty"`
	LowerBandwidthB    *int    `yaml:"lower_bandwidthB,omitempty"`
	UpperBandwidthB    *int    `yaml:"upper_bandwidthB,omitempty"`

	MaxNumSteps        int      `yaml:"max_num_steps"`
	MaxNumStepsB       *int     `yaml:"max_num_stepsB,omitempty"`
	MaxStepSize        float64  `yaml:"max_step_size"`
	MaxStepSizeB       *float64 `yaml:"max_step_sizeB,omitempty"`
	MaxMultistepOrder  int      `yaml:"max_multistep_order"`
	MaxMultistepOrderB *int     `yaml:"max_multistep_orderB,omitempty"`
	StepsPerCheckpoint int      `yaml:"steps_per_checkpoint"`
	StopAtEnd          bool     `yaml:"stop_at_end"`
	SuppressAlgebraic  bool     `yaml:"suppress_algebraic"`
	SuppressAlgebraicB *bool    `yaml:"suppress_algebraicB,omitempty"`
	QuadErrCon         bool     `yaml:"quad_err_con"`

	FSensErrCon                bool      `yaml:"fsens_err_con"`
	FSensAbsTol                *float64  `yaml:"fsens_abstol,omitempty"`
	FSensAbsTolV               []float64 `yaml:"fsens_abstolv,omitempty"`
	FSensRelTol                *float64  `yaml:"fsens_reltol,omitempty"`
	SensitivityMethod          string    `yaml:"sensitivity_method"`
	FiniteDifferenceFSens      bool      `yaml:"finite_difference_fsens"`
	FSensScalingFactors        []float64 `yaml:"fsens_scaling_factors,omitempty"`
	FSensSensitivityParameters []int     `yaml:"fsens_sensitivity_parameters,omitempty"`
	ExtraFSensCalcIC           bool      `yaml:"extra_fsens_calc_ic"`

	InterpolationType       string    `yaml:"interpolation_type"`
	InitXDot                []float64 `yaml:"init_xdot,omitempty"`
	FirstTime               *float64  `yaml:"first_time,omitempty"`
	DisableInternalWarnings bool      `yaml:"disable_internal_warnings"`

	MaxConvFails    int `yaml:"max_conv_fails"`
	MaxErrTestFails int `yaml:"max_err_test_fails"`
	MaxNewtonIters  int `yaml:"max_newton_iters"`
}

func DefaultOptions() *Options {
	return &Options{
		AbsTol:             DefaultAbsTol,
		RelTol:             DefaultRelTol,
		CalcIC:             true,
		CjScaling:          false,
		ExactJacobian:      true,
		LinearSolverType:   "dense",
		IterativeSolver:    "gmres",
		PreType:            "none",
		MaxKrylov:          DefaultMaxKrylov,
		MaxNumSteps:        DefaultMaxNumSteps,
		MaxMultistepOrder:  DefaultMaxOrder,
		StepsPerCheckpoint: DefaultStepsPerCheckpoint,
		StopAtEnd:          true,
		FSensErrCon:        true,
		SensitivityMethod:  "simultaneous",
		InterpolationType:  "hermite",
		MaxConvFails:       DefaultMaxConvFails,
		MaxErrTestFails:    DefaultMaxErrTestFails,
		MaxNewtonIters:     DefaultMaxNewtonIters,
	}
}

// Clone returns a deep copy, so presets can be modified by callers.
func (o *Options) Clone() *Options {
	c := *o
	c.AbsTolV = cloneFloats(o.AbsTolV)
	c.FSensAbsTolV = cloneFloats(o.FSensAbsTolV)
	c.FSensScalingFactors = cloneFloats(o.FSensScalingFactors)
	c.InitXDot = cloneFloats(o.InitXDot)
	if o.FSensSensitivityParameters != nil {
		c.FSensSensitivityParameters = append([]int(nil), o.FSensSensitivityParameters...)
	}
	c.AbsTolB = clonePtr(o.AbsTolB)
	c.RelTolB = clonePtr(o.RelTolB)
	c.CalcICB = clonePtr(o.CalcICB)
	c.ExactJacobianB = clonePtr(o.ExactJacobianB)
	c.LinearSolverTypeB = clonePtr(o.LinearSolverTypeB)
	c.IterativeSolverB = clonePtr(o.IterativeSolverB)
	c.PreTypeB = clonePtr(o.PreTypeB)
	c.UsePreconditionerB = clonePtr(o.UsePreconditionerB)
	c.MaxKrylovB = clonePtr(o.MaxKrylovB)
	c.LowerBandwidth = clonePtr(o.LowerBandwidth)
	c.UpperBandwidth = clonePtr(o.UpperBandwidth)
	c.LowerBandwidthB = clonePtr(o.LowerBandwidthB)
	c.UpperBandwidthB = clonePtr(o.UpperBandwidthB)
	c.MaxNumStepsB = clonePtr(o.MaxNumStepsB)
	c.MaxStepSizeB = clonePtr(o.MaxStepSizeB)
	c.MaxMultistepOrderB = clonePtr(o.MaxMultistepOrderB)
	c.SuppressAlgebraicB = clonePtr(o.SuppressAlgebraicB)
	c.FSensAbsTol = clonePtr(o.FSensAbsTol)
	c.FSensRelTol = clonePtr(o.FSensRelTol)
	c.FirstTime = clonePtr(o.FirstTime)
	return &c
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v, for setting optional fields.
func Ptr[T any](v T) *T { return &v }

func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	o := DefaultOptions()
	if err := yaml.Unmarshal(data, o); err != nil {
		return nil, err
	}
	return o, nil
}

func Save(path string, o *Options) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
