package dae

import (
	"math"

	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

type Vector []float64

func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	c := make(Vector, len(v))
	copy(c, v)
	return c
}

func (v Vector) IsValid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Dims describes the shape of a problem. Differential marks the states
// whose derivative appears in F; nil means every state is differential.
type Dims struct {
	States       int
	Params       int
	Quads        int
	Differential []bool
}

// IsDifferential reports whether state i is differential.
func (d Dims) IsDifferential(i int) bool {
	return d.Differential == nil || d.Differential[i]
}

type Problem interface {
	Dims() Dims
	Residual(t float64, x, xdot, p, res []float64) error
}

type Jacobian interface {
	// Jacobian writes ∂F/∂x + c·∂F/∂ẋ into jac.
	Jacobian(t float64, x, xdot, p []float64, c float64, jac *mat.Dense) error
}

type SensitivityResidual interface {
	// SensitivityResidual writes F_x·s + F_ẋ·ṡ + ∂F/∂p_param.
	SensitivityResidual(t float64, x, xdot, p, s, sdot []float64, param int, res []float64) error
}

type ParamJacobian interface {
	ParamJacobian(t float64, x, xdot, p []float64, dst *mat.Dense) error
}

type Quadrature interface {
	Quadrature(t float64, x, p, q []float64) error
}

type Preconditioner interface {
	PrecSetup(t float64, x, xdot, p []float64, c float64) error
	PrecSolve(t float64, r, z []float64, side linsol.Side) error
}

type InitialSensitivity interface {
	InitialSensitivity(p []float64, param int, s []float64)
}

// ConstantMass is implemented by problems whose ∂F/∂ẋ does not depend on t,
// x or ẋ. The adjoint pass then skips differentiating it along the
// trajectory.
type ConstantMass interface {
	ConstantMass() bool
}

// System is what the stepper integrates.
type System interface {
	Dim() int
	Differential() []bool
	Residual(t float64, y, yp, res []float64) error
	Linearize(t float64, y, yp []float64, c float64) linsol.Operator
}

type SensitivitySystem interface {
	NumSens() int
	SensResidual(t float64, y, yp, s, sp []float64, is int, res []float64) error
}

type QuadratureSystem interface {
	NumQuad() int
	QuadRHS(t float64, y, yp, qdot []float64) error
}

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}
