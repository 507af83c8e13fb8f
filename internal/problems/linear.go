package problems

import (
	"math"

	"github.com/san-kum/daesim/internal/dae"
	"gonum.org/v1/gonum/mat"
)

// Linear is the semi-explicit index-1 system
//
//	x' + a·x - z = 0
//	z - b·x      = 0
//
// with parameters p = (a, b, x0) and the quadrature q' = x. The exact
// solution is x = x0·exp((b-a)·t), z = b·x.
type Linear struct{}

func NewLinear() *Linear { return &Linear{} }

func (*Linear) Dims() dae.Dims {
	return dae.Dims{States: 2, Params: 3, Quads: 1, Differential: []bool{true, false}}
}

func (*Linear) Residual(_ float64, x, xdot, p, res []float64) error {
	res[0] = xdot[0] + p[0]*x[0] - x[1]
	res[1] = x[1] - p[1]*x[0]
	return nil
}

func (*Linear) Jacobian(_ float64, _, _, p []float64, c float64, jac *mat.Dense) error {
	jac.Set(0, 0, c+p[0])
	jac.Set(0, 1, -1)
	jac.Set(1, 0, -p[1])
	jac.Set(1, 1, 1)
	return nil
}

func (*Linear) ParamJacobian(_ float64, x, _, _ []float64, dst *mat.Dense) error {
	dst.Zero()
	dst.Set(0, 0, x[0])
	dst.Set(1, 1, -x[0])
	return nil
}

func (*Linear) Quadrature(_ float64, x, _, q []float64) error {
	q[0] = x[0]
	return nil
}

// InitialSensitivity differentiates the consistent start (x0, b·x0).
func (*Linear) InitialSensitivity(p []float64, param int, s []float64) {
	switch param {
	case 1:
		s[1] = p[2]
	case 2:
		s[0] = 1
		s[1] = p[1]
	}
}

func (*Linear) ConstantMass() bool { return true }

func (*Linear) Start(p []float64) []float64 {
	return []float64{p[2], p[1] * p[2]}
}

func (*Linear) Solution(t float64, p []float64) []float64 {
	x := p[2] * math.Exp((p[1]-p[0])*t)
	return []float64{x, p[1] * x}
}

// Integral returns ∫_0^t x dt.
func (*Linear) Integral(t float64, p []float64) float64 {
	k := p[1] - p[0]
	if k == 0 {
		return p[2] * t
	}
	return p[2] * (math.Exp(k*t) - 1) / k
}
