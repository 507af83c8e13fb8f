package problems

import (
	"math"

	"github.com/san-kum/daesim/internal/dae"
	"gonum.org/v1/gonum/mat"
)

// Sine is the index-1 system
//
//	x0' = x1
//	0   = x1 - p·sin(t)
//
// with the quadrature q' = x0². Its solution from rest is
// x0 = p·(1 - cos t), x1 = p·sin t.
type Sine struct{}

func NewSine() *Sine { return &Sine{} }

func (*Sine) Dims() dae.Dims {
	return dae.Dims{States: 2, Params: 1, Quads: 1, Differential: []bool{true, false}}
}

func (*Sine) Residual(t float64, x, xdot, p, res []float64) error {
	res[0] = xdot[0] - x[1]
	res[1] = x[1] - p[0]*math.Sin(t)
	return nil
}

func (*Sine) Jacobian(_ float64, _, _, _ []float64, c float64, jac *mat.Dense) error {
	jac.Set(0, 0, c)
	jac.Set(0, 1, -1)
	jac.Set(1, 0, 0)
	jac.Set(1, 1, 1)
	return nil
}

func (*Sine) SensitivityResidual(t float64, _, _, _, s, sdot []float64, _ int, res []float64) error {
	res[0] = sdot[0] - s[1]
	res[1] = s[1] - math.Sin(t)
	return nil
}

func (*Sine) Quadrature(_ float64, x, _, q []float64) error {
	q[0] = x[0] * x[0]
	return nil
}

func (*Sine) ConstantMass() bool { return true }

// Solution returns the exact state at t.
func (*Sine) Solution(t float64, p []float64) []float64 {
	return []float64{p[0] * (1 - math.Cos(t)), p[0] * math.Sin(t)}
}
