package problems

import (
	"math"

	"github.com/san-kum/daesim/internal/dae"
	"gonum.org/v1/gonum/mat"
)

// Decay is a set of independent exponential decays x_i' = -p_i·x_i. Its
// iteration matrix is diagonal.
type Decay struct {
	N int
}

func NewDecay(n int) *Decay { return &Decay{N: n} }

func (d *Decay) Dims() dae.Dims {
	return dae.Dims{States: d.N, Params: d.N, Quads: 1}
}

func (d *Decay) Residual(_ float64, x, xdot, p, res []float64) error {
	for i := range res {
		res[i] = xdot[i] + p[i]*x[i]
	}
	return nil
}

func (d *Decay) Jacobian(_ float64, _, _, p []float64, c float64, jac *mat.Dense) error {
	jac.Zero()
	for i := 0; i < d.N; i++ {
		jac.Set(i, i, c+p[i])
	}
	return nil
}

func (d *Decay) Quadrature(_ float64, x, _, q []float64) error {
	s := 0.0
	for _, v := range x {
		s += v
	}
	q[0] = s
	return nil
}

func (d *Decay) ConstantMass() bool { return true }

func (d *Decay) Start() []float64 {
	x := make([]float64, d.N)
	for i := range x {
		x[i] = 1
	}
	return x
}

func (d *Decay) Rates() []float64 {
	p := make([]float64, d.N)
	for i := range p {
		p[i] = 0.5 + float64(i)
	}
	return p
}

func (d *Decay) Solution(t float64, x0, p []float64) []float64 {
	x := make([]float64, d.N)
	for i := range x {
		x[i] = x0[i] * math.Exp(-p[i]*t)
	}
	return x
}
