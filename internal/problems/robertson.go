package problems

import (
	"github.com/san-kum/daesim/internal/dae"
	"gonum.org/v1/gonum/mat"
)

// Robertson is the stiff chemical kinetics benchmark written with the mass
// conservation law as an algebraic equation. p = (k1, k2, k3).
type Robertson struct{}

func NewRobertson() *Robertson { return &Robertson{} }

func (*Robertson) Dims() dae.Dims {
	return dae.Dims{States: 3, Params: 3, Differential: []bool{true, true, false}}
}

func (*Robertson) Residual(_ float64, y, yp, p, res []float64) error {
	r1 := p[0] * y[0]
	r2 := p[1] * y[1] * y[2]
	r3 := p[2] * y[1] * y[1]
	res[0] = yp[0] + r1 - r2
	res[1] = yp[1] - r1 + r2 + r3
	res[2] = y[0] + y[1] + y[2] - 1
	return nil
}

func (*Robertson) Jacobian(_ float64, y, _, p []float64, c float64, jac *mat.Dense) error {
	jac.Set(0, 0, c+p[0])
	jac.Set(0, 1, -p[1]*y[2])
	jac.Set(0, 2, -p[1]*y[1])
	jac.Set(1, 0, -p[0])
	jac.Set(1, 1, c+p[1]*y[2]+2*p[2]*y[1])
	jac.Set(1, 2, p[1]*y[1])
	jac.Set(2, 0, 1)
	jac.Set(2, 1, 1)
	jac.Set(2, 2, 1)
	return nil
}

func (*Robertson) ParamJacobian(_ float64, y, _, _ []float64, dst *mat.Dense) error {
	dst.Zero()
	dst.Set(0, 0, y[0])
	dst.Set(0, 1, -y[1]*y[2])
	dst.Set(1, 0, -y[0])
	dst.Set(1, 1, y[1]*y[2])
	dst.Set(1, 2, y[1]*y[1])
	return nil
}

func (*Robertson) ConstantMass() bool { return true }
