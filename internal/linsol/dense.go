package linsol

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

type denseSolver struct {
	n   int
	jac *mat.Dense
	lu  mat.LU
	rhs *mat.VecDense
	x   *mat.VecDense
	ok  bool
}

func newDense(n int) *denseSolver {
	return &denseSolver{
		n:   n,
		jac: mat.NewDense(n, n, nil),
		rhs: mat.NewVecDense(n, nil),
		x:   mat.NewVecDense(n, nil),
	}
}

func (d *denseSolver) Name() string { return "dense" }

func (d *denseSolver) Setup(op Operator) error {
	d.ok = false
	d.jac.Zero()
	if err := op.Dense(d.jac); err != nil {
		return err
	}
	d.lu.Factorize(d.jac)
	cond := d.lu.Cond()
	logDet, _ := d.lu.LogDet()
	if math.IsInf(cond, 0) || math.IsNaN(cond) || math.IsInf(logDet, -1) {
		return fmt.Errorf("%w: singular iteration matrix at t=%g", ErrSolve, op.T())
	}
	d.ok = true
	return nil
}

func (d *denseSolver) Solve(b []float64) error {
	if !d.ok {
		return fmt.Errorf("%w: solve before setup", ErrSolve)
	}
	copy(d.rhs.RawVector().Data, b)
	if err := d.lu.SolveVecTo(d.x, false, d.rhs); err != nil {
		// An ill-conditioned but nonsingular factor still yields a usable
		// Newton direction.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return fmt.Errorf("%w: %v", ErrSolve, err)
		}
	}
	copy(b, d.x.RawVector().Data)
	return nil
}
