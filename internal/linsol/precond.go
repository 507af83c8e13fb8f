package linsol

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// jacobi is the diagonal preconditioner used when the caller supplies none.
// With split preconditioning the whole diagonal goes on the left.
type jacobi struct {
	op   Operator
	pre  PreType
	full *mat.Dense
	diag []float64
}

// NewJacobi returns a diagonal preconditioner built from op's matrix.
func NewJacobi(op Operator, pre PreType) Preconditioner {
	n := op.Dim()
	return &jacobi{
		op:   op,
		pre:  pre,
		full: mat.NewDense(n, n, nil),
		diag: make([]float64, n),
	}
}

func (j *jacobi) Setup() error {
	j.full.Zero()
	if err := j.op.Dense(j.full); err != nil {
		return err
	}
	for i := range j.diag {
		d := j.full.At(i, i)
		if d == 0 || math.IsNaN(d) {
			d = 1
		}
		j.diag[i] = d
	}
	return nil
}

func (j *jacobi) Solve(dst, r []float64, side Side) error {
	if side == Right && j.pre == PreBoth {
		copy(dst, r)
		return nil
	}
	for i := range r {
		dst[i] = r[i] / j.diag[i]
	}
	return nil
}
