package linsol

import "gonum.org/v1/gonum/mat"

// MatrixOperator adapts an assembled matrix to Operator.
type MatrixOperator struct {
	M      *mat.Dense
	Time   float64
	Scalar float64
	P      Preconditioner
}

func (m *MatrixOperator) Dim() int {
	r, _ := m.M.Dims()
	return r
}

func (m *MatrixOperator) T() float64 { return m.Time }

func (m *MatrixOperator) C() float64 { return m.Scalar }

func (m *MatrixOperator) Dense(dst *mat.Dense) error {
	dst.Copy(m.M)
	return nil
}

func (m *MatrixOperator) MulVec(dst, v []float64) error {
	out := mat.NewVecDense(len(dst), dst)
	out.MulVec(m.M, mat.NewVecDense(len(v), v))
	return nil
}

func (m *MatrixOperator) Prec() Preconditioner { return m.P }
