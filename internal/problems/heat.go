package problems

import (
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
	"gonum.org/v1/gonum/mat"
)

// Heat is the 1-D heat equation u_t = κ·u_xx on [0, 1], discretized on
// Cells interior points. The boundary values are algebraic states: a fixed
// temperature on the left and an insulated right end. p = (κ, uL).
//
// The iteration matrix is tridiagonal.
type Heat struct {
	Cells int

	diag []float64
}

func NewHeat(cells int) *Heat {
	return &Heat{Cells: cells}
}

func (h *Heat) n() int { return h.Cells + 2 }

func (h *Heat) dx() float64 { return 1 / float64(h.Cells+1) }

func (h *Heat) Dims() dae.Dims {
	mask := make([]bool, h.n())
	for i := 1; i <= h.Cells; i++ {
		mask[i] = true
	}
	return dae.Dims{States: h.n(), Params: 2, Quads: 1, Differential: mask}
}

func (h *Heat) Residual(_ float64, u, ut, p, res []float64) error {
	n := h.n()
	r := p[0] / (h.dx() * h.dx())
	res[0] = u[0] - p[1]
	for i := 1; i < n-1; i++ {
		res[i] = ut[i] - r*(u[i-1]-2*u[i]+u[i+1])
	}
	res[n-1] = u[n-1] - u[n-2]
	return nil
}

func (h *Heat) Jacobian(_ float64, _, _, p []float64, c float64, jac *mat.Dense) error {
	n := h.n()
	r := p[0] / (h.dx() * h.dx())
	jac.Zero()
	jac.Set(0, 0, 1)
	for i := 1; i < n-1; i++ {
		jac.Set(i, i-1, -r)
		jac.Set(i, i, c+2*r)
		jac.Set(i, i+1, -r)
	}
	jac.Set(n-1, n-2, -1)
	jac.Set(n-1, n-1, 1)
	return nil
}

// Quadrature integrates the total heat content.
func (h *Heat) Quadrature(_ float64, u, _, q []float64) error {
	s := 0.0
	for i := 1; i <= h.Cells; i++ {
		s += u[i]
	}
	q[0] = s * h.dx()
	return nil
}

// PrecSetup prepares a diagonal preconditioner for the iteration matrix.
func (h *Heat) PrecSetup(_ float64, _, _, p []float64, c float64) error {
	n := h.n()
	if len(h.diag) != n {
		h.diag = make([]float64, n)
	}
	r := p[0] / (h.dx() * h.dx())
	h.diag[0], h.diag[n-1] = 1, 1
	for i := 1; i < n-1; i++ {
		h.diag[i] = c + 2*r
	}
	return nil
}

func (h *Heat) PrecSolve(_ float64, r, z []float64, _ linsol.Side) error {
	for i := range r {
		z[i] = r[i] / h.diag[i]
	}
	return nil
}

func (h *Heat) ConstantMass() bool { return true }

// Start is a consistent initial profile for boundary value uL.
func (h *Heat) Start(p []float64) []float64 {
	n := h.n()
	u := make([]float64, n)
	u[0] = p[1]
	for i := 1; i < n-1; i++ {
		x := float64(i) * h.dx()
		u[i] = p[1] + x*(1-x)
	}
	u[n-1] = u[n-2]
	return u
}
