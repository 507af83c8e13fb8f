package dae

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	uround = math.Nextafter(1, 2) - 1
	srur   = math.Sqrt(uround)
	crur   = math.Cbrt(uround)
)

// ResidualFunc evaluates a residual at (t, y, yp).
type ResidualFunc func(t float64, y, yp, res []float64) error

// increment picks the perturbation for column j of a difference-quotient
// Jacobian; it follows the sign of the step the column is moving in.
func increment(y, yp, c float64) float64 {
	scale := math.Max(math.Abs(y), 1)
	if c > 0 {
		scale = math.Max(scale, math.Abs(yp/c))
	}
	inc := srur * scale
	if c > 0 && yp < 0 {
		inc = -inc
	}
	return inc
}

// DenseDQ approximates ∂F/∂y + c·∂F/∂y' column by column. f0 must hold
// F(t, y, yp).
func DenseDQ(f ResidualFunc, t float64, y, yp, f0 []float64, c float64, dst *mat.Dense) error {
	n := len(y)
	yj := append([]float64(nil), y...)
	ypj := append([]float64(nil), yp...)
	f1 := make([]float64, n)
	for j := 0; j < n; j++ {
		inc := increment(y[j], yp[j], c)
		yj[j] += inc
		ypj[j] += c * inc
		if err := f(t, yj, ypj, f1); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			dst.Set(i, j, (f1[i]-f0[i])/inc)
		}
		yj[j] = y[j]
		ypj[j] = yp[j]
	}
	return nil
}

// BandDQ fills the band of dst using one residual evaluation per group of
// kl+ku+1 structurally independent columns.
func BandDQ(f ResidualFunc, t float64, y, yp, f0 []float64, c float64, dst *mat.BandDense) error {
	n := len(y)
	kl, ku := dst.Bandwidth()
	width := kl + ku + 1
	yj := make([]float64, n)
	ypj := make([]float64, n)
	inc := make([]float64, n)
	f1 := make([]float64, n)
	for g := 0; g < width && g < n; g++ {
		copy(yj, y)
		copy(ypj, yp)
		for j := g; j < n; j += width {
			inc[j] = increment(y[j], yp[j], c)
			yj[j] += inc[j]
			ypj[j] += c * inc[j]
		}
		if err := f(t, yj, ypj, f1); err != nil {
			return err
		}
		for j := g; j < n; j += width {
			lo := max(0, j-ku)
			hi := min(n-1, j+kl)
			for i := lo; i <= hi; i++ {
				dst.SetBand(i, j, (f1[i]-f0[i])/inc[j])
			}
		}
	}
	return nil
}

// JacVecDQ approximates (∂F/∂y + c·∂F/∂y')·v with one residual evaluation.
func JacVecDQ(f ResidualFunc, t float64, y, yp, f0 []float64, c float64, v, dst []float64) error {
	vnorm := floats.Norm(v, 2)
	if vnorm == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	sigma := srur * (1 + floats.Norm(y, 2)) / vnorm
	n := len(y)
	ys := make([]float64, n)
	yps := make([]float64, n)
	floats.AddScaledTo(ys, y, sigma, v)
	floats.AddScaledTo(yps, yp, c*sigma, v)
	if err := f(t, ys, yps, dst); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = (dst[i] - f0[i]) / sigma
	}
	return nil
}

// Partials writes F_x into fx and F_ẋ into fxd at (t, x, xdot). The
// problem's Jacobian is used when exact is set and available.
func Partials(prob Problem, exact bool, t float64, x, xdot, p []float64, fx, fxd *mat.Dense) error {
	if jac, ok := prob.(Jacobian); ok && exact {
		n := len(x)
		if err := jac.Jacobian(t, x, xdot, p, 0, fx); err != nil {
			return err
		}
		one := mat.NewDense(n, n, nil)
		if err := jac.Jacobian(t, x, xdot, p, 1, one); err != nil {
			return err
		}
		fxd.Sub(one, fx)
		return nil
	}

	f := func(t float64, y, yp, res []float64) error {
		return prob.Residual(t, y, yp, p, res)
	}
	n := len(x)
	f0 := make([]float64, n)
	if err := f(t, x, xdot, f0); err != nil {
		return err
	}
	if err := DenseDQ(f, t, x, xdot, f0, 0, fx); err != nil {
		return err
	}
	xdj := append([]float64(nil), xdot...)
	f1 := make([]float64, n)
	for j := 0; j < n; j++ {
		inc := srur * math.Max(math.Abs(xdot[j]), 1)
		xdj[j] += inc
		if err := f(t, x, xdj, f1); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			fxd.Set(i, j, (f1[i]-f0[i])/inc)
		}
		xdj[j] = xdot[j]
	}
	return nil
}

// ParamPartials writes F_p (n × np) into fp, by central differences when the
// problem has no ParamJacobian.
func ParamPartials(prob Problem, t float64, x, xdot, p []float64, fp *mat.Dense) error {
	if pj, ok := prob.(ParamJacobian); ok {
		return pj.ParamJacobian(t, x, xdot, p, fp)
	}
	n := len(x)
	pj := append([]float64(nil), p...)
	fplus := make([]float64, n)
	fminus := make([]float64, n)
	for j := range p {
		dp := crur * math.Max(math.Abs(p[j]), 1)
		pj[j] = p[j] + dp
		if err := prob.Residual(t, x, xdot, pj, fplus); err != nil {
			return err
		}
		pj[j] = p[j] - dp
		if err := prob.Residual(t, x, xdot, pj, fminus); err != nil {
			return err
		}
		pj[j] = p[j]
		for i := 0; i < n; i++ {
			fp.Set(i, j, (fplus[i]-fminus[i])/(2*dp))
		}
	}
	return nil
}
