package linsol

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultKrylovTol = 1e-10
	// DefaultMaxRestarts bounds GMRES restarts when the caller sets none.
	DefaultMaxRestarts = 5
)

// krylovSolver is matrix-free: every product goes through Operator.MulVec,
// so the operator captured at Setup defines the system until the next Setup.
type krylovSolver struct {
	n    int
	spec Iterative
	tol  float64
	op   Operator
	prec Preconditioner

	rhs, u, tmp, r []float64

	// ew scales the system when a weighted tolerance is set; abs is the
	// target for the 2-norm of the scaled residual.
	ew, sv []float64
	abs    float64

	// GMRES
	v  [][]float64
	h  [][]float64
	cs []float64
	sn []float64
	g  []float64
	y  []float64

	// BiCGStab / TFQMR
	w [8][]float64
}

func newKrylov(n int, spec Iterative) *krylovSolver {
	k := &krylovSolver{
		n:    n,
		spec: spec,
		tol:  spec.Tolerance,
		rhs:  make([]float64, n),
		u:    make([]float64, n),
		tmp:  make([]float64, n),
		r:    make([]float64, n),
		sv:   make([]float64, n),
	}
	if k.tol <= 0 {
		k.tol = defaultKrylovTol
	}
	if k.spec.MaxRestarts < 0 {
		k.spec.MaxRestarts = 0
	}
	switch spec.Method {
	case GMRES:
		m := spec.MaxKrylov
		k.v = make([][]float64, m+1)
		for i := range k.v {
			k.v[i] = make([]float64, n)
		}
		k.h = make([][]float64, m+1)
		for i := range k.h {
			k.h[i] = make([]float64, m)
		}
		k.cs = make([]float64, m)
		k.sn = make([]float64, m)
		k.g = make([]float64, m+1)
		k.y = make([]float64, m)
		k.w[0] = make([]float64, n)
	default:
		for i := range k.w {
			k.w[i] = make([]float64, n)
		}
	}
	return k
}

func (k *krylovSolver) Name() string { return k.spec.Method.String() }

func (k *krylovSolver) SetTolerance(tol float64, w []float64) {
	if tol <= 0 || len(w) != k.n {
		k.ew = nil
		return
	}
	if k.ew == nil {
		k.ew = make([]float64, k.n)
	}
	copy(k.ew, w)
	k.abs = tol * math.Sqrt(float64(k.n))
}

// target is the residual norm a solve of b must reach.
func (k *krylovSolver) target(b []float64) float64 {
	if k.ew != nil {
		return k.abs
	}
	return k.tol * floats.Norm(b, 2)
}

func (k *krylovSolver) preconditioned() bool {
	return k.spec.Precondition && k.spec.PreType != PreNone
}

func (k *krylovSolver) left() bool {
	return k.preconditioned() && (k.spec.PreType == PreLeft || k.spec.PreType == PreBoth)
}

func (k *krylovSolver) right() bool {
	return k.preconditioned() && (k.spec.PreType == PreRight || k.spec.PreType == PreBoth)
}

func (k *krylovSolver) Setup(op Operator) error {
	k.op = op
	k.prec = nil
	if !k.preconditioned() {
		return nil
	}
	p := op.Prec()
	if p == nil {
		p = NewJacobi(op, k.spec.PreType)
	}
	if err := p.Setup(); err != nil {
		return fmt.Errorf("%w: preconditioner setup: %v", ErrSolve, err)
	}
	k.prec = p
	return nil
}

// matvec applies the operator of the scaled system S·P1^-1·M·P2^-1·S^-1
// when weights are set, the unscaled one otherwise.
func (k *krylovSolver) matvec(dst, v []float64) error {
	if k.ew == nil {
		return k.apply(dst, v)
	}
	for i, w := range k.ew {
		k.sv[i] = v[i] / w
	}
	if err := k.apply(dst, k.sv); err != nil {
		return err
	}
	floats.Mul(dst, k.ew)
	return nil
}

// apply computes dst = P1^-1 · M · P2^-1 · v for the configured sides.
func (k *krylovSolver) apply(dst, v []float64) error {
	src := v
	if k.right() {
		if err := k.prec.Solve(k.tmp, v, Right); err != nil {
			return fmt.Errorf("%w: %v", ErrSolve, err)
		}
		src = k.tmp
	}
	if !k.left() {
		return k.op.MulVec(dst, src)
	}
	if err := k.op.MulVec(k.r, src); err != nil {
		return err
	}
	if err := k.prec.Solve(dst, k.r, Left); err != nil {
		return fmt.Errorf("%w: %v", ErrSolve, err)
	}
	return nil
}

func (k *krylovSolver) Solve(b []float64) error {
	if k.op == nil {
		return fmt.Errorf("%w: solve before setup", ErrSolve)
	}
	if k.left() {
		if err := k.prec.Solve(k.rhs, b, Left); err != nil {
			return fmt.Errorf("%w: %v", ErrSolve, err)
		}
	} else {
		copy(k.rhs, b)
	}
	if k.ew != nil {
		floats.Mul(k.rhs, k.ew)
	}

	var err error
	switch k.spec.Method {
	case BiCGStab:
		err = k.bicgstab(k.u, k.rhs)
	case TFQMR:
		err = k.tfqmr(k.u, k.rhs)
	default:
		err = k.gmres(k.u, k.rhs)
	}
	if err != nil {
		return err
	}
	if k.ew != nil {
		floats.Div(k.u, k.ew)
	}

	if k.right() {
		if err := k.prec.Solve(b, k.u, Right); err != nil {
			return fmt.Errorf("%w: %v", ErrSolve, err)
		}
		return nil
	}
	copy(b, k.u)
	return nil
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}

func (k *krylovSolver) gmres(x, b []float64) error {
	m := k.spec.MaxKrylov
	tol := k.target(b)
	zero(x)
	if tol == 0 {
		return nil
	}
	r := k.w[0]
	resid := math.Inf(1)
	for cycle := 0; cycle <= k.spec.MaxRestarts; cycle++ {
		if cycle == 0 {
			copy(r, b)
		} else {
			if err := k.matvec(r, x); err != nil {
				return err
			}
			floats.SubTo(r, b, r)
		}
		beta := floats.Norm(r, 2)
		if beta <= tol {
			return nil
		}
		floats.ScaleTo(k.v[0], 1/beta, r)
		zero(k.g)
		k.g[0] = beta

		j := 0
		for ; j < m; j++ {
			w := k.v[j+1]
			if err := k.matvec(w, k.v[j]); err != nil {
				return err
			}
			for i := 0; i <= j; i++ {
				hij := floats.Dot(w, k.v[i])
				k.h[i][j] = hij
				floats.AddScaled(w, -hij, k.v[i])
			}
			hn := floats.Norm(w, 2)
			k.h[j+1][j] = hn
			for i := 0; i < j; i++ {
				a, c := k.h[i][j], k.h[i+1][j]
				k.h[i][j] = k.cs[i]*a + k.sn[i]*c
				k.h[i+1][j] = -k.sn[i]*a + k.cs[i]*c
			}
			rho := math.Hypot(k.h[j][j], hn)
			if rho == 0 {
				k.cs[j], k.sn[j] = 1, 0
			} else {
				k.cs[j], k.sn[j] = k.h[j][j]/rho, hn/rho
			}
			k.h[j][j] = rho
			k.h[j+1][j] = 0
			k.g[j+1] = -k.sn[j] * k.g[j]
			k.g[j] = k.cs[j] * k.g[j]
			resid = math.Abs(k.g[j+1])
			if hn != 0 {
				floats.Scale(1/hn, w)
			}
			if resid <= tol || hn == 0 {
				j++
				break
			}
		}

		for i := j - 1; i >= 0; i-- {
			sum := k.g[i]
			for l := i + 1; l < j; l++ {
				sum -= k.h[i][l] * k.y[l]
			}
			if k.h[i][i] == 0 {
				return fmt.Errorf("%w: gmres breakdown", ErrSolve)
			}
			k.y[i] = sum / k.h[i][i]
		}
		for i := 0; i < j; i++ {
			floats.AddScaled(x, k.y[i], k.v[i])
		}
		if resid <= tol {
			return nil
		}
	}
	return fmt.Errorf("%w: gmres not converged after %d restarts (residual %g)", ErrSolve, k.spec.MaxRestarts, resid)
}

func (k *krylovSolver) bicgstab(x, b []float64) error {
	tol := k.target(b)
	zero(x)
	if tol == 0 {
		return nil
	}
	r, rhat, p, v, s, t := k.w[0], k.w[1], k.w[2], k.w[3], k.w[4], k.w[5]
	copy(r, b)
	copy(rhat, b)
	zero(p)
	zero(v)
	rho, alpha, omega := 1.0, 1.0, 1.0
	for it := 0; it < k.spec.MaxKrylov; it++ {
		rhoNew := floats.Dot(rhat, r)
		if rhoNew == 0 {
			return fmt.Errorf("%w: bicgstab breakdown", ErrSolve)
		}
		if it == 0 {
			copy(p, r)
		} else {
			beta := (rhoNew / rho) * (alpha / omega)
			// p = r + beta*(p - omega*v)
			floats.AddScaled(p, -omega, v)
			floats.AddScaledTo(p, r, beta, p)
		}
		if err := k.matvec(v, p); err != nil {
			return err
		}
		den := floats.Dot(rhat, v)
		if den == 0 {
			return fmt.Errorf("%w: bicgstab breakdown", ErrSolve)
		}
		alpha = rhoNew / den
		floats.AddScaledTo(s, r, -alpha, v)
		if floats.Norm(s, 2) <= tol {
			floats.AddScaled(x, alpha, p)
			return nil
		}
		if err := k.matvec(t, s); err != nil {
			return err
		}
		tt := floats.Dot(t, t)
		if tt == 0 {
			return fmt.Errorf("%w: bicgstab breakdown", ErrSolve)
		}
		omega = floats.Dot(t, s) / tt
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(x, omega, s)
		floats.AddScaledTo(r, s, -omega, t)
		if floats.Norm(r, 2) <= tol {
			return nil
		}
		if omega == 0 {
			return fmt.Errorf("%w: bicgstab stagnation", ErrSolve)
		}
		rho = rhoNew
	}
	return fmt.Errorf("%w: bicgstab not converged in %d iterations", ErrSolve, k.spec.MaxKrylov)
}

func (k *krylovSolver) tfqmr(x, b []float64) error {
	tau := floats.Norm(b, 2)
	tol := k.target(b)
	zero(x)
	if tol == 0 {
		return nil
	}
	w, y1, y2, u1, u2, v, d, rstar := k.w[0], k.w[1], k.w[2], k.w[3], k.w[4], k.w[5], k.w[6], k.w[7]
	copy(w, b)
	copy(y1, b)
	copy(rstar, b)
	zero(d)
	if err := k.matvec(v, y1); err != nil {
		return err
	}
	copy(u1, v)
	theta, eta := 0.0, 0.0
	rho := floats.Dot(rstar, b)
	half := 0
	for it := 0; it < k.spec.MaxKrylov; it++ {
		sigma := floats.Dot(rstar, v)
		if sigma == 0 {
			return fmt.Errorf("%w: tfqmr breakdown", ErrSolve)
		}
		alpha := rho / sigma
		floats.AddScaledTo(y2, y1, -alpha, v)
		if err := k.matvec(u2, y2); err != nil {
			return err
		}
		for j := 0; j < 2; j++ {
			y, u := y1, u1
			if j == 1 {
				y, u = y2, u2
			}
			floats.AddScaled(w, -alpha, u)
			// d = y + (theta^2 * eta / alpha) * d
			floats.AddScaledTo(d, y, theta*theta*eta/alpha, d)
			theta = floats.Norm(w, 2) / tau
			c := 1 / math.Sqrt(1+theta*theta)
			tau *= theta * c
			eta = c * c * alpha
			floats.AddScaled(x, eta, d)
			half++
			if tau*math.Sqrt(float64(half+1)) <= tol {
				return nil
			}
		}
		rhoNew := floats.Dot(rstar, w)
		if rho == 0 {
			return fmt.Errorf("%w: tfqmr breakdown", ErrSolve)
		}
		beta := rhoNew / rho
		floats.AddScaledTo(y1, w, beta, y2)
		if err := k.matvec(u1, y1); err != nil {
			return err
		}
		// v = u1 + beta*(u2 + beta*v)
		floats.AddScaledTo(v, u2, beta, v)
		floats.AddScaledTo(v, u1, beta, v)
		rho = rhoNew
	}
	return fmt.Errorf("%w: tfqmr not converged in %d iterations", ErrSolve, k.spec.MaxKrylov)
}
