package linsol

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSolve is returned when a factorization or an iterative solve fails.
// The stepper treats it as recoverable and retries with a smaller step.
var ErrSolve = errors.New("linsol: linear solve failed")

// Side selects which side of the operator a preconditioner is applied to.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Operator is the linearization M = ∂F/∂y + c·∂F/∂y' handed to a strategy
// at setup time.
type Operator interface {
	Dim() int
	T() float64
	C() float64
	Dense(dst *mat.Dense) error
	MulVec(dst, v []float64) error
	// Prec returns the caller's preconditioner, or nil when there is none.
	Prec() Preconditioner
}

// BandOperator is implemented by operators that can assemble the band of M
// directly, without forming the dense matrix first.
type BandOperator interface {
	Operator
	Band(dst *mat.BandDense) error
}

// Preconditioner approximates M^-1. Setup is called once per strategy setup,
// Solve any number of times afterwards.
type Preconditioner interface {
	Setup() error
	Solve(dst, r []float64, side Side) error
}

// Strategy solves M·x = b for the operator captured by the last Setup.
type Strategy interface {
	Setup(op Operator) error
	// Solve overwrites b with the solution.
	Solve(b []float64) error
	Name() string
}

// Tolerancer is implemented by strategies whose accuracy is set per solve.
// The residual of a solve must satisfy ||w·r||_RMS <= tol; a zero tol or a
// nil w restores the strategy's own relative tolerance.
type Tolerancer interface {
	SetTolerance(tol float64, w []float64)
}

// Spec selects a strategy. The set of variants is closed.
type Spec interface {
	spec()
}

type Dense struct{}

type Banded struct {
	Lower int
	Upper int
}

type Method int

const (
	GMRES Method = iota
	BiCGStab
	TFQMR
)

func (m Method) String() string {
	switch m {
	case BiCGStab:
		return "bcgstab"
	case TFQMR:
		return "tfqmr"
	default:
		return "gmres"
	}
}

// PreType is the preconditioning side of an iterative solve.
type PreType int

const (
	PreNone PreType = iota
	PreLeft
	PreRight
	PreBoth
)

func (p PreType) String() string {
	switch p {
	case PreLeft:
		return "left"
	case PreRight:
		return "right"
	case PreBoth:
		return "both"
	default:
		return "none"
	}
}

type Iterative struct {
	Method       Method
	MaxKrylov    int
	Precondition bool
	PreType      PreType
	// MaxRestarts applies to GMRES only.
	MaxRestarts int
	// Tolerance is relative to the norm of the (preconditioned) right-hand side.
	Tolerance float64
}

// UserDefined wraps a caller-supplied strategy.
type UserDefined struct {
	Solver Strategy
}

func (Dense) spec()       {}
func (Banded) spec()      {}
func (Iterative) spec()   {}
func (UserDefined) spec() {}

// New builds a fresh strategy instance for systems of dimension n.
func New(spec Spec, n int) (Strategy, error) {
	if n <= 0 {
		return nil, fmt.Errorf("linsol: invalid dimension %d", n)
	}
	switch s := spec.(type) {
	case nil, Dense:
		return newDense(n), nil
	case Banded:
		if s.Lower < 0 || s.Upper < 0 || s.Lower > n-1 || s.Upper > n-1 {
			return nil, fmt.Errorf("linsol: bandwidths (%d, %d) outside [0, %d]", s.Lower, s.Upper, n-1)
		}
		return newBanded(n, s.Lower, s.Upper), nil
	case Iterative:
		if s.MaxKrylov < 1 {
			return nil, fmt.Errorf("linsol: max_krylov must be >= 1, got %d", s.MaxKrylov)
		}
		return newKrylov(n, s), nil
	case UserDefined:
		if s.Solver == nil {
			return nil, errors.New("linsol: user-defined strategy is nil")
		}
		return s.Solver, nil
	default:
		return nil, fmt.Errorf("linsol: unknown strategy %T", spec)
	}
}
