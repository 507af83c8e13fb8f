package dae

import (
	"errors"
	"fmt"

	"github.com/san-kum/daesim/internal/linsol"
)

// Domain errors for integration runs.
var (
	// ErrConfig indicates an invalid option or an inconsistent problem setup.
	ErrConfig = errors.New("dae: invalid configuration")

	// ErrInitialization indicates consistent initial conditions could not be found.
	ErrInitialization = errors.New("dae: consistent initialization failed")

	// ErrLinearSolve indicates a singular factor or a non-converged Krylov solve.
	ErrLinearSolve = linsol.ErrSolve

	// ErrStepFailure indicates the stepper exhausted its failure budget.
	ErrStepFailure = errors.New("dae: step failure")

	// ErrTooMuchWork indicates max_num_steps was reached before the end time.
	ErrTooMuchWork = errors.New("dae: too much work (max_num_steps reached)")

	// ErrReconstruction indicates a backward request outside the recorded span.
	ErrReconstruction = errors.New("dae: cannot reconstruct forward state")

	// ErrCanceled indicates the run was interrupted through its context.
	ErrCanceled = errors.New("dae: integration canceled by context")

	// ErrDimensionMismatch indicates vectors that do not match the problem dims.
	ErrDimensionMismatch = errors.New("dae: dimension mismatch")
)

// IntegrationError wraps a failure with the furthest point reached.
type IntegrationError struct {
	Direction Direction
	Step      int
	Time      float64
	State     Vector
	Wrapped   error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s step %d (t=%.6g): %v", e.Direction, e.Step, e.Time, e.Wrapped)
}

func (e *IntegrationError) Unwrap() error {
	return e.Wrapped
}
