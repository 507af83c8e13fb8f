// Package dae defines the core abstractions shared by the integration engine.
//
// A [Problem] describes an implicit system F(t, x, ẋ, p) = 0 with n states,
// np parameters and nq quadratures. Everything beyond the residual is
// optional and discovered by type assertion:
//
//   - [Jacobian]: ∂F/∂x + c·∂F/∂ẋ
//   - [SensitivityResidual]: F_x·s + F_ẋ·ṡ + F_p·e_j
//   - [ParamJacobian]: F_p
//   - [Quadrature]: integrands q̇ = fq(t, x, p)
//   - [Preconditioner]: setup/solve pair for Krylov strategies
//   - [InitialSensitivity]: ∂x0/∂p
//   - [ConstantMass]: declares ∂F/∂ẋ independent of time
//
// Missing derivatives are replaced by difference quotients (see [DenseDQ],
// [Partials] and [ParamPartials]).
//
// The stepper does not integrate a Problem directly. Forward and backward
// problems are adapted to a [System], which additionally hands out a
// linearization ([linsol.Operator]) at a given scalar c.
//
// # Errors
//
// Failures are reported with the sentinels in this package, usually wrapped
// in an [IntegrationError] carrying the furthest time reached:
//
//	res, err := in.Run(ctx, input)
//	if errors.Is(err, dae.ErrTooMuchWork) {
//		fmt.Println("stopped at", res.Furthest)
//	}
//
// # Thread Safety
//
// Problems must be safe for concurrent use if the same value is shared by
// several integrator instances. Everything else in the engine is owned by a
// single run.
package dae
