// Package solver provides image CAPTCHA solving interfaces and
// implementations.
package solver

import "context"

// Solver turns a CAPTCHA image into the code it shows. Implementations must
// be safe for concurrent calls.
type Solver interface {
	// Name returns the solver's name (e.g., "2captcha").
	Name() string

	// Solve returns the code for the image. length is the expected number of
	// characters; implementations may pass it as a hint or ignore it.
	Solve(ctx context.Context, image []byte, length int) (string, error)
}

// Func adapts a plain function to the Solver interface. Useful for tests and
// for wiring an external model behind a closure.
type Func func(ctx context.Context, image []byte, length int) (string, error)

// Name returns "func".
func (Func) Name() string { return "func" }

// Solve calls the wrapped function.
func (f Func) Solve(ctx context.Context, image []byte, length int) (string, error) {
	return f(ctx, image, length)
}

// SolverError represents a solver failure.
type SolverError struct {
	Message string
	Cause   error
}

func (e *SolverError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SolverError) Unwrap() error {
	return e.Cause
}

// Errors
var (
	ErrSolverTimeout = &SolverError{Message: "captcha solver timeout"}
	ErrSolverFailed  = &SolverError{Message: "captcha solver failed"}
)
