package reactive

import "fmt"

// ReactivityError is returned when reactive state is written from inside a
// derived computation.
type ReactivityError struct {
	Derived string
}

func (e *ReactivityError) Error() string {
	return fmt.Sprintf("cannot modify wire state inside a derived (derived fn=%s)", e.Derived)
}

// CircularDependencyError is returned when a derived is read while it is
// still computing.
type CircularDependencyError struct {
	Derived string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected in derived (fn=%s)", e.Derived)
}

// FrozenError is returned when a frozen wire is mutated.
type FrozenError struct {
	Type string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("cannot mutate a frozen %s", e.Type)
}

func errEmpty(method, what string) error {
	return fmt.Errorf("%s: empty %s", method, what)
}

func errArity(fn string, max, got int) error {
	return fmt.Errorf("%s: got %d arguments, want at most %d", fn, got, max)
}
