package reminder

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("reminder event not found")
	// ErrConflict is returned by Store.Transition when the status guard fails.
	ErrConflict              = errors.New("reminder status changed concurrently")
	ErrInvalidTransition     = errors.New("invalid reminder transition")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// TransitionError reports an illegal status change. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid reminder transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, what, err)
}
