package membership

import (
	"context"
	"errors"
)

var (
	ErrLogUnavailable = errors.New("membership log unavailable")
	ErrInvalidRecord  = errors.New("invalid membership record")
	ErrDuplicateEvent = errors.New("membership event already stored")
)

// UnavailableError wraps a storage failure of a membership log backend.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return ErrLogUnavailable.Error() + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrLogUnavailable
}

// Unavailable marks err as a backend failure. Context errors and nil are
// returned unchanged.
func Unavailable(err error) error {
	if err == nil ||
		errors.Is(err, ErrLogUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UnavailableError{Err: err}
}
