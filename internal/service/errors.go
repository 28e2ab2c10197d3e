package service

import (
	"errors"
	"fmt"

	"github.com/scorepeers/settlement/internal/domain"
)

// classify passes domain errors through unchanged and marks everything else
// (driver, network, timeout) as ErrUnavailable so callers know a retry is
// safe.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrPrecondition),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrUnavailable)
}
