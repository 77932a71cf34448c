package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing transaction or line.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks malformed input or a data-integrity violation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrencyConflict marks a lost race on a per-transaction lock.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStorage marks an underlying persistence failure.
	ErrStorage = errors.New("storage failure")
)

func NotFoundError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidArgumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func ConflictError(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrConcurrencyConflict, op, err)
}

func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ErrorKind names the taxonomy bucket of err, for reports and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
