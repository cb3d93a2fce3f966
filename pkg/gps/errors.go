package gps

import "errors"

// Classified sensor failures. Callers surface these distinctly to the
// vehicle operator; none of them stop the tracking loop.
var (
	ErrPermissionDenied = errors.New("gps: permission denied")
	ErrUnavailable      = errors.New("gps: position unavailable")
	ErrTimeout          = errors.New("gps: timed out waiting for fix")
)

// Classify maps an arbitrary sensor error onto one of the sentinel kinds,
// defaulting to ErrUnavailable for anything unrecognized.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied):
		return ErrPermissionDenied
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrUnavailable
	}
}
