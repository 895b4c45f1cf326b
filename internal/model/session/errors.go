package session

import "errors"

// Failure kinds surfaced by the session core. Callers classify with errors.Is;
// every error returned by the service wraps exactly one of these.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrBusy                = errors.New("session busy")
	ErrCapacityExceeded    = errors.New("turn capacity exceeded")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("session not found")
)

// Kind returns a short machine-readable name for err, or "internal" when err
// does not wrap a known failure kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
