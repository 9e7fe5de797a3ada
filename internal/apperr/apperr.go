// Package apperr defines the error taxonomy shared by every service.
//
// Services wrap these sentinels with fmt.Errorf("...: %w", apperr.ErrX) and
// transports classify them with errors.Is, so the mapping to RPC codes and HTTP
// statuses lives in exactly one place per transport.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means no token, an invalid or expired token, or a failed
	// validation on a route that is not bypass-eligible.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller's identity lacks the required entitlement.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the dataset, image or model does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest means input validation failed.
	ErrBadRequest = errors.New("bad request")

	// ErrConflict means a uniqueness constraint was violated.
	ErrConflict = errors.New("conflict")

	// ErrUpstreamUnavailable means a remote call timed out or could not be made.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Kind is a coarse classification of an error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindBadRequest
	KindConflict
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// KindOf classifies err by the first matching sentinel in its chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

// Permanent reports whether retrying the operation with the same input cannot
// succeed. Event consumers acknowledge permanent failures instead of leaving
// them for redelivery. An ErrUpstreamUnavailable anywhere in the chain makes
// the failure transient, even when it is classified as another kind.
func Permanent(err error) bool {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return false
	}
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden, KindNotFound, KindBadRequest, KindConflict:
		return true
	default:
		return false
	}
}

// BadRequestf returns an ErrBadRequest with a formatted detail.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
