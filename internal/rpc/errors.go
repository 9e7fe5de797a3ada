package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/boxhub/boxhub/internal/apperr"
)

// toConnectError maps a service error onto its Connect code.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}

	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		return connect.NewError(connect.CodeUnauthenticated, err)
	case apperr.KindForbidden:
		return connect.NewError(connect.CodePermissionDenied, err)
	case apperr.KindNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case apperr.KindBadRequest:
		return connect.NewError(connect.CodeInvalidArgument, err)
	case apperr.KindConflict:
		return connect.NewError(connect.CodeAlreadyExists, err)
	case apperr.KindUpstreamUnavailable:
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// fromConnectError maps a client-side Connect failure back onto the apperr
// taxonomy. Timeouts and transport failures become ErrUpstreamUnavailable.
func fromConnectError(procedure string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", procedure, apperr.ErrUpstreamUnavailable, err)
	}

	var sentinel error
	switch connect.CodeOf(err) {
	case connect.CodeUnauthenticated:
		sentinel = apperr.ErrUnauthorized
	case connect.CodePermissionDenied:
		sentinel = apperr.ErrForbidden
	case connect.CodeNotFound:
		sentinel = apperr.ErrNotFound
	case connect.CodeInvalidArgument:
		sentinel = apperr.ErrBadRequest
	case connect.CodeAlreadyExists:
		sentinel = apperr.ErrConflict
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeCanceled, connect.CodeUnknown:
		sentinel = apperr.ErrUpstreamUnavailable
	default:
		return fmt.Errorf("%s: %w", procedure, err)
	}
	return fmt.Errorf("%s: %w: %v", procedure, sentinel, err)
}
