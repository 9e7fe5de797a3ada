package middleware

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/authz"
)

// TokenCarrier is implemented by request messages that carry the caller's
// token in their payload.
type TokenCarrier interface {
	GetAuthentication() string
}

// NewAuthzInterceptor creates a Connect UnaryInterceptor that resolves the
// caller through the authorization delegate before the handler runs.
//
// The route is the RPC procedure. The token is taken from the message payload
// when it carries one, otherwise from the Authentication cookie or a bearer
// Authorization header. A procedure the delegate has no policy for is denied.
func NewAuthzInterceptor(delegate *authz.Delegate) connect.UnaryInterceptorFunc {
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(
			ctx context.Context,
			req connect.AnyRequest,
		) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}

			token := ""
			if carrier, ok := req.Any().(TokenCarrier); ok {
				token = carrier.GetAuthentication()
			}
			if token == "" {
				token = auth.TokenFromRequest(&http.Request{Header: req.Header()})
			}

			ctx, _, err := delegate.Resolve(ctx, req.Spec().Procedure, token)
			if err != nil {
				code := connect.CodeUnauthenticated
				if apperr.KindOf(err) == apperr.KindInternal {
					code = connect.CodeInternal
				}
				return nil, connect.NewError(code, err)
			}
			return next(ctx, req)
		})
	})
}
