package rpc

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/services/identity"
)

const (
	// IdentityServiceName is the fully-qualified name of the identity service.
	IdentityServiceName = "boxhub.identity.v1.IdentityService"

	IdentityServiceValidateTokenProcedure = "/" + IdentityServiceName + "/ValidateToken"
	IdentityServiceIssueTokenProcedure    = "/" + IdentityServiceName + "/IssueToken"
	IdentityServiceRefreshTokenProcedure  = "/" + IdentityServiceName + "/RefreshToken"
)

// IdentityService is the server side of the identity RPC.
type IdentityService interface {
	ValidateToken(ctx context.Context, token string) (auth.Identity, error)
	IssueToken(ctx context.Context, userID string) (identity.Token, error)
	RefreshToken(ctx context.Context, token string) (identity.Token, error)
}

// IdentityHandler serves the identity RPC.
type IdentityHandler struct {
	service IdentityService
}

// NewIdentityHandler returns the mount path and handler for the identity RPC.
//
// ValidateToken and RefreshToken verify the token they carry themselves.
// IssueToken is gated: authorize must resolve the caller (normally the
// authorization interceptor), and the caller may only issue for itself.
func NewIdentityHandler(service IdentityService, authorize connect.Interceptor, opts ...connect.HandlerOption) (string, http.Handler) {
	h := &IdentityHandler{service: service}
	options := HandlerOptions(opts...)

	mux := http.NewServeMux()
	mux.Handle(IdentityServiceValidateTokenProcedure, connect.NewUnaryHandler(
		IdentityServiceValidateTokenProcedure, h.ValidateToken, options...))
	mux.Handle(IdentityServiceRefreshTokenProcedure, connect.NewUnaryHandler(
		IdentityServiceRefreshTokenProcedure, h.RefreshToken, options...))

	gated := options
	if authorize != nil {
		gated = append(append([]connect.HandlerOption{}, options...), connect.WithInterceptors(authorize))
	}
	mux.Handle(IdentityServiceIssueTokenProcedure, connect.NewUnaryHandler(
		IdentityServiceIssueTokenProcedure, h.IssueToken, gated...))

	return "/" + IdentityServiceName + "/", mux
}

// ValidateToken resolves the carried token.
func (h *IdentityHandler) ValidateToken(
	ctx context.Context,
	req *connect.Request[ValidateTokenRequest],
) (*connect.Response[ValidateTokenResponse], error) {
	resolved, err := h.service.ValidateToken(ctx, tokenOf(req.Msg.Authentication, req.Header()))
	if err != nil {
		return nil, toConnectError(err)
	}
	entitlements := resolved.Entitlements
	if entitlements == nil {
		entitlements = []string{}
	}
	return connect.NewResponse(&ValidateTokenResponse{UserID: resolved.UserID, Entitlements: entitlements}), nil
}

// IssueToken issues a token for the calling user.
func (h *IdentityHandler) IssueToken(
	ctx context.Context,
	req *connect.Request[IssueTokenRequest],
) (*connect.Response[TokenResponse], error) {
	caller := auth.IdentityFromContext(ctx)
	if caller.IsAnonymous() {
		return nil, toConnectError(fmt.Errorf("issue token: %w", apperr.ErrUnauthorized))
	}
	userID := req.Msg.UserID
	if userID == "" {
		userID = caller.UserID
	}
	if userID != caller.UserID {
		return nil, toConnectError(fmt.Errorf("issue token for %s: %w", userID, apperr.ErrForbidden))
	}

	tok, err := h.service.IssueToken(ctx, userID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt}), nil
}

// RefreshToken supersedes the carried token.
func (h *IdentityHandler) RefreshToken(
	ctx context.Context,
	req *connect.Request[RefreshTokenRequest],
) (*connect.Response[TokenResponse], error) {
	tok, err := h.service.RefreshToken(ctx, tokenOf(req.Msg.Authentication, req.Header()))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&TokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt}), nil
}

// tokenOf prefers the payload field and falls back to an Authorization header.
func tokenOf(field string, header http.Header) string {
	if field != "" {
		return field
	}
	value := header.Get("Authorization")
	if len(value) > len("Bearer ") && strings.EqualFold(value[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(value[len("Bearer "):])
	}
	return ""
}

// IdentityClient calls the identity RPC. It implements authz.TokenValidator.
type IdentityClient struct {
	validate *connect.Client[ValidateTokenRequest, ValidateTokenResponse]
	issue    *connect.Client[IssueTokenRequest, TokenResponse]
	refresh  *connect.Client[RefreshTokenRequest, TokenResponse]
}

// NewIdentityClient creates a client for the identity service at baseURL.
func NewIdentityClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *IdentityClient {
	baseURL = strings.TrimRight(baseURL, "/")
	options := ClientOptions(opts...)
	return &IdentityClient{
		validate: connect.NewClient[ValidateTokenRequest, ValidateTokenResponse](
			httpClient, baseURL+IdentityServiceValidateTokenProcedure, options...),
		issue: connect.NewClient[IssueTokenRequest, TokenResponse](
			httpClient, baseURL+IdentityServiceIssueTokenProcedure, options...),
		refresh: connect.NewClient[RefreshTokenRequest, TokenResponse](
			httpClient, baseURL+IdentityServiceRefreshTokenProcedure, options...),
	}
}

// ValidateToken resolves token remotely. An unreachable or slow identity
// service yields apperr.ErrUpstreamUnavailable.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (auth.Identity, error) {
	resp, err := c.validate.CallUnary(ctx, connect.NewRequest(&ValidateTokenRequest{Authentication: token}))
	if err != nil {
		return auth.Anonymous, fromConnectError(IdentityServiceValidateTokenProcedure, err)
	}
	return auth.Identity{UserID: resp.Msg.UserID, Entitlements: resp.Msg.Entitlements}, nil
}

// IssueToken asks for a new token for userID on behalf of the holder of token.
func (c *IdentityClient) IssueToken(ctx context.Context, token, userID string) (identity.Token, error) {
	resp, err := c.issue.CallUnary(ctx, connect.NewRequest(&IssueTokenRequest{Authentication: token, UserID: userID}))
	if err != nil {
		return identity.Token{}, fromConnectError(IdentityServiceIssueTokenProcedure, err)
	}
	return identity.Token{Value: resp.Msg.Token, ExpiresAt: resp.Msg.ExpiresAt}, nil
}

// RefreshToken supersedes token.
func (c *IdentityClient) RefreshToken(ctx context.Context, token string) (identity.Token, error) {
	resp, err := c.refresh.CallUnary(ctx, connect.NewRequest(&RefreshTokenRequest{Authentication: token}))
	if err != nil {
		return identity.Token{}, fromConnectError(IdentityServiceRefreshTokenProcedure, err)
	}
	return identity.Token{Value: resp.Msg.Token, ExpiresAt: resp.Msg.ExpiresAt}, nil
}
