package auth

import (
	"context"
	"slices"
)

// Identity is the caller resolved by the authorization delegate. Entitlements
// are the dataset ids the user may write (and read); they are resolved at
// validation time and never embedded in tokens.
//
// The zero value is Anonymous.
type Identity struct {
	UserID       string
	Entitlements []string
}

// Anonymous is the identity of a caller without a valid token on a
// bypass-eligible route.
var Anonymous = Identity{}

// IsAnonymous reports whether no user was resolved.
func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

// Entitled reports whether the identity holds an entitlement for datasetID.
// Anonymous is never entitled.
func (i Identity) Entitled(datasetID string) bool {
	if i.IsAnonymous() || datasetID == "" {
		return false
	}
	return slices.Contains(i.Entitlements, datasetID)
}

type identityContextKey struct{}

// WithIdentity stores the resolved identity on the context for downstream handlers.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	identity.Entitlements = slices.Clone(identity.Entitlements)
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity set by the delegate, or Anonymous.
func IdentityFromContext(ctx context.Context) Identity {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok {
		return Anonymous
	}
	return identity
}

type tokenContextKey struct{}

// WithToken stores the raw bearer token that produced the context's identity.
// It is forwarded on events whose consumers must re-authorize the caller.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the raw bearer token, if any.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}
