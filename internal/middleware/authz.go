package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/authz"
)

// Authorize returns a chi middleware that resolves the caller of route through
// the authorization delegate. On success the identity and token are attached
// to the request context; otherwise the request ends with 401.
//
// route names the policy entry, e.g. "GET /datasets/{id}".
func Authorize(delegate *authz.Delegate, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _, err := delegate.Resolve(r.Context(), route, auth.TokenFromRequest(r))
			if err != nil {
				unauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
