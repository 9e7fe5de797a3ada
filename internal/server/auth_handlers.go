package server

import (
	"context"
	"net/http"
	"time"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/services/identity"
)

// IdentityAPI is the subset of the identity service behind /auth.
type IdentityAPI interface {
	Login(ctx context.Context, email, password string) (identity.Token, error)
	RefreshToken(ctx context.Context, token string) (identity.Token, error)
	Logout(ctx context.Context, token string) error
	TTL() time.Duration
}

type authHandlers struct {
	identity IdentityAPI
	secure   bool
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// login exchanges credentials for a token, returned both in the body and as
// the Authentication cookie.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, apperr.BadRequestf("email and password are required"))
		return
	}

	tok, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setCookie(w, tok)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}

// refresh supersedes the presented token.
func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		writeError(w, r, apperr.ErrUnauthorized)
		return
	}

	tok, err := h.identity.RefreshToken(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setCookie(w, tok)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}

// logout revokes the presented token, if any, and clears the cookie.
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := h.identity.Logout(r.Context(), token); err != nil {
			writeError(w, r, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandlers) setCookie(w http.ResponseWriter, tok identity.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    tok.Value,
		Path:     "/",
		MaxAge:   int(h.identity.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
