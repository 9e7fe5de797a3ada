package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the HTTP cookie carrying the session token.
const CookieName = "Authentication"

// ErrInvalidToken is returned for malformed, badly signed or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload. Only the subject is carried; entitlements are
// looked up on every validation.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// SignedToken is an issued token with the identifiers needed to track it.
type SignedToken struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// Signer issues and verifies HS256 session tokens with a process-wide secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner creates a signer. The secret must be non-empty and ttl positive.
func NewSigner(secret []byte, ttl time.Duration, opts ...SignerOption) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	s := &Signer{secret: secret, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign issues a token for userID expiring TTL from now.
func (s *Signer) Sign(userID string) (SignedToken, error) {
	if userID == "" {
		return SignedToken{}, errors.New("user id is required")
	}

	now := s.now()
	jti := uuid.NewString()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign token: %w", err)
	}

	return SignedToken{Value: value, JTI: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// Every failure wraps ErrInvalidToken.
func (s *Signer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing userId or jti", ErrInvalidToken)
	}
	return claims, nil
}

// HashToken returns the SHA-256 hex digest used to store token identifiers.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// TokenFromRequest extracts the bearer token from the Authentication cookie,
// falling back to an "Authorization: Bearer" header. It returns "" when absent.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}
