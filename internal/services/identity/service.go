// Package identity owns users, session tokens and per-user dataset
// entitlements.
//
// Tokens are HS256 JWTs carrying only the user id. Entitlements are resolved on
// every validation, so a grant or revocation is visible to the next request
// without reissuing the token. Entitlements change only through dataset events.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/boxhub/boxhub/internal/apperr"
	"github.com/boxhub/boxhub/internal/auth"
	"github.com/boxhub/boxhub/internal/db/bunx"
	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/boxhub/boxhub/internal/metrics"
	"github.com/boxhub/boxhub/internal/repository"
)

// MinPasswordLength is enforced by CreateUser.
const MinPasswordLength = 8

// Token is an issued session token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// DatasetChecker confirms that a dataset exists. Implemented by
// *registry.Service in-process and by *rpc.DatasetAccessClient remotely; the
// remote call authenticates with the token carried by ctx.
type DatasetChecker interface {
	DatasetExists(ctx context.Context, datasetID string) (bool, error)
}

// Dependencies wires the service. Metrics, Logger and Now are optional.
type Dependencies struct {
	Users        repository.UserRepository
	Sessions     repository.SessionRepository
	Entitlements repository.EntitlementRepository
	Datasets     DatasetChecker
	Signer       *auth.Signer
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service implements the identity operations.
type Service struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	entitlements repository.EntitlementRepository
	datasets     DatasetChecker
	signer       *auth.Signer
	metrics      *metrics.Collector
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates the identity service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		users:        deps.Users,
		sessions:     deps.Sessions,
		entitlements: deps.Entitlements,
		datasets:     deps.Datasets,
		signer:       deps.Signer,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration {
	return s.signer.TTL()
}

// CreateUser registers a user with a bcrypt-hashed password. The email is
// stored lower-cased; a duplicate yields apperr.ErrConflict.
func (s *Service) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.BadRequestf("invalid email %q", email)
	}
	if len(password) < MinPasswordLength {
		return nil, apperr.BadRequestf("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           bunx.NewUUIDv7(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// Login checks the credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Token{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
		}
		return Token{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}

	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return Token{}, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}
	return token, nil
}

// IssueToken issues a token for an existing user.
func (s *Service) IssueToken(ctx context.Context, userID string) (Token, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return Token{}, err
	}
	return s.issue(ctx, userID)
}

// ValidateToken verifies token and resolves the user's current entitlements.
// Any verification failure, including a revoked or unknown session, yields
// apperr.ErrUnauthorized.
func (s *Service) ValidateToken(ctx context.Context, token string) (auth.Identity, error) {
	claims, _, err := s.verify(ctx, token)
	if err != nil {
		return auth.Anonymous, err
	}

	datasetIDs, err := s.entitlements.ListDatasetIDs(ctx, claims.UserID)
	if err != nil {
		return auth.Anonymous, fmt.Errorf("resolve entitlements: %w", err)
	}
	return auth.Identity{UserID: claims.UserID, Entitlements: datasetIDs}, nil
}

// RefreshToken supersedes a valid token with a new one for the same user.
// The old token stops validating immediately.
func (s *Service) RefreshToken(ctx context.Context, token string) (Token, error) {
	claims, session, err := s.verify(ctx, token)
	if err != nil {
		return Token{}, err
	}

	if err := s.sessions.Revoke(ctx, session.ID, s.now().UTC()); err != nil {
		return Token{}, err
	}
	return s.issue(ctx, claims.UserID)
}

// Logout revokes the session behind token. Unknown, invalid or already
// revoked tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}

	session, err := s.sessions.GetByTokenHash(ctx, auth.HashToken(claims.ID))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.sessions.Revoke(ctx, session.ID, s.now().UTC())
}

func (s *Service) issue(ctx context.Context, userID string) (Token, error) {
	signed, err := s.signer.Sign(userID)
	if err != nil {
		return Token{}, err
	}

	session := &models.Session{
		ID:        bunx.NewUUIDv7(),
		UserID:    userID,
		TokenHash: auth.HashToken(signed.JTI),
		ExpiresAt: signed.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return Token{}, err
	}

	return Token{Value: signed.Value, ExpiresAt: signed.ExpiresAt}, nil
}

// verify checks the token and its session record.
func (s *Service) verify(ctx context.Context, token string) (*auth.Claims, *models.Session, error) {
	if token == "" {
		return nil, nil, fmt.Errorf("missing token: %w", apperr.ErrUnauthorized)
	}

	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}

	session, err := s.sessions.GetByTokenHash(ctx, auth.HashToken(claims.ID))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, fmt.Errorf("unknown session: %w", apperr.ErrUnauthorized)
		}
		return nil, nil, err
	}
	if session.UserID != claims.UserID || !session.Active(s.now()) {
		return nil, nil, fmt.Errorf("session revoked or expired: %w", apperr.ErrUnauthorized)
	}

	return claims, session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
