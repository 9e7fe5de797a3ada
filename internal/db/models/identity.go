package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a principal that can log in and hold dataset entitlements.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:uuid"`
	Email        string     `bun:"email,notnull,unique"`
	PasswordHash string     `bun:"password_hash,notnull"` // bcrypt
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
}

// Session is the server-side record of one issued token. The token itself is
// never stored; TokenHash is the SHA-256 of its jti.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID        string     `bun:"id,pk,type:uuid"`
	UserID    string     `bun:"user_id,notnull,type:uuid"`
	TokenHash string     `bun:"token_hash,notnull,unique"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	RevokedAt *time.Time `bun:"revoked_at"`
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Entitlement grants a user access to one dataset. The pair is the primary key,
// so granting twice is a no-op.
type Entitlement struct {
	bun.BaseModel `bun:"table:user_entitlements,alias:ue"`

	UserID    string    `bun:"user_id,pk,type:uuid"`
	DatasetID string    `bun:"dataset_id,pk,type:uuid"`
	GrantedAt time.Time `bun:"granted_at,notnull,default:current_timestamp"`
}
