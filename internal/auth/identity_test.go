package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_Entitled(t *testing.T) {
	user := Identity{UserID: "u1", Entitlements: []string{"d1", "d2"}}

	assert.True(t, user.Entitled("d1"))
	assert.False(t, user.Entitled("d3"))
	assert.False(t, user.Entitled(""))
	assert.False(t, Anonymous.Entitled("d1"))
	assert.True(t, Anonymous.IsAnonymous())

	// An entitlement list without a user is still anonymous.
	assert.False(t, Identity{Entitlements: []string{"d1"}}.Entitled("d1"))
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Anonymous, IdentityFromContext(ctx))

	entitlements := []string{"d1"}
	ctx = WithIdentity(ctx, Identity{UserID: "u1", Entitlements: entitlements})
	entitlements[0] = "mutated"

	got := IdentityFromContext(ctx)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []string{"d1"}, got.Entitlements)
}

func TestTokenContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TokenFromContext(ctx))
	assert.Equal(t, "tok", TokenFromContext(WithToken(ctx, "tok")))
}
