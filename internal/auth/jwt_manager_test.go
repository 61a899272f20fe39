package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager(t *testing.T) {
	t.Run("requires a signing key", func(t *testing.T) {
		_, err := NewJWTManager("")
		require.Error(t, err)
	})

	t.Run("creates a manager with a key", func(t *testing.T) {
		jm, err := NewJWTManager("test-key")
		require.NoError(t, err)
		assert.NotNil(t, jm)
	})
}

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	jm, err := NewJWTManager("test-signing-key")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("round trip preserves operator claims", func(t *testing.T) {
		token, err := jm.GenerateToken(ctx, "op-1", "rh@empresa.com", []string{"operator"}, time.Hour)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		claims, err := jm.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "op-1", claims.OperatorID)
		assert.Equal(t, "rh@empresa.com", claims.Email)
		assert.Equal(t, []string{"operator"}, claims.Roles)
		assert.Equal(t, "quadro-integrator", claims.Issuer)
	})

	t.Run("rejects a token signed with a different key", func(t *testing.T) {
		other, err := NewJWTManager("another-key")
		require.NoError(t, err)
		token, err := other.GenerateToken(ctx, "op-1", "rh@empresa.com", nil, time.Hour)
		require.NoError(t, err)

		_, err = jm.ValidateToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		token, err := jm.GenerateToken(ctx, "op-1", "rh@empresa.com", nil, -time.Minute)
		require.NoError(t, err)

		_, err = jm.ValidateToken(ctx, token)
		require.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := jm.ValidateToken(ctx, "not.a.token")
		require.Error(t, err)
	})
}

func TestJWTManager_RefreshToken(t *testing.T) {
	jm, err := NewJWTManager("test-signing-key")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("issues a fresh token with the same identity", func(t *testing.T) {
		token, err := jm.GenerateToken(ctx, "op-1", "rh@empresa.com", []string{"operator"}, time.Hour)
		require.NoError(t, err)

		refreshed, err := jm.RefreshToken(ctx, token, 2*time.Hour)
		require.NoError(t, err)

		claims, err := jm.ValidateToken(ctx, refreshed)
		require.NoError(t, err)
		assert.Equal(t, "op-1", claims.OperatorID)
		assert.Equal(t, []string{"operator"}, claims.Roles)
	})

	t.Run("refuses to refresh an invalid token", func(t *testing.T) {
		_, err := jm.RefreshToken(ctx, "not.a.token", time.Hour)
		require.Error(t, err)
	})
}
