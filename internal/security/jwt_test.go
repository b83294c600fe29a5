package security_test

import (
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, 7*24*time.Hour)

	access, refresh, expiresIn, err := manager.GenerateTokenPair("admin")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.Equal(t, int64(900), expiresIn)

	claims, err := manager.ValidateAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	subject, err := manager.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestJWTManager_TokenTypesAreNotInterchangeable(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, time.Hour)
	access, refresh, _, err := manager.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = manager.ValidateAccessToken(refresh)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
	_, err = manager.ValidateRefreshToken(access)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, time.Hour)
	other := security.NewJWTManager("another-secret-key-32-characters", 15*time.Minute, time.Hour)

	access, _, _, err := other.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = manager.ValidateAccessToken(access)
	assert.Error(t, err)
	_, err = manager.ValidateAccessToken("not-a-token")
	assert.Error(t, err)
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", -time.Minute, time.Hour)
	access, _, _, err := manager.GenerateTokenPair("admin")
	require.NoError(t, err)

	_, err = manager.ValidateAccessToken(access)
	assert.Error(t, err)
}
