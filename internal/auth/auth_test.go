package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestService_LoginLogout(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	s := NewService("admin", hash, zap.NewNop())
	assert.False(t, s.IsLoggedIn())

	assert.False(t, s.Login("admin", "wrong"))
	assert.False(t, s.Login("root", "s3cret"))
	assert.False(t, s.IsLoggedIn())

	assert.True(t, s.Login("admin", "s3cret"))
	assert.True(t, s.IsLoggedIn())

	s.Logout()
	assert.False(t, s.IsLoggedIn())
}

func TestService_EmptyHashDisablesLogin(t *testing.T) {
	s := NewService("admin", "", zap.NewNop())
	assert.False(t, s.Login("admin", ""))
}
