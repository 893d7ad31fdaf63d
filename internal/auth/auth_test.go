package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key-1", "secret-1", "store-1")

	token, err := service.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "store-1", claims.StoreID)
	assert.Contains(t, claims.Permissions, "payments")
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials("key-1", "secret-1", "store-1")

	_, err := service.GenerateToken(Credentials{APIKey: "key-1", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.GenerateToken(Credentials{APIKey: "unknown", APISecret: "secret-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewService("issuer-secret")
	issuer.RegisterAPICredentials("key-1", "secret-1", "store-1")

	token, err := issuer.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	verifier := NewService("different-secret")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
