package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService() (TokenService, error) {
	return NewTokenService(
		15*time.Minute,
		24*time.Hour,
		"test-issuer",
		"test-audience",
		false, // useRSAKeys
		"",    // privateKeyPEM
		"",    // publicKeyPEM
		"test-secret-key-for-jwt-signing-32-chars",
	)
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		useRSAKeys  bool
		privateKey  string
		publicKey   string
		secretKey   string
		expectError bool
	}{
		{
			name:      "valid symmetric key configuration",
			secretKey: "test-secret-key-for-jwt-signing-32-chars",
		},
		{
			name:        "missing secret key",
			expectError: true,
		},
		{
			name:        "rsa without keys",
			useRSAKeys:  true,
			expectError: true,
		},
		{
			name:        "rsa with garbage keys",
			useRSAKeys:  true,
			privateKey:  "not a pem",
			publicKey:   "not a pem",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(time.Minute, time.Hour, "iss", "aud", tt.useRSAKeys, tt.privateKey, tt.publicKey, tt.secretKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestValidateToken(t *testing.T) {
	service, err := createTestTokenService()
	require.NoError(t, err)

	accessToken, err := service.GenerateAccessToken(123)
	require.NoError(t, err)

	unsubscribeToken, err := service.GenerateUnsubscribeToken(123, "a@example.com")
	require.NoError(t, err)

	other, err := NewTokenService(time.Minute, time.Hour, "test-issuer", "test-audience", false, "", "", "another-secret-key-for-jwt-signing")
	require.NoError(t, err)
	foreignToken, err := other.GenerateAccessToken(123)
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		expectError error
	}{
		{name: "valid access token", token: accessToken},
		{name: "empty token", token: "", expectError: ErrTokenInvalid},
		{name: "invalid token format", token: "invalid.token.format", expectError: ErrTokenInvalid},
		{name: "unsubscribe token is not an access token", token: unsubscribeToken, expectError: ErrTokenInvalid},
		{name: "token with wrong signature", token: foreignToken, expectError: ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint(123), claims.OwnerID)
			assert.Equal(t, "access", claims.TokenType)
			assert.NotEmpty(t, claims.TokenID)
			assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
		})
	}
}

func TestUnsubscribeToken(t *testing.T) {
	service, err := createTestTokenService()
	require.NoError(t, err)

	token, err := service.GenerateUnsubscribeToken(7, "  Bob@Example.com ")
	require.NoError(t, err)

	claims, err := service.ValidateUnsubscribeToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.OwnerID)
	assert.Equal(t, "bob@example.com", claims.Email)

	accessToken, err := service.GenerateAccessToken(7)
	require.NoError(t, err)
	_, err = service.ValidateUnsubscribeToken(accessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenExpiration(t *testing.T) {
	service, err := NewTokenService(-time.Minute, time.Hour, "test-issuer", "test-audience", false, "", "", "test-secret-key-for-jwt-signing-32-chars")
	require.NoError(t, err)

	token, err := service.GenerateAccessToken(1)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, claims)
}
