package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Anonymous(t *testing.T) {
	chain := NewChain(true)

	info, err := chain.Authenticate("alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.User)
	assert.Equal(t, "anonymous", info.AuthType)
}

func TestChain_AnonymousDisallowed(t *testing.T) {
	chain := NewChain(false, NewAPIKeyAuthenticator(nil))

	_, err := chain.Authenticate("alice", nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestChain_FirstMatchWins(t *testing.T) {
	hash, err := HashKey("sesame")
	require.NoError(t, err)
	chain := NewChain(false, NewAPIKeyAuthenticator([]APIKey{{Name: "ci", Hash: hash}}))

	info, err := chain.Authenticate("ignored", map[string]string{PropAPIKey: "sesame"})
	require.NoError(t, err)
	assert.Equal(t, "apikey:ci", info.User)
	assert.Equal(t, "apikey", info.AuthType)
}

func TestChain_BadCredentialFailsClosed(t *testing.T) {
	hash, err := HashKey("sesame")
	require.NoError(t, err)

	// Anonymous fallback must not rescue an explicitly bad credential.
	chain := NewChain(true, NewAPIKeyAuthenticator([]APIKey{{Name: "ci", Hash: hash}}))
	_, err = chain.Authenticate("alice", map[string]string{PropAPIKey: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAPIKeyAuthenticator(t *testing.T) {
	hash1, err := HashKey("key-one")
	require.NoError(t, err)
	hash2, err := HashKey("key-two")
	require.NoError(t, err)
	a := NewAPIKeyAuthenticator([]APIKey{
		{Name: "first", Hash: hash1},
		{Name: "second", Hash: hash2},
	})

	// Abstains without a credential.
	info, err := a.Authenticate(nil)
	require.NoError(t, err)
	assert.Nil(t, info)

	info, err = a.Authenticate(map[string]string{PropAPIKey: "key-two"})
	require.NoError(t, err)
	assert.Equal(t, "apikey:second", info.User)

	_, err = a.Authenticate(map[string]string{PropAPIKey: "nope"})
	assert.Error(t, err)
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTAuthenticator(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	a, err := NewJWTAuthenticator(JWTConfig{
		Issuer:     "sqlgate-test",
		SigningKey: base64.StdEncoding.EncodeToString(key),
	})
	require.NoError(t, err)

	// Abstains without a token.
	info, err := a.Authenticate(nil)
	require.NoError(t, err)
	assert.Nil(t, info)

	valid := signToken(t, key, jwt.MapClaims{
		"iss": "sqlgate-test",
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	info, err = a.Authenticate(map[string]string{PropToken: valid})
	require.NoError(t, err)
	assert.Equal(t, "alice", info.User)
	assert.Equal(t, "jwt", info.AuthType)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong issuer", signToken(t, key, jwt.MapClaims{
			"iss": "someone-else", "sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"no subject", signToken(t, key, jwt.MapClaims{
			"iss": "sqlgate-test", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"expired", signToken(t, key, jwt.MapClaims{
			"iss": "sqlgate-test", "sub": "alice", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"wrong key", signToken(t, []byte("another-key-another-key-another!"), jwt.MapClaims{
			"iss": "sqlgate-test", "sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(map[string]string{PropToken: tt.token})
			assert.Error(t, err)
		})
	}
}

func TestNewJWTAuthenticator_BadKey(t *testing.T) {
	_, err := NewJWTAuthenticator(JWTConfig{Issuer: "x", SigningKey: "%%not-base64%%"})
	assert.Error(t, err)

	_, err = NewJWTAuthenticator(JWTConfig{Issuer: "x", SigningKey: ""})
	assert.Error(t, err)
}
