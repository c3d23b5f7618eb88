package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is a named key entry. Hash is a bcrypt hash of the key value so
// plaintext keys never live in configuration.
type APIKey struct {
	Name string
	Hash string
}

// APIKeyAuthenticator authenticates using bcrypt-hashed API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(keys []APIKey) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

// HashKey produces a bcrypt hash for an API key value, for use in
// configuration.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks the supplied key against every configured hash.
// Abstains when the properties carry no API key.
func (a *APIKeyAuthenticator) Authenticate(properties map[string]string) (*UserInfo, error) {
	key, ok := properties[PropAPIKey]
	if !ok || key == "" {
		return nil, nil //nolint:nilnil // abstention per Authenticator contract
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			return &UserInfo{
				User:     "apikey:" + k.Name,
				AuthType: "apikey",
			}, nil
		}
	}
	return nil, fmt.Errorf("invalid API key")
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
