package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Issuer     string
	SigningKey string // Base64-encoded HMAC key
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	issuer     string
	signingKey []byte
}

// NewJWTAuthenticator creates a bearer token authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key is empty")
	}
	return &JWTAuthenticator{
		issuer:     cfg.Issuer,
		signingKey: key,
	}, nil
}

// Authenticate parses and validates a bearer token from the properties.
// Abstains when no token is present.
func (a *JWTAuthenticator) Authenticate(properties map[string]string) (*UserInfo, error) {
	tokenString, ok := properties[PropToken]
	if !ok || tokenString == "" {
		return nil, nil //nolint:nilnil // abstention per Authenticator contract
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	iss, ok := claims["iss"].(string)
	if !ok || iss != a.issuer {
		return nil, fmt.Errorf("invalid issuer: got %q, want %q", iss, a.issuer)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &UserInfo{
		User:     sub,
		AuthType: "jwt",
	}, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
