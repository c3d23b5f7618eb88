// Package auth provides OpenSession authentication for the gateway:
// bcrypt-hashed API keys and HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
)

// Credential property keys clients supply in OpenSession properties.
const (
	// PropAPIKey carries an API key credential.
	PropAPIKey = "auth.api_key"

	// PropToken carries a bearer JWT credential.
	PropToken = "auth.token"
)

// ErrUnauthenticated is returned when no authenticator accepts the
// supplied credentials.
var ErrUnauthenticated = errors.New("authentication failed")

// UserInfo describes an authenticated principal.
type UserInfo struct {
	User     string
	AuthType string
}

// Authenticator validates one kind of credential.
type Authenticator interface {
	// Authenticate validates the credentials in properties. A nil UserInfo
	// with nil error means the authenticator found no credential of its
	// kind and abstains.
	Authenticate(properties map[string]string) (*UserInfo, error)
}

// Chain tries each authenticator in order. If every authenticator
// abstains, anonymous access applies when allowed.
type Chain struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// NewChain creates an authenticator chain.
func NewChain(allowAnonymous bool, authenticators ...Authenticator) *Chain {
	return &Chain{
		authenticators: authenticators,
		allowAnonymous: allowAnonymous,
	}
}

// Authenticate resolves the principal for an OpenSession request. The
// requested user name is kept when the credential does not carry one.
func (c *Chain) Authenticate(user string, properties map[string]string) (*UserInfo, error) {
	for _, a := range c.authenticators {
		info, err := a.Authenticate(properties)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		if info != nil {
			if info.User == "" {
				info.User = user
			}
			return info, nil
		}
	}

	if c.allowAnonymous {
		return &UserInfo{User: user, AuthType: "anonymous"}, nil
	}
	return nil, fmt.Errorf("%w: no credentials supplied", ErrUnauthenticated)
}
