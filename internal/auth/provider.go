package auth

import (
	"context"
	"errors"
	"fmt"

	"coderoom/internal/models"
	"coderoom/internal/utils"
)

var (
	ErrMissingCredential = errors.New("authentication token missing")
	ErrInvalidCredential = errors.New("invalid authentication token")
)

// IdentityProvider turns a bearer credential into a user identity.
type IdentityProvider interface {
	Verify(ctx context.Context, credential string) (models.UserIdentity, error)
}

// JWTProvider verifies tokens signed with a shared HMAC secret.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Verify prefers the username claim and falls back to the subject.
func (p *JWTProvider) Verify(_ context.Context, credential string) (models.UserIdentity, error) {
	if credential == "" {
		return "", ErrMissingCredential
	}
	claims, err := utils.ValidateUserToken(credential, p.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	switch {
	case claims.Username != "":
		return models.UserIdentity(claims.Username), nil
	case claims.Subject != "":
		return models.UserIdentity(claims.Subject), nil
	default:
		return "", fmt.Errorf("%w: no identity claim", ErrInvalidCredential)
	}
}
