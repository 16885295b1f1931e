package utils

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAuthHeader   = errors.New("authorization header missing")
	ErrMalformedAuthHeader = errors.New("invalid authorization header format")
	ErrUnexpectedSigning   = errors.New("unexpected signing method")
)

// UserClaims is the payload of an access token issued by the auth service.
type UserClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ValidateUserToken validates an HMAC-signed JWT and returns its claims.
func ValidateUserToken(tokenString string, secret []byte) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigning
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ExtractTokenFromHeader extracts the token from the Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMalformedAuthHeader
	}
	return strings.TrimSpace(token), nil
}
