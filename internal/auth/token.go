// Package auth implements the shared-password login gate: a JWT cookie for
// browser sessions and a shared-secret bearer check for proxy endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the HTTP-only cookie carrying the login token.
const CookieName = "auth-token"

// TokenExpiry is how long a login remains valid.
const TokenExpiry = 7 * 24 * time.Hour

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenManager signs and verifies login tokens using HS256.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a token manager with the given signing secret.
func NewTokenManager(secret []byte) *TokenManager {
	return &TokenManager{secret: secret}
}

// Generate creates a signed login token.
func (m *TokenManager) Generate() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"authenticated": true,
		"iat":           now.Unix(),
		"exp":           now.Add(TokenExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates a login token and its authenticated claim.
func (m *TokenManager) Verify(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidToken
	}
	if authenticated, ok := claims["authenticated"].(bool); !ok || !authenticated {
		return ErrInvalidToken
	}

	return nil
}
