// Package auth provides bearer token issuing and verification for the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
)

const audience = "ouracs-api"

// Scope grants access to a group of API operations.
type Scope string

const (
	// ScopeRead allows listing plans, reading state and subscribing to events.
	ScopeRead Scope = "read"
	// ScopeOptimize additionally allows optimization calls and state resets.
	ScopeOptimize Scope = "optimize"
)

// Claims represents the JWT claims of an API caller.
type Claims struct {
	Scopes []Scope `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant s. ScopeOptimize implies ScopeRead.
func (c *Claims) HasScope(s Scope) bool {
	for _, have := range c.Scopes {
		if have == s || (have == ScopeOptimize && s == ScopeRead) {
			return true
		}
	}
	return false
}

// JWTManager handles JWT token generation and verification.
type JWTManager struct {
	secret      []byte
	issuer      string
	tokenExpiry time.Duration
}

// NewJWTManager creates a new JWT manager with the given configuration.
func NewJWTManager(cfg config.AuthConfig) *JWTManager {
	return &JWTManager{
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.Issuer,
		tokenExpiry: cfg.TokenExpiry,
	}
}

// Generate signs a token for a subject (a user or an automation account).
func (m *JWTManager) Generate(subject string, scopes ...Scope) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenExpiry)

	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s-%d", subject, now.UnixNano()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates a token and returns the claims if valid.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithAudience(audience)}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// TokenExpiry returns the token lifetime.
func (m *JWTManager) TokenExpiry() time.Duration {
	return m.tokenExpiry
}
