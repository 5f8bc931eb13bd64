package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
)

func testManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(config.AuthConfig{
		JWTSecret:   "test-secret-key-at-least-32-bytes-long",
		Issuer:      "ouracs",
		TokenExpiry: expiry,
	})
}

func TestJWTManager_Generate(t *testing.T) {
	manager := testManager(15 * time.Minute)

	token, expiresAt, err := manager.Generate("drs-bot", ScopeOptimize)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if token == "" {
		t.Error("Expected token to be set")
	}
	if expiresAt.Before(time.Now()) {
		t.Error("Token should not be expired")
	}
}

func TestJWTManager_Verify_ValidToken(t *testing.T) {
	manager := testManager(15 * time.Minute)

	token, _, err := manager.Generate("alice", ScopeRead)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Expected subject 'alice', got '%s'", claims.Subject)
	}
	if !claims.HasScope(ScopeRead) {
		t.Error("Expected read scope")
	}
	if claims.HasScope(ScopeOptimize) {
		t.Error("Read scope must not grant optimize")
	}
}

func TestJWTManager_Verify_InvalidToken(t *testing.T) {
	manager := testManager(15 * time.Minute)

	if _, err := manager.Verify("invalid-token"); err == nil {
		t.Error("Expected error for invalid token")
	}
}

func TestJWTManager_Verify_WrongSecret(t *testing.T) {
	token, _, err := testManager(15*time.Minute).Generate("alice", ScopeRead)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	other := NewJWTManager(config.AuthConfig{
		JWTSecret:   "a-completely-different-secret-value!!",
		Issuer:      "ouracs",
		TokenExpiry: 15 * time.Minute,
	})
	if _, err := other.Verify(token); err == nil {
		t.Error("Expected error for token signed with another secret")
	}
}

func TestJWTManager_Verify_Expired(t *testing.T) {
	manager := testManager(-time.Minute)

	token, _, err := manager.Generate("alice", ScopeRead)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := manager.Verify(token); err == nil {
		t.Error("Expected error for expired token")
	}
}

func TestJWTManager_Verify_WrongAlgorithm(t *testing.T) {
	manager := testManager(15 * time.Minute)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Scopes: []Scope{ScopeOptimize}})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	if _, err := manager.Verify(token); err == nil {
		t.Error("Expected error for unsigned token")
	}
}

func TestClaims_HasScope(t *testing.T) {
	c := &Claims{Scopes: []Scope{ScopeOptimize}}
	if !c.HasScope(ScopeRead) || !c.HasScope(ScopeOptimize) {
		t.Error("Optimize scope should grant read and optimize")
	}
	if (&Claims{}).HasScope(ScopeRead) {
		t.Error("No scopes should grant nothing")
	}
}
