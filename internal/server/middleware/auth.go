// Package middleware provides HTTP middleware.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/auth"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
)

// Authenticator checks bearer tokens on API routes.
type Authenticator struct {
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(jwtManager *auth.JWTManager, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		jwtManager: jwtManager,
		logger:     logger.With(zap.String("middleware", "auth")),
	}
}

// Wrap returns a handler that authenticates requests under /api/. Reads
// need auth.ScopeRead; every other method needs auth.ScopeOptimize.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			a.logger.Debug("Missing bearer token", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or malformed bearer token")
			return
		}

		claims, err := a.jwtManager.Verify(tokenString)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}

		if !claims.HasScope(requiredScope(r.Method)) {
			writeError(w, http.StatusForbidden, "permission_denied", "insufficient scope")
			return
		}

		a.logger.Debug("Request authenticated",
			zap.String("subject", claims.Subject),
			zap.String("path", r.URL.Path),
		)

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Websocket clients that cannot
// set headers may pass access_token as a query parameter instead.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		return token, token != header && token != ""
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func requiredScope(method string) auth.Scope {
	switch method {
	case http.MethodGet, http.MethodHead:
		return auth.ScopeRead
	default:
		return auth.ScopeOptimize
	}
}

// isPublicPath reports whether a path skips authentication.
func isPublicPath(path string) bool {
	return !strings.HasPrefix(path, "/api/")
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}
