package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// Role constants
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates an auth middleware. A nil verifier disables auth.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Enabled reports whether requests must carry a token
func (m *Middleware) Enabled() bool {
	return m != nil && m.verifier != nil
}

// Authenticate extracts and verifies the bearer token of r
func (m *Middleware) Authenticate(r *http.Request) (*Claims, error) {
	token, err := extractBearerToken(r)
	if err != nil {
		return nil, err
	}
	return m.verifier.VerifyToken(token)
}

// RequireAuth creates middleware that requires a viewer or controller token.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next(w, r)
			return
		}

		claims, err := m.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if !CanRead(claims) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// WithClaims stores claims in ctx
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFromContext extracts claims from ctx, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// CanRead checks if the user can call read-only verbs.
func CanRead(claims *Claims) bool {
	return hasAnyRole(claims, RoleViewer, RoleController)
}

// CanControl checks if the user can call mutating verbs.
func CanControl(claims *Claims) bool {
	return hasAnyRole(claims, RoleController)
}

func hasAnyRole(claims *Claims, roles ...string) bool {
	if claims == nil {
		return false
	}
	for _, required := range roles {
		for _, role := range claims.Roles {
			if role == required {
				return true
			}
		}
	}
	return false
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid Authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":  "error",
		"code":    code,
		"message": message,
	})
}
