// Package auth verifies HS256 bearer tokens and maps their roles onto the
// module verbs.
//
//   - viewer: read-only verbs and the event stream
//   - controller: all viewer privileges plus mutating verbs
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier handles JWT token verification.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("HS256 requires secret key")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return extractClaims(claims)
}

// Sign issues a token for subject carrying roles. Used by tooling and tests.
func (v *Verifier) Sign(subject string, roles ...string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
	})
	return token.SignedString(v.secret)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	raw, ok := claims["roles"].([]interface{})
	if !ok {
		return nil, errors.New("missing or invalid 'roles' claim")
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		role, ok := r.(string)
		if !ok || (role != RoleViewer && role != RoleController) {
			return nil, fmt.Errorf("invalid role: %v", r)
		}
		roles = append(roles, role)
	}

	return &Claims{Subject: sub, Roles: roles}, nil
}
