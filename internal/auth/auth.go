// Package auth authenticates inbound bearer credentials and carries the
// resulting principal through the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeAll            = "*"
	ScopeLifecycleRead  = "lifecycle:ro"
	ScopeLifecycleWrite = "lifecycle:rw"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Config lists the accepted credentials. Any of them may be empty.
type Config struct {
	// APIKey is the legacy single key; it grants every scope.
	APIKey string
	Tokens []TokenConfig
	// JWTSecret verifies HS256 tokens issued by the Euphrosyne backend.
	JWTSecret string
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool {
	return c.APIKey != "" || len(c.Tokens) > 0 || c.JWTSecret != ""
}

type Principal struct {
	// Subject names the credential: "api_key", "token" or the JWT subject.
	Subject string
	Scopes  map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the legacy key, the
// static tokens and finally the backend JWT secret.
func Authenticate(presented string, cfg Config) (Principal, bool) {
	if constantTimeEqual(presented, cfg.APIKey) {
		return Principal{
			Subject: "api_key",
			Scopes:  map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range cfg.Tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Subject: "token",
				Scopes:  normalizeScopes(t.Scopes),
			}, true
		}
	}

	if cfg.JWTSecret != "" && strings.Count(presented, ".") == 2 {
		if p, err := verifyJWT(presented, cfg.JWTSecret); err == nil {
			return p, true
		}
	}
	return Principal{}, false
}

// backendClaims are the claims of a backend-issued token. A token without
// scopes may drive lifecycle operations.
type backendClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func verifyJWT(presented, secret string) (Principal, error) {
	claims := &backendClaims{}
	_, err := jwt.ParseWithClaims(presented, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("verify token: %w", err)
	}

	scopes := claims.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeLifecycleWrite}
	}
	subject := claims.Subject
	if subject == "" {
		subject = "jwt"
	}
	return Principal{Subject: subject, Scopes: normalizeScopes(scopes)}, nil
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeLifecycleWrite]; ok {
		out[ScopeLifecycleRead] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
