package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "backend-secret"

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	token, err := ExtractBearerToken(req)
	if err != nil || token != "test-key" {
		t.Fatalf("expected test-key, got %q (%v)", token, err)
	}

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := ExtractBearerToken(req); err == nil {
			t.Fatalf("expected error for header %q", header)
		}
	}
}

func TestAuthenticateLegacyKey(t *testing.T) {
	t.Parallel()

	p, ok := Authenticate("admin-key", Config{APIKey: "admin-key"})
	if !ok {
		t.Fatal("expected legacy key to authenticate")
	}
	if !HasAnyScope(p, ScopeLifecycleWrite) {
		t.Fatal("expected legacy key to grant every scope")
	}
	if _, ok := Authenticate("", Config{}); ok {
		t.Fatal("expected empty key not to authenticate")
	}
}

func TestAuthenticateScopedToken(t *testing.T) {
	t.Parallel()

	cfg := Config{Tokens: []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeLifecycleRead}},
		{Token: "writer", Scopes: []string{" lifecycle:rw ", ""}},
	}}

	reader, ok := Authenticate("reader", cfg)
	if !ok {
		t.Fatal("expected reader to authenticate")
	}
	if HasAnyScope(reader, ScopeLifecycleWrite) {
		t.Fatal("read token must not grant write")
	}
	if !HasAnyScope(reader, ScopeLifecycleRead) {
		t.Fatal("read token must grant read")
	}

	writer, ok := Authenticate("writer", cfg)
	if !ok {
		t.Fatal("expected writer to authenticate")
	}
	if !HasAnyScope(writer, ScopeLifecycleRead) {
		t.Fatal("write must imply read")
	}

	if _, ok := Authenticate("unknown", cfg); ok {
		t.Fatal("expected unknown token to be rejected")
	}
}

func TestAuthenticateBackendJWT(t *testing.T) {
	t.Parallel()

	cfg := Config{JWTSecret: testSecret}
	valid := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "euphrosyne",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	})
	p, ok := Authenticate(valid, cfg)
	if !ok {
		t.Fatal("expected backend token to authenticate")
	}
	if p.Subject != "euphrosyne" {
		t.Fatalf("expected subject euphrosyne, got %q", p.Subject)
	}
	if !HasAnyScope(p, ScopeLifecycleWrite) || !HasAnyScope(p, ScopeLifecycleRead) {
		t.Fatal("expected default lifecycle scopes")
	}

	readOnly := signToken(t, testSecret, backendClaims{
		Scopes: []string{ScopeLifecycleRead},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	p, ok = Authenticate(readOnly, cfg)
	if !ok || HasAnyScope(p, ScopeLifecycleWrite) {
		t.Fatalf("expected read-only principal, got %+v (ok=%v)", p, ok)
	}

	rejected := map[string]string{
		"wrong secret": signToken(t, "other", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}),
		"expired":      signToken(t, testSecret, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}),
		"no expiry":    signToken(t, testSecret, jwt.RegisteredClaims{Subject: "x"}),
		"garbage":      "a.b.c",
	}
	for name, token := range rejected {
		if _, ok := Authenticate(token, cfg); ok {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal in empty context")
	}
	ctx := WithPrincipal(context.Background(), Principal{Subject: "token"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "token" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	if (Config{}).Enabled() {
		t.Fatal("empty config must be disabled")
	}
	if !(Config{JWTSecret: "s"}).Enabled() {
		t.Fatal("jwt secret must enable auth")
	}
}
