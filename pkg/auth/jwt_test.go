package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// jwksFixture signs test tokens and serves the matching JWKS over
// httptest.
type jwksFixture struct {
	key      *rsa.PrivateKey
	jwksURL  string
	issuer   string
	audience string
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	public, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		t.Fatalf("wrap public key: %v", err)
	}
	if err := public.Set(jwk.KeyIDKey, "test-key"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := public.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	keyset := jwk.NewSet()
	if err := keyset.AddKey(public); err != nil {
		t.Fatalf("add key: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(srv.Close)

	return &jwksFixture{
		key:      key,
		jwksURL:  srv.URL + "/.well-known/jwks.json",
		issuer:   "https://issuer.example",
		audience: "scriba",
	}
}

// sign issues a token with the fixture's issuer/audience unless the
// overrides say otherwise.
func (f *jwksFixture) sign(t *testing.T, mutate func(jwt.Token)) string {
	t.Helper()

	token := jwt.New()
	for k, v := range map[string]any{
		jwt.IssuerKey:     f.issuer,
		jwt.AudienceKey:   f.audience,
		jwt.SubjectKey:    "user-1",
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Hour),
	} {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if mutate != nil {
		mutate(token)
	}

	private, err := jwk.FromRaw(f.key)
	if err != nil {
		t.Fatalf("wrap private key: %v", err)
	}
	if err := private.Set(jwk.KeyIDKey, "test-key"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, private))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func (f *jwksFixture) validator(t *testing.T) *JWTValidator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v, err := NewJWTValidator(ctx, f.jwksURL, f.issuer, f.audience)
	if err != nil {
		t.Fatalf("NewJWTValidator() = %v", err)
	}
	return v
}

func TestNewJWTValidator(t *testing.T) {
	f := newJWKSFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		jwksURL string
		wantErr bool
	}{
		{"reachable JWKS", f.jwksURL, false},
		{"unreachable JWKS", "http://127.0.0.1:1/jwks.json", true},
		{"empty URL", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			_, err := NewJWTValidator(ctx, tt.jwksURL, f.issuer, f.audience)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewJWTValidator() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTValidator_Validate(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t)
	ctx := context.Background()

	token := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set("email", "ops@example.com")
		_ = tok.Set("department", "archive")
	})

	claims, err := v.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Email != "ops@example.com" {
		t.Errorf("Email = %q, want ops@example.com", claims.Email)
	}
	if claims.Custom["department"] != "archive" {
		t.Errorf("Custom[department] = %v, want archive", claims.Custom["department"])
	}
}

func TestJWTValidator_RejectsBadTokens(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t)
	ctx := context.Background()

	expired := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour))
	})
	wrongIssuer := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.IssuerKey, "https://somewhere-else.example")
	})
	wrongAudience := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.AudienceKey, "other-service")
	})

	foreign := newJWKSFixture(t)
	foreignSigned := foreign.sign(t, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"expired", expired},
		{"wrong issuer", wrongIssuer},
		{"wrong audience", wrongAudience},
		{"signed by unknown key", foreignSigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(ctx, tt.token); err == nil {
				t.Error("Validate() accepted the token, want error")
			}
		})
	}
}

func TestJWTValidator_OptionalIssuerAndAudience(t *testing.T) {
	f := newJWKSFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v, err := NewJWTValidator(ctx, f.jwksURL, "", "")
	if err != nil {
		t.Fatalf("NewJWTValidator() = %v", err)
	}

	token := f.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.IssuerKey, "https://anything.example")
		_ = tok.Set(jwt.AudienceKey, "anyone")
	})
	if _, err := v.Validate(ctx, token); err != nil {
		t.Errorf("Validate() = %v, want success with unchecked issuer/audience", err)
	}
}

func TestStaticValidator(t *testing.T) {
	if _, err := NewStaticValidator(""); err == nil {
		t.Error("NewStaticValidator(\"\") succeeded, want error")
	}

	v, err := NewStaticValidator("hunter2")
	if err != nil {
		t.Fatalf("NewStaticValidator() = %v", err)
	}
	ctx := context.Background()

	claims, err := v.Validate(ctx, "hunter2")
	if err != nil {
		t.Fatalf("Validate(correct token) = %v", err)
	}
	if claims.Subject != "api" {
		t.Errorf("Subject = %q, want api", claims.Subject)
	}
	if _, err := v.Validate(ctx, "hunter3"); err == nil {
		t.Error("Validate(wrong token) succeeded, want error")
	}
	if _, err := v.Validate(ctx, ""); err == nil {
		t.Error("Validate(empty token) succeeded, want error")
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	v, err := FromConfig(ctx, Config{})
	if err != nil || v != nil {
		t.Errorf("FromConfig(disabled) = %v, %v, want nil validator and nil error", v, err)
	}

	v, err = FromConfig(ctx, Config{Mode: ModeStatic, Token: "secret"})
	if err != nil {
		t.Fatalf("FromConfig(static) = %v", err)
	}
	if _, ok := v.(*StaticValidator); !ok {
		t.Errorf("FromConfig(static) = %T, want *StaticValidator", v)
	}

	if _, err := FromConfig(ctx, Config{Mode: ModeStatic}); err == nil {
		t.Error("FromConfig(static without token) succeeded, want error")
	}
	if _, err := FromConfig(ctx, Config{Mode: "ldap"}); err == nil {
		t.Error("FromConfig(ldap) succeeded, want error")
	}
}
