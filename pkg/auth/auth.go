// Package auth guards the control surface. It is off by default: a
// single-user install on a private network needs no ceremony. Static
// mode checks one shared bearer token; jwt mode validates tokens
// against a provider's JWKS.
package auth

import (
	"context"
	"fmt"
)

// Mode selects how requests authenticate.
type Mode string

const (
	ModeDisabled Mode = ""
	ModeStatic   Mode = "static"
	ModeJWT      Mode = "jwt"
)

// Config is the static auth configuration from the server config file.
type Config struct {
	Mode     Mode   `yaml:"mode" json:"mode"`
	Token    string `yaml:"token" json:"-"`
	JWKSURL  string `yaml:"jwks_url" json:"jwks_url"`
	Issuer   string `yaml:"issuer" json:"issuer"`
	Audience string `yaml:"audience" json:"audience"`
}

// Claims carries the identity attached to an authenticated request.
type Claims struct {
	Subject string                 `json:"sub"`
	Email   string                 `json:"email,omitempty"`
	Custom  map[string]interface{} `json:"-"`
}

// Validator checks one bearer token and returns its claims.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// FromConfig builds the validator for the configured mode. Disabled
// auth returns nil; callers skip the middleware entirely in that case.
func FromConfig(ctx context.Context, cfg Config) (Validator, error) {
	switch cfg.Mode {
	case ModeDisabled:
		return nil, nil
	case ModeStatic:
		return NewStaticValidator(cfg.Token)
	case ModeJWT:
		return NewJWTValidator(ctx, cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q (supported: static, jwt)", cfg.Mode)
	}
}
