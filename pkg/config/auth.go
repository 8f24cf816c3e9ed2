package config

import (
	"fmt"
	"time"
)

// AuthMode selects how the control surface authenticates requests.
type AuthMode string

const (
	// AuthModeNone disables authentication (default; single-user installs
	// behind a trusted network).
	AuthModeNone AuthMode = "none"

	// AuthModeToken compares a static bearer token.
	AuthModeToken AuthMode = "token"

	// AuthModeJWT validates JWTs against a JWKS endpoint.
	AuthModeJWT AuthMode = "jwt"
)

// AuthConfig configures authentication for the control surface.
//
// Example:
//
//	server:
//	  auth:
//	    mode: jwt
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "scriba-api"
type AuthConfig struct {
	// Mode is "none", "token", or "jwt". Default: none.
	Mode AuthMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Token is the static bearer token (mode: token).
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// JWKSURL is the URL to fetch the JSON Web Key Set from (mode: jwt).
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Issuer is the expected token issuer (iss claim).
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the expected token audience (aud claim).
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// RefreshInterval is how often to refresh the JWKS. Default: 15m.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`

	// ExcludedPaths never require authentication.
	// Default: ["/health", "/metrics"].
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = AuthModeNone
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/health", "/metrics"}
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	switch c.Mode {
	case "", AuthModeNone:
		return nil
	case AuthModeToken:
		if c.Token == "" {
			return fmt.Errorf("auth.token is required for mode token")
		}
	case AuthModeJWT:
		if c.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required for mode jwt")
		}
		if c.Issuer == "" {
			return fmt.Errorf("auth.issuer is required for mode jwt")
		}
		if c.Audience == "" {
			return fmt.Errorf("auth.audience is required for mode jwt")
		}
		if c.RefreshInterval < time.Minute {
			return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
		}
	default:
		return fmt.Errorf("unsupported auth.mode %q (valid: none, token, jwt)", c.Mode)
	}
	return nil
}

// IsEnabled reports whether any authentication is configured.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Mode != "" && c.Mode != AuthModeNone
}
