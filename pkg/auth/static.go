package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// StaticValidator checks requests against one shared token. It is the
// single-user mode: no identity provider, just a secret both sides
// know.
type StaticValidator struct {
	token []byte
}

func NewStaticValidator(token string) (*StaticValidator, error) {
	if token == "" {
		return nil, fmt.Errorf("static auth needs a token")
	}
	return &StaticValidator{token: []byte(token)}, nil
}

// Validate compares in constant time regardless of where the tokens
// first differ.
func (v *StaticValidator) Validate(_ context.Context, token string) (*Claims, error) {
	if subtle.ConstantTimeCompare(v.token, []byte(token)) != 1 {
		return nil, errors.New("invalid token")
	}
	return &Claims{Subject: "api"}, nil
}
