package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, mutate func(*jwt.Builder)) jwt.Token {
	t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer("guardrail").
		Audience([]string{"admin-api"}).
		Subject("ops").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		mutate(b)
	}
	token, err := b.Build()
	require.NoError(t, err)
	return token
}

func hs256Validator() TokenValidator {
	return TokenValidator{
		Issuer:    "guardrail",
		Audience:  "admin-api",
		ClockSkew: time.Second,
		Algorithm: jwa.HS256,
	}
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	token := buildToken(t, nil)
	require.NoError(t, hs256Validator().Validate(token, jwa.HS256, time.Now()))
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token := buildToken(t, func(b *jwt.Builder) { b.Issuer("someone-else") })
	require.Error(t, hs256Validator().Validate(token, jwa.HS256, time.Now()))
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Now()
	token := buildToken(t, func(b *jwt.Builder) {
		b.IssuedAt(now.Add(-2 * time.Hour))
		b.NotBefore(now.Add(-2 * time.Hour))
		b.Expiration(now.Add(-time.Minute))
	})
	require.Error(t, hs256Validator().Validate(token, jwa.HS256, now))
}

func TestValidateRejectsNotYetValid(t *testing.T) {
	now := time.Now()
	token := buildToken(t, func(b *jwt.Builder) {
		b.NotBefore(now.Add(5 * time.Minute))
		b.Expiration(now.Add(10 * time.Minute))
	})
	require.Error(t, hs256Validator().Validate(token, jwa.HS256, now))
}

func TestValidateRejectsAlgorithmMismatch(t *testing.T) {
	token := buildToken(t, nil)
	err := hs256Validator().Validate(token, jwa.RS256, time.Now())
	require.ErrorContains(t, err, "unexpected token algorithm")
}

func TestValidateRejectsNilToken(t *testing.T) {
	require.Error(t, hs256Validator().Validate(nil, jwa.HS256, time.Now()))
}
