package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	svc, err := NewService(Config{Secret: "test-secret", TokenTTL: time.Minute})
	require.NoError(t, err)

	signed, expiresAt, err := svc.IssueToken("ops@example.com")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	subject, err := svc.ParseToken(signed)
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", subject)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuing, err := NewService(Config{
		Secret:   "test-secret",
		TokenTTL: time.Minute,
		Now:      func() time.Time { return past },
	})
	require.NoError(t, err)
	signed, _, err := issuing.IssueToken("ops@example.com")
	require.NoError(t, err)

	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)
	_, err = svc.ParseToken(signed)
	require.Error(t, err)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuing, err := NewService(Config{Secret: "other-secret"})
	require.NoError(t, err)
	signed, _, err := issuing.IssueToken("ops@example.com")
	require.NoError(t, err)

	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)
	_, err = svc.ParseToken(signed)
	require.Error(t, err)
}

func TestParseTokenRejectsWrongAlgorithm(t *testing.T) {
	svc, err := NewService(Config{Secret: "test-secret"})
	require.NoError(t, err)

	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject("ops@example.com").
		Issuer("guardrail").
		Audience([]string{"guardrail-admin"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS512, []byte("test-secret")))
	require.NoError(t, err)

	_, err = svc.ParseToken(string(signed))
	require.Error(t, err)
}
