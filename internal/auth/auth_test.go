package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fnfo/chat/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, issuer, email string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: email,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newVerifier(t *testing.T, secret, issuer string) *JWTVerifier {
	t.Helper()
	return NewJWTVerifier(config.AuthConfig{JWTSecret: secret, JWTIssuer: issuer}, zaptest.NewLogger(t))
}

func TestVerifyValidToken(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	token := signToken(t, testSecret, "u1", "", "u1@example.com")

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.False(t, v.Degraded())
}

func TestVerifyWrongSecret(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	token := signToken(t, "other-secret", "u1", "", "")

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	v := newVerifier(t, testSecret, "identity-service")
	token := signToken(t, testSecret, "u1", "someone-else", "")

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingSubject(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	token := signToken(t, testSecret, "", "", "")

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDegradedVerifierRefusesTokens(t *testing.T) {
	v := newVerifier(t, "", "")
	assert.True(t, v.Degraded())

	_, err := v.Verify(context.Background(), signToken(t, testSecret, "u1", "", ""))
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
}

func TestAuthenticateVerified(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	a := NewAuthenticator(v, false, zaptest.NewLogger(t))

	identity, err := a.Authenticate(context.Background(), Handshake{
		Token: signToken(t, testSecret, "u1", "", "u1@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, ModeVerified, identity.Mode)
	assert.Empty(t, identity.Username, "display name comes from the profile resolver")
}

func TestAuthenticateBadTokenRejected(t *testing.T) {
	v := newVerifier(t, testSecret, "")
	// Even with self-declared enabled, a presented token must verify.
	a := NewAuthenticator(v, true, zaptest.NewLogger(t))

	_, err := a.Authenticate(context.Background(), Handshake{
		Token:      signToken(t, "wrong", "u1", "", ""),
		IdentityID: "u1",
		Username:   "Alice",
	})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateSelfDeclared(t *testing.T) {
	a := NewAuthenticator(newVerifier(t, testSecret, ""), true, zaptest.NewLogger(t))

	identity, err := a.Authenticate(context.Background(), Handshake{
		IdentityID: "u7",
		Username:   "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "u7", identity.ID)
	assert.Equal(t, "Alice", identity.Username)
	assert.Equal(t, ModeSelfDeclared, identity.Mode)
}

func TestAuthenticateLegacyUsernameOnly(t *testing.T) {
	a := NewAuthenticator(newVerifier(t, testSecret, ""), true, zaptest.NewLogger(t))

	identity, err := a.Authenticate(context.Background(), Handshake{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "dev_bob", identity.ID)
	assert.Equal(t, "bob", identity.Username)
	assert.Equal(t, ModeSelfDeclared, identity.Mode)
}

func TestAuthenticateSelfDeclaredDisabled(t *testing.T) {
	a := NewAuthenticator(newVerifier(t, testSecret, ""), false, zaptest.NewLogger(t))

	_, err := a.Authenticate(context.Background(), Handshake{
		IdentityID: "u7",
		Username:   "Alice",
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateEmptyHandshake(t *testing.T) {
	a := NewAuthenticator(newVerifier(t, testSecret, ""), true, zaptest.NewLogger(t))

	_, err := a.Authenticate(context.Background(), Handshake{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
