package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.Issue("42", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.ExternalID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt, 5*time.Second)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.Issue("42", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidCredential, "token %q", token)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTVerifier("issuer-secret")
	token, err := issuer.Issue("42", time.Minute)
	require.NoError(t, err)

	v := NewJWTVerifier("other-secret")
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRequiresSubject(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.Issue("", time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
