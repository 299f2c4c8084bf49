package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Verifies that issued tokens round-trip through Verify with the user ID as subject.
// Scope: Unit Test
// Expected: Subject and issuer match the issuing user and verifier.
func TestTokenVerifier_IssueAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue(&User{ID: "user-1"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenantscope", claims.Issuer)
}

// TestPurpose: Verifies that expired tokens, foreign signatures, other algorithms and other issuers are rejected.
// Scope: Unit Test
// Security: Algorithm confusion and replay of expired tokens
// Expected: Every case wraps ErrInvalidToken.
func TestTokenVerifier_RejectsInvalidTokens(t *testing.T) {
	v := newTestVerifier(t)

	expired, err := v.Issue(&User{ID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	other, err := NewTokenVerifier([]byte("another-secret-987654"), "tenantscope", 0)
	require.NoError(t, err)
	foreign, err := other.Issue(&User{ID: "user-1"}, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewTokenVerifier([]byte("test-secret-0123456789"), "someone-else", 0)
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Issue(&User{ID: "user-1"}, time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		TokenType: "access",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "tenantscope"},
		TokenType:        "access",
	}).SignedString([]byte("test-secret-0123456789"))
	require.NoError(t, err)

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "tenantscope",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		TokenType: "refresh",
	}).SignedString([]byte("test-secret-0123456789"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"foreign":      foreign,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"no expiry":    noExpiry,
		"refresh type": refresh,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier(nil, "", 0)
	assert.Error(t, err)
}

// TestPurpose: Verifies header parsing into scheme, tag and token.
// Scope: Unit Test
// Expected: Well-formed headers parse; headers missing a scheme or token do not.
func TestParseCredential(t *testing.T) {
	tests := []struct {
		header string
		ok     bool
		scheme Scheme
	}{
		{"simplejwt abc", true, SchemeSimpleJWT},
		{"oauth abc", true, SchemeOAuth},
		{"django-rest-knox abc", true, SchemeKnox},
		{"Bearer abc", true, SchemeUnrecognized},
		{"Bearer", false, SchemeUnrecognized},
		{"", false, SchemeUnrecognized},
		{" abc", false, SchemeUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			cred, ok := ParseCredential(tt.header)
			assert.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.scheme, cred.Scheme)
			assert.Equal(t, "abc", cred.Token)
		})
	}
}
