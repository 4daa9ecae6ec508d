package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevTokens(t *testing.T) {
	v, err := NewVerifier("", "")
	require.NoError(t, err)
	p, err := v.Verify("drv-1:team-1")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "drv-1", TeamID: "team-1"}, p)

	_, err = v.Verify(":team-1")
	assert.Error(t, err)
}

func TestHMACTokens(t *testing.T) {
	v, err := NewVerifier("HMAC", "shh")
	require.NoError(t, err)
	tok, err := v.Sign("drv-1", "team-1")
	require.NoError(t, err)

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "drv-1", p.UserID)
	assert.Equal(t, "team-1", p.TeamID)

	other := &Verifier{Mode: ModeHMAC, Secret: []byte("nope")}
	_, err = other.Verify(tok)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "x"})
	s, err := none.SignedString([]byte("shh"))
	require.NoError(t, err)
	_, err = v.Verify(s)
	assert.Error(t, err, "only HS256 is accepted")
}

func TestModeValidation(t *testing.T) {
	_, err := NewVerifier("hmac", " ")
	assert.Error(t, err)
	_, err = NewVerifier("jwks", "x")
	assert.Error(t, err)
}
