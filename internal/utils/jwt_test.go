package utils

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenID(t *testing.T) {
	raw, hash, err := NewTokenID()
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
	assert.Equal(t, HashToken(raw), hash)
	assert.Len(t, hash, 64)

	other, _, err := NewTokenID()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestNewTransportToken(t *testing.T) {
	tok, err := NewTransportToken("secret", 424242, time.Minute)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
	assert.Equal(t, "424242", claims.Subject)
}
