package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"     // secure random number generation
	"crypto/sha256"   // SHA‑256 hashing for stored token ids
	"encoding/base64" // URL-safe encoding of raw token ids
	"encoding/hex"    // hex encoding of digests
	"strconv"         // telegram ids travel as decimal strings in "sub"
	"time"            // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// TransportToken represents a signed JWT used by the chat transport to call
// the command endpoint on behalf of a chat user.  Token contains the JWT
// string and Exp its expiration.
type TransportToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewTransportToken builds and signs an HS256 JWT for a chat user.  The
// subject (sub) carries the telegram id as a decimal string; the middleware
// parses it back before the dispatcher resolves the resident.
func NewTransportToken(secret string, telegramID int64, ttl time.Duration) (TransportToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(telegramID, 10),
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return TransportToken{}, err
	}
	return TransportToken{Token: signed, Exp: exp}, nil
}

// NewTokenID returns a fresh door-access token id and the hash under which
// it is stored.  The id is 32 bytes (256 bits) from crypto/rand, encoded as
// unpadded base64url so it can be embedded in a link.
func NewTokenID() (raw, hash string, err error) {
	buf, err := randomBytes(32)
	if err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken returns the SHA‑256 hash of a raw token id as a hex string.
// Only the hash is persisted, so a leaked table row cannot open the door.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RandomSecret returns a URL-safe random string of n bytes of entropy.  It
// is used for generated directory passwords.
func RandomSecret(n int) (string, error) {
	buf, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// randomBytes reads n bytes of cryptographically secure random data.
func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
