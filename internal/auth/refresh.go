package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRefresh is returned for unknown, revoked or expired refresh tokens.
	ErrInvalidRefresh = errors.New("invalid refresh token")
)

// GenerateRefreshToken creates a random opaque token and the hash that gets persisted.
func GenerateRefreshToken() (raw string, hashed string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}

	raw = base64.RawURLEncoding.EncodeToString(buf)
	hashed = HashRefreshToken(raw)
	return raw, hashed, nil
}

// HashRefreshToken returns the base64 SHA-256 of raw.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RefreshRedisKey is the key holding the live state of a refresh token.
func RefreshRedisKey(audience, hash string) string {
	return fmt.Sprintf("refresh:%s:%s", audience, hash)
}

// PasswordResetRedisKey is the key holding a pending password reset.
func PasswordResetRedisKey(hash string) string {
	return fmt.Sprintf("pwreset:%s", hash)
}
