// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// # Secure Random Material

// GenerateSecureToken returns byteLength random bytes, hex-encoded.
//
// The only failure mode is an unavailable entropy source, which callers
// must treat as a CryptoUnavailable infrastructure error.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("sec: token length must be positive, got %d", byteLength)
	}

	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: entropy source unavailable: %w", err)
	}

	return hex.EncodeToString(buffer), nil
}

// # Token Digests

// HashToken returns the hex SHA-256 digest of a token.
//
// Opaque tokens (auth tokens, reset tokens) are never persisted in clear;
// only this digest ever reaches a store.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// ConstantTimeEquals compares two strings without leaking a timing signal.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
