// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// Engine derives hashed secrets from raw secret material and per-account salts.
//
// # Review Process
//
// This type is critical for security. Any change to salt generation or key
// derivation parameters must be reviewed by the security team.
type Engine struct {
	saltLength       int
	hashIterations   int
	derivedKeyLength int
}

// NewEngine constructs an [Engine] with the given derivation parameters.
//
// # Parameters
//   - saltLength: Number of random bytes per salt (hex-encoded for storage).
//   - hashIterations: PBKDF2 iteration count.
//   - derivedKeyLength: Length of the derived key in bytes.
func NewEngine(saltLength, hashIterations, derivedKeyLength int) *Engine {
	return &Engine{
		saltLength:       saltLength,
		hashIterations:   hashIterations,
		derivedKeyLength: derivedKeyLength,
	}
}

/*
GenerateSalt produces fresh random salt material.

The salt is hex-encoded so it can be stored and logged as plain text.

Returns:
  - string: Hex-encoded salt of the configured byte length
  - error: apperr.CryptoUnavailable if the entropy source fails
*/
func (engine *Engine) GenerateSalt() (string, error) {
	buffer := make([]byte, engine.saltLength)

	if _, err := rand.Read(buffer); err != nil {
		return "", apperr.CryptoUnavailable(fmt.Errorf("credential_salt_generation_failed: %w", err))
	}

	return hex.EncodeToString(buffer), nil
}

/*
Derive computes the hashed representation of a secret under a salt.

Derivation is deterministic: identical (secret, salt) inputs always produce
an identical hash, which is what makes stored-hash comparison possible.

Parameters:
  - secret: The raw secret material (password, answer, token)
  - salt: Hex-encoded salt previously produced by GenerateSalt

Returns:
  - string: Hex-encoded derived key
  - error: apperr.ValidationError if the secret is empty
*/
func (engine *Engine) Derive(secret, salt string) (string, error) {
	if secret == "" {
		return "", apperr.ValidationError("Secret material must not be empty")
	}

	derived := pbkdf2.Key(
		[]byte(secret),
		[]byte(salt),
		engine.hashIterations,
		engine.derivedKeyLength,
		sha256.New,
	)

	return hex.EncodeToString(derived), nil
}

/*
Matches derives the submitted secret under the stored salt and compares it
against the stored hash in constant time.

Returns:
  - bool: true when the submitted secret reproduces the stored hash
  - error: apperr.ValidationError if the secret is empty
*/
func (engine *Engine) Matches(secret, salt, storedHash string) (bool, error) {
	derived, err := engine.Derive(secret, salt)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(derived), []byte(storedHash)) == 1, nil
}
