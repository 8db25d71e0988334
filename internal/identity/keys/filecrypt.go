// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// fileKeyLength is the AES-256 file key size in bytes.
const fileKeyLength = 32

// envelopeHeaderLength is the fixed prefix of a ciphertext envelope: a
// big-endian uint16 carrying the wrapped-key length.
const envelopeHeaderLength = 2

// signPayload produces a detached RSA-PSS signature over the SHA-256 digest
// of the payload.
func signPayload(privateKey *rsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)

	signature, err := rsa.SignPSS(rand.Reader, privateKey, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_sign_failed: %w", err))
	}

	return signature, nil
}

// verifyPayload checks a detached signature. A mismatch is a normal false,
// not an error: only infrastructure failures surface as errors.
func verifyPayload(publicKey *rsa.PublicKey, payload, signature []byte) bool {
	digest := sha256.Sum256(payload)
	return rsa.VerifyPSS(publicKey, crypto.SHA256, digest[:], signature, nil) == nil
}

/*
sealPayload encrypts a payload under an account's public key.

The scheme is hybrid: a fresh random AES-256 file key encrypts the payload
with GCM, and the file key is wrapped with RSA-OAEP (SHA-256) under the
public key. Envelope layout:

	[2-byte big-endian wrapped-key length][wrapped key][nonce || ciphertext]

Only the private-key holder can unwrap the file key, so encryption needs no
secret material at all.
*/
func sealPayload(publicKey *rsa.PublicKey, payload []byte) ([]byte, error) {
	fileKey := make([]byte, fileKeyLength)
	if _, err := rand.Read(fileKey); err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_key_generation_failed: %w", err))
	}

	blockCipher, err := aes.NewCipher(fileKey)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_cipher_init_failed: %w", err))
	}

	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_gcm_init_failed: %w", err))
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_nonce_generation_failed: %w", err))
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, fileKey, nil)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_key_wrap_failed: %w", err))
	}

	envelope := make([]byte, 0, envelopeHeaderLength+len(wrappedKey)+len(nonce)+len(payload)+gcm.Overhead())
	envelope = binary.BigEndian.AppendUint16(envelope, uint16(len(wrappedKey)))
	envelope = append(envelope, wrappedKey...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, payload, nil)

	return envelope, nil
}

// openPayload reverses [sealPayload] with the account's private key.
//
// A malformed or tampered envelope, or one sealed under a different key
// pair, is rejected as Unauthorized.
func openPayload(privateKey *rsa.PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderLength {
		return nil, apperr.Unauthorized("Ciphertext envelope is malformed")
	}

	wrappedLength := int(binary.BigEndian.Uint16(envelope))
	rest := envelope[envelopeHeaderLength:]
	if len(rest) < wrappedLength {
		return nil, apperr.Unauthorized("Ciphertext envelope is malformed")
	}

	fileKey, err := rsa.DecryptOAEP(sha256.New(), nil, privateKey, rest[:wrappedLength], nil)
	if err != nil {
		return nil, apperr.Unauthorized("Ciphertext was not sealed for this key pair")
	}

	blockCipher, err := aes.NewCipher(fileKey)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_cipher_init_failed: %w", err))
	}

	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("file_gcm_init_failed: %w", err))
	}

	sealed := rest[wrappedLength:]
	if len(sealed) < gcm.NonceSize() {
		return nil, apperr.Unauthorized("Ciphertext envelope is malformed")
	}

	payload, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		if errors.Is(err, rsa.ErrDecryption) {
			return nil, apperr.Unauthorized("Ciphertext was not sealed for this key pair")
		}
		return nil, apperr.Unauthorized("Ciphertext is corrupted or was tampered with")
	}

	return payload, nil
}
