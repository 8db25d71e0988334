// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package keys manages per-account RSA key pairs and the file security
operations built on them: detached signatures, signature verification, and
hybrid file encryption.

Key pairs are generated server-side, persisted as PEM, and never rotated in
place: rotation is an explicit Remove followed by Create, which invalidates
every signature and ciphertext produced under the old pair.
*/
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// keyBits is the RSA modulus size for generated pairs.
const keyBits = 2048

const (
	pemTypePrivate = "RSA PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

// KeyPair is one account's persisted key material.
//
// PrivatePEM never leaves the core: API responses expose only the public
// half via [KeyPair.Public].
type KeyPair struct {
	AccountID  string    `json:"account_id"`
	PublicPEM  string    `json:"public_pem"`
	PrivatePEM string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// PublicView is the client-safe projection of a key pair.
type PublicView struct {
	AccountID string    `json:"account_id"`
	PublicPEM string    `json:"public_pem"`
	CreatedAt time.Time `json:"created_at"`
}

// Public returns the client-safe projection.
func (pair *KeyPair) Public() PublicView {
	return PublicView{
		AccountID: pair.AccountID,
		PublicPEM: pair.PublicPEM,
		CreatedAt: pair.CreatedAt,
	}
}

// generatePair creates a fresh RSA pair and PEM-encodes both halves.
func generatePair(accountID string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_generation_failed: %w", err))
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivate,
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_public_encoding_failed: %w", err))
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: publicDER})

	return &KeyPair{
		AccountID:  accountID,
		PublicPEM:  string(publicPEM),
		PrivatePEM: string(privatePEM),
		CreatedAt:  time.Now(),
	}, nil
}

// decodePrivate parses the stored private half.
func decodePrivate(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil || block.Type != pemTypePrivate {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_private_pem_invalid"))
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_private_parse_failed: %w", err))
	}

	return privateKey, nil
}

// decodePublic parses the stored public half.
func decodePublic(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil || block.Type != pemTypePublic {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_public_pem_invalid"))
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_public_parse_failed: %w", err))
	}

	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("keypair_public_not_rsa"))
	}

	return publicKey, nil
}
