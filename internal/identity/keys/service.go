// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/validate"
)

const (
	// signatureSuffix is appended to the signed file's path for the detached signature.
	signatureSuffix = ".sig"

	// cipherSuffix marks an encrypted file.
	cipherSuffix = ".enc"

	// clearSuffix is used when a decryption target does not carry cipherSuffix.
	clearSuffix = ".dec"
)

// outputFileMode is the permission set for files the service writes.
const outputFileMode = 0o600

// Service implements key-pair lifecycle and file security operations.
type Service struct {
	store  Store
	guard  *authz.Guard
	logger *slog.Logger

	// fileMutex serializes all file operations process-wide. Signing,
	// verification, and the cipher operations may target the same paths;
	// one writer at a time keeps outputs whole.
	fileMutex sync.Mutex
}

// NewService constructs a keys [Service].
func NewService(store Store, guard *authz.Guard, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		guard:  guard,
		logger: logger,
	}
}

/*
Create generates and persists a fresh RSA pair for the account.

An existing pair is never overwritten: rotation is an explicit Remove
followed by Create, so invalidating old signatures requires a deliberate
two-step.

Returns:
  - *PublicView: The public half of the new pair.
  - error: apperr.Conflict when a pair already exists.
*/
func (service *Service) Create(ctx context.Context, actor authz.Actor, accountID string) (*PublicView, error) {
	var view *PublicView

	err := service.guard.Run(ctx, authz.ServiceKeysCreate, actor, "target="+accountID, func(ctx context.Context) error {
		validator := &validate.Validator{}
		if err := validator.Required("account_id", accountID).Err(); err != nil {
			return err
		}

		pair, err := generatePair(accountID)
		if err != nil {
			return err
		}

		if err := service.store.Put(ctx, pair); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "keypair_created", slog.String("account_id", accountID))

		public := pair.Public()
		view = &public
		return nil
	})

	return view, err
}

// Remove deletes the account's pair. Idempotent: removing an absent pair
// succeeds, so cleanup flows never fail halfway.
func (service *Service) Remove(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceKeysRemove, actor, "target="+accountID, func(ctx context.Context) error {
		if err := service.store.Remove(ctx, accountID); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "keypair_removed", slog.String("account_id", accountID))
		return nil
	})
}

// Return yields the public half of the account's pair, or nil without error
// when no pair is on file. Absence is a normal answer, not a failure.
func (service *Service) Return(ctx context.Context, actor authz.Actor, accountID string) (*PublicView, error) {
	var view *PublicView

	err := service.guard.Run(ctx, authz.ServiceKeysReturn, actor, "target="+accountID, func(ctx context.Context) error {
		pair, err := service.store.Get(ctx, accountID)
		if err != nil {
			if apperr.IsCode(err, "NOT_FOUND") {
				return nil
			}
			return err
		}

		public := pair.Public()
		view = &public
		return nil
	})

	return view, err
}

/*
SignFile writes a detached RSA-PSS signature for the file at path.

The signature lands next to the file at path + ".sig".

Returns:
  - string: The signature file path.
  - error: apperr.NotFound when the account has no key pair.
*/
func (service *Service) SignFile(ctx context.Context, actor authz.Actor, accountID, path string) (string, error) {
	var signaturePath string

	err := service.guard.Run(ctx, authz.ServiceFileSign, actor, fileContext(accountID, path), func(ctx context.Context) error {
		service.fileMutex.Lock()
		defer service.fileMutex.Unlock()

		pair, err := service.store.Get(ctx, accountID)
		if err != nil {
			return err
		}

		privateKey, err := decodePrivate(pair.PrivatePEM)
		if err != nil {
			return err
		}

		payload, err := readFile(path)
		if err != nil {
			return err
		}

		signature, err := signPayload(privateKey, payload)
		if err != nil {
			return err
		}

		signaturePath = path + signatureSuffix
		if err := writeFile(signaturePath, signature); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "file_signed",
			slog.String("account_id", accountID),
			slog.String("path", path),
		)
		return nil
	})

	return signaturePath, err
}

/*
VerifyFile checks the file at path against its detached signature.

A signature that does not match is a normal false; only missing inputs or a
missing key pair are errors.
*/
func (service *Service) VerifyFile(ctx context.Context, actor authz.Actor, accountID, path, signaturePath string) (bool, error) {
	var valid bool

	err := service.guard.Run(ctx, authz.ServiceFileVerify, actor, fileContext(accountID, path), func(ctx context.Context) error {
		service.fileMutex.Lock()
		defer service.fileMutex.Unlock()

		pair, err := service.store.Get(ctx, accountID)
		if err != nil {
			return err
		}

		publicKey, err := decodePublic(pair.PublicPEM)
		if err != nil {
			return err
		}

		payload, err := readFile(path)
		if err != nil {
			return err
		}

		if signaturePath == "" {
			signaturePath = path + signatureSuffix
		}
		signature, err := readFile(signaturePath)
		if err != nil {
			return err
		}

		valid = verifyPayload(publicKey, payload, signature)
		return nil
	})

	return valid, err
}

/*
EncryptFile seals the file at path under the account's public key.

The ciphertext envelope lands at path + ".enc"; the clear file is left in
place for the caller to dispose of. Only the account's private key can open
the envelope again.
*/
func (service *Service) EncryptFile(ctx context.Context, actor authz.Actor, accountID, path string) (string, error) {
	var outputPath string

	err := service.guard.Run(ctx, authz.ServiceFileEncrypt, actor, fileContext(accountID, path), func(ctx context.Context) error {
		service.fileMutex.Lock()
		defer service.fileMutex.Unlock()

		pair, err := service.store.Get(ctx, accountID)
		if err != nil {
			return err
		}

		publicKey, err := decodePublic(pair.PublicPEM)
		if err != nil {
			return err
		}

		payload, err := readFile(path)
		if err != nil {
			return err
		}

		envelope, err := sealPayload(publicKey, payload)
		if err != nil {
			return err
		}

		outputPath = path + cipherSuffix
		if err := writeFile(outputPath, envelope); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "file_encrypted",
			slog.String("account_id", accountID),
			slog.String("path", path),
		)
		return nil
	})

	return outputPath, err
}

/*
DecryptFile opens a ciphertext envelope with the account's private key.

The clear payload lands at the path with the ".enc" suffix stripped, or at
path + ".dec" when the input does not carry the suffix.
*/
func (service *Service) DecryptFile(ctx context.Context, actor authz.Actor, accountID, path string) (string, error) {
	var outputPath string

	err := service.guard.Run(ctx, authz.ServiceFileDecrypt, actor, fileContext(accountID, path), func(ctx context.Context) error {
		service.fileMutex.Lock()
		defer service.fileMutex.Unlock()

		pair, err := service.store.Get(ctx, accountID)
		if err != nil {
			return err
		}

		privateKey, err := decodePrivate(pair.PrivatePEM)
		if err != nil {
			return err
		}

		envelope, err := readFile(path)
		if err != nil {
			return err
		}

		payload, err := openPayload(privateKey, envelope)
		if err != nil {
			return err
		}

		outputPath = clearPathFor(path)
		if err := writeFile(outputPath, payload); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "file_decrypted",
			slog.String("account_id", accountID),
			slog.String("path", path),
		)
		return nil
	})

	return outputPath, err
}

// clearPathFor derives the decryption output path.
func clearPathFor(path string) string {
	if strings.HasSuffix(path, cipherSuffix) {
		return strings.TrimSuffix(path, cipherSuffix)
	}
	return path + clearSuffix
}

// fileContext formats the audit context for file operations.
func fileContext(accountID, path string) string {
	return fmt.Sprintf("target=%s path=%s", accountID, path)
}

func readFile(path string) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("File")
		}
		return nil, apperr.Internal(fmt.Errorf("file_read_failed: %w", err))
	}
	return payload, nil
}

func writeFile(path string, payload []byte) error {
	if err := os.WriteFile(path, payload, outputFileMode); err != nil {
		return apperr.Internal(fmt.Errorf("file_write_failed: %w", err))
	}
	return nil
}
