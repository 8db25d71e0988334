// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package credential

import "context"

// Store defines the persistence contract for per-account credential material.
//
// # Contract
//
// Exactly one (salt, secret) pair may exist per (account, purpose). A missing
// row is reported as [apperr.NotFound]; infrastructure failures are wrapped
// as store-unavailable errors so callers can tell the two apart.
type Store interface {
	// GetSalt returns the salt for an (account, purpose) pair.
	GetSalt(ctx context.Context, accountID string, purpose Purpose) (string, error)

	// PutSalt inserts or replaces the salt for an (account, purpose) pair.
	PutSalt(ctx context.Context, accountID string, purpose Purpose, salt string) error

	// GetSecret returns the hashed secret for an (account, purpose) pair.
	GetSecret(ctx context.Context, accountID string, purpose Purpose) (string, error)

	// PutSecret inserts or replaces the hashed secret for an (account, purpose) pair.
	PutSecret(ctx context.Context, accountID string, purpose Purpose, hash string) error

	// RotateCredential replaces both the salt and the hashed secret for an
	// (account, purpose) pair in a single transaction. After a successful
	// rotation the previous salt and hash are unreadable; after a failed
	// rotation the previous pair is intact.
	RotateCredential(ctx context.Context, accountID string, purpose Purpose, salt, hash string) error

	// DeleteAll removes every credential row belonging to an account.
	// Used by the account deletion cascade. Idempotent.
	DeleteAll(ctx context.Context, accountID string) error
}
