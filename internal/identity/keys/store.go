// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys

import "context"

// Store persists one key pair per account.
type Store interface {
	// Put inserts a new pair. A pair already on file is apperr.Conflict;
	// rotation is an explicit Remove followed by Put.
	Put(ctx context.Context, pair *KeyPair) error

	// Get returns the pair for an account, or apperr.NotFound.
	Get(ctx context.Context, accountID string) (*KeyPair, error)

	// Remove deletes the pair for an account. Idempotent.
	Remove(ctx context.Context, accountID string) error
}
