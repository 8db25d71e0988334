// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// PostgresStore implements the [Store] interface using pgx.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the credential [Store].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetSalt retrieves the salt for an (account, purpose) pair.
//
// # Returns
//
// Returns the hex-encoded salt, or [apperr.NotFound] if no row exists.
func (store *PostgresStore) GetSalt(ctx context.Context, accountID string, purpose Purpose) (string, error) {
	const query = `
		SELECT salt
		FROM identity.credential
		WHERE accountid = $1 AND purpose = $2`

	var salt string
	err := store.pool.QueryRow(ctx, query, accountID, purpose.String()).Scan(&salt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("Salt")
		}
		return "", apperr.StoreUnavailable(fmt.Errorf("credential_store_get_salt_failed: %w", err))
	}

	return salt, nil
}

// PutSalt inserts or replaces the salt for an (account, purpose) pair.
func (store *PostgresStore) PutSalt(ctx context.Context, accountID string, purpose Purpose, salt string) error {
	const query = `
		INSERT INTO identity.credential (accountid, purpose, salt, updatedat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (accountid, purpose)
		DO UPDATE SET salt = EXCLUDED.salt, updatedat = EXCLUDED.updatedat`

	_, err := store.pool.Exec(ctx, query, accountID, purpose.String(), salt, time.Now())
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_put_salt_failed: %w", err))
	}

	return nil
}

// GetSecret retrieves the hashed secret for an (account, purpose) pair.
//
// # Returns
//
// Returns the hex-encoded hash, or [apperr.NotFound] if no secret has been set.
func (store *PostgresStore) GetSecret(ctx context.Context, accountID string, purpose Purpose) (string, error) {
	const query = `
		SELECT secrethash
		FROM identity.credential
		WHERE accountid = $1 AND purpose = $2 AND secrethash IS NOT NULL`

	var hash string
	err := store.pool.QueryRow(ctx, query, accountID, purpose.String()).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("Credential secret")
		}
		return "", apperr.StoreUnavailable(fmt.Errorf("credential_store_get_secret_failed: %w", err))
	}

	return hash, nil
}

// PutSecret inserts or replaces the hashed secret for an (account, purpose) pair.
func (store *PostgresStore) PutSecret(ctx context.Context, accountID string, purpose Purpose, hash string) error {
	const query = `
		INSERT INTO identity.credential (accountid, purpose, secrethash, updatedat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (accountid, purpose)
		DO UPDATE SET secrethash = EXCLUDED.secrethash, updatedat = EXCLUDED.updatedat`

	_, err := store.pool.Exec(ctx, query, accountID, purpose.String(), hash, time.Now())
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_put_secret_failed: %w", err))
	}

	return nil
}

// RotateCredential atomically replaces both salt and hashed secret.
//
// Both writes run inside one transaction: after commit the old pair is gone,
// after rollback the old pair is intact. An account must never be left with a
// new salt and the old hash, which would silently reject the current password
// while appearing healthy.
func (store *PostgresStore) RotateCredential(ctx context.Context, accountID string, purpose Purpose, salt, hash string) error {
	transaction, err := store.pool.Begin(ctx)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_rotate_begin_failed: %w", err))
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	const query = `
		INSERT INTO identity.credential (accountid, purpose, salt, secrethash, updatedat)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (accountid, purpose)
		DO UPDATE SET salt = EXCLUDED.salt, secrethash = EXCLUDED.secrethash, updatedat = EXCLUDED.updatedat`

	if _, err := transaction.Exec(ctx, query, accountID, purpose.String(), salt, hash, time.Now()); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_rotate_write_failed: %w", err))
	}

	if err := transaction.Commit(ctx); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_rotate_commit_failed: %w", err))
	}

	return nil
}

// DeleteAll removes every credential row for an account. Idempotent.
func (store *PostgresStore) DeleteAll(ctx context.Context, accountID string) error {
	const query = "DELETE FROM identity.credential WHERE accountid = $1"

	_, err := store.pool.Exec(ctx, query, accountID)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("credential_store_delete_all_failed: %w", err))
	}

	return nil
}
