// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/apperr"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresStore implements [Store] using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of [Store].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Put inserts a new key pair.
//
// # Returns
//
// Returns [apperr.Conflict] when the account already has a pair on file.
func (store *PostgresStore) Put(ctx context.Context, pair *KeyPair) error {
	const query = `
		INSERT INTO identity.keypair (accountid, publicpem, privatepem, createdat)
		VALUES ($1, $2, $3, $4)`

	_, err := store.pool.Exec(ctx, query, pair.AccountID, pair.PublicPEM, pair.PrivatePEM, pair.CreatedAt)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			return apperr.Conflict("A key pair already exists for this account")
		}
		return apperr.StoreUnavailable(fmt.Errorf("keypair_store_put_failed: %w", err))
	}

	return nil
}

// Get retrieves the key pair for an account.
func (store *PostgresStore) Get(ctx context.Context, accountID string) (*KeyPair, error) {
	const query = `
		SELECT accountid, publicpem, privatepem, createdat
		FROM identity.keypair
		WHERE accountid = $1`

	pair := &KeyPair{}
	err := store.pool.QueryRow(ctx, query, accountID).
		Scan(&pair.AccountID, &pair.PublicPEM, &pair.PrivatePEM, &pair.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Key pair")
		}
		return nil, apperr.StoreUnavailable(fmt.Errorf("keypair_store_get_failed: %w", err))
	}

	return pair, nil
}

// Remove deletes the key pair for an account. Idempotent.
func (store *PostgresStore) Remove(ctx context.Context, accountID string) error {
	const query = "DELETE FROM identity.keypair WHERE accountid = $1"

	_, err := store.pool.Exec(ctx, query, accountID)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("keypair_store_remove_failed: %w", err))
	}

	return nil
}
