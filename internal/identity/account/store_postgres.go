// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/pkg/pagination"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaches.
const uniqueViolation = "23505"

// PostgresStore implements the [Store] interface using pgx.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the account [Store].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const accountColumns = `
	id, login, displayname, givenname, surname, role, email, phone,
	failedlogins, suspended, onlineresetlocked, resetverifyfailures,
	expiresat, createdat, updatedat`

// Create persists a new account record into the identity.account table.
//
// # Returns
//
// Returns [apperr.Conflict] when the ID or login already exists, so the
// service layer can retry identifier generation.
func (store *PostgresStore) Create(ctx context.Context, account *Account) error {
	const query = `
		INSERT INTO identity.account (
			id, login, displayname, givenname, surname, role, email, phone,
			failedlogins, suspended, onlineresetlocked, resetverifyfailures,
			expiresat, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err := store.pool.Exec(ctx, query,
		account.ID,
		account.Login,
		account.DisplayName,
		account.GivenName,
		account.Surname,
		string(account.Role),
		account.Email,
		account.Phone,
		account.FailedLogins,
		account.Suspended,
		account.OnlineResetLocked,
		account.ResetVerifyFailures,
		account.ExpiresAt,
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			return apperr.Conflict("Account ID or login already exists")
		}
		return apperr.StoreUnavailable(fmt.Errorf("account_store_create_failed: %w", err))
	}

	return nil
}

// GetByID retrieves an account by its identifier.
func (store *PostgresStore) GetByID(ctx context.Context, id string) (*Account, error) {
	query := "SELECT" + accountColumns + " FROM identity.account WHERE id = $1"
	return store.scanOne(ctx, query, id)
}

// GetByLogin retrieves an account by its normalized login name.
func (store *PostgresStore) GetByLogin(ctx context.Context, login string) (*Account, error) {
	query := "SELECT" + accountColumns + " FROM identity.account WHERE login = $1"
	return store.scanOne(ctx, query, login)
}

// scanOne runs a single-row account query and maps pgx.ErrNoRows to NotFound.
func (store *PostgresStore) scanOne(ctx context.Context, query string, arg any) (*Account, error) {
	account := &Account{}
	var role string

	err := store.pool.QueryRow(ctx, query, arg).Scan(
		&account.ID,
		&account.Login,
		&account.DisplayName,
		&account.GivenName,
		&account.Surname,
		&role,
		&account.Email,
		&account.Phone,
		&account.FailedLogins,
		&account.Suspended,
		&account.OnlineResetLocked,
		&account.ResetVerifyFailures,
		&account.ExpiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Account")
		}
		return nil, apperr.StoreUnavailable(fmt.Errorf("account_store_get_failed: %w", err))
	}

	account.Role = roleFromStorage(role)
	return account, nil
}

// UpdateContact persists the self-serviceable contact fields.
func (store *PostgresStore) UpdateContact(ctx context.Context, id, email, phone string) error {
	const query = `
		UPDATE identity.account
		SET email = $2, phone = $3, updatedat = $4
		WHERE id = $1`

	return store.execOnAccount(ctx, query, "account_store_update_contact_failed", id, email, phone, time.Now())
}

// SetSuspended sets or clears the suspension flag.
func (store *PostgresStore) SetSuspended(ctx context.Context, id string, suspended bool) error {
	const query = `
		UPDATE identity.account
		SET suspended = $2, updatedat = $3
		WHERE id = $1`

	return store.execOnAccount(ctx, query, "account_store_set_suspended_failed", id, suspended, time.Now())
}

// SetRole changes the account's role.
func (store *PostgresStore) SetRole(ctx context.Context, id string, role string) error {
	const query = `
		UPDATE identity.account
		SET role = $2, updatedat = $3
		WHERE id = $1`

	return store.execOnAccount(ctx, query, "account_store_set_role_failed", id, role, time.Now())
}

// IncrementFailedLogins bumps the failed-login counter and returns the new value.
func (store *PostgresStore) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	const query = `
		UPDATE identity.account
		SET failedlogins = failedlogins + 1, updatedat = $2
		WHERE id = $1
		RETURNING failedlogins`

	var count int
	err := store.pool.QueryRow(ctx, query, id, time.Now()).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("Account")
		}
		return 0, apperr.StoreUnavailable(fmt.Errorf("account_store_increment_failed_logins_failed: %w", err))
	}

	return count, nil
}

// ResetFailedLogins clears the failed-login counter.
func (store *PostgresStore) ResetFailedLogins(ctx context.Context, id string) error {
	const query = `
		UPDATE identity.account
		SET failedlogins = 0, updatedat = $2
		WHERE id = $1`

	return store.execOnAccount(ctx, query, "account_store_reset_failed_logins_failed", id, time.Now())
}

// IncrementResetVerifyFailures bumps the security-question failure counter
// and returns the new value.
func (store *PostgresStore) IncrementResetVerifyFailures(ctx context.Context, id string) (int, error) {
	const query = `
		UPDATE identity.account
		SET resetverifyfailures = resetverifyfailures + 1, updatedat = $2
		WHERE id = $1
		RETURNING resetverifyfailures`

	var count int
	err := store.pool.QueryRow(ctx, query, id, time.Now()).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("Account")
		}
		return 0, apperr.StoreUnavailable(fmt.Errorf("account_store_increment_reset_failures_failed: %w", err))
	}

	return count, nil
}

// SetOnlineResetLock sets or clears the online-reset lock. Clearing also
// zeroes the verification-failure counter.
func (store *PostgresStore) SetOnlineResetLock(ctx context.Context, id string, locked bool) error {
	const query = `
		UPDATE identity.account
		SET onlineresetlocked = $2,
		    resetverifyfailures = CASE WHEN $2 THEN resetverifyfailures ELSE 0 END,
		    updatedat = $3
		WHERE id = $1`

	return store.execOnAccount(ctx, query, "account_store_set_reset_lock_failed", id, locked, time.Now())
}

// Delete permanently removes the account row.
//
// Credential, question, key, and token cascades are the service layer's
// responsibility; this removes only the account record itself.
func (store *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = "DELETE FROM identity.account WHERE id = $1"
	return store.execOnAccount(ctx, query, "account_store_delete_failed", id)
}

// List returns a page of account summaries ordered by login.
func (store *PostgresStore) List(ctx context.Context, params pagination.Params) ([]Summary, int, error) {
	const countQuery = "SELECT COUNT(*) FROM identity.account"

	var total int
	if err := store.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, apperr.StoreUnavailable(fmt.Errorf("account_store_list_count_failed: %w", err))
	}

	const query = `
		SELECT id, login, displayname, role, suspended
		FROM identity.account
		ORDER BY login
		LIMIT $1 OFFSET $2`

	rows, err := store.pool.Query(ctx, query, params.Limit, params.Offset())
	if err != nil {
		return nil, 0, apperr.StoreUnavailable(fmt.Errorf("account_store_list_failed: %w", err))
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}

	return summaries, total, nil
}

// Search returns a page of summaries matching the term against login,
// display name, and email.
func (store *PostgresStore) Search(ctx context.Context, term string, params pagination.Params) ([]Summary, int, error) {
	pattern := "%" + term + "%"

	const countQuery = `
		SELECT COUNT(*)
		FROM identity.account
		WHERE login ILIKE $1 OR displayname ILIKE $1 OR email ILIKE $1`

	var total int
	if err := store.pool.QueryRow(ctx, countQuery, pattern).Scan(&total); err != nil {
		return nil, 0, apperr.StoreUnavailable(fmt.Errorf("account_store_search_count_failed: %w", err))
	}

	const query = `
		SELECT id, login, displayname, role, suspended
		FROM identity.account
		WHERE login ILIKE $1 OR displayname ILIKE $1 OR email ILIKE $1
		ORDER BY login
		LIMIT $2 OFFSET $3`

	rows, err := store.pool.Query(ctx, query, pattern, params.Limit, params.Offset())
	if err != nil {
		return nil, 0, apperr.StoreUnavailable(fmt.Errorf("account_store_search_failed: %w", err))
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}

	return summaries, total, nil
}

// execOnAccount runs an UPDATE/DELETE and maps a zero-row result to NotFound.
func (store *PostgresStore) execOnAccount(ctx context.Context, query, wrapTag string, args ...any) error {
	tag, err := store.pool.Exec(ctx, query, args...)
	if err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("%s: %w", wrapTag, err))
	}

	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}

	return nil
}

// scanSummaries drains a summary result set.
func scanSummaries(rows pgx.Rows) ([]Summary, error) {
	summaries := []Summary{}

	for rows.Next() {
		var summary Summary
		var role string

		if err := rows.Scan(&summary.ID, &summary.Login, &summary.DisplayName, &role, &summary.Suspended); err != nil {
			return nil, apperr.StoreUnavailable(fmt.Errorf("account_store_scan_failed: %w", err))
		}

		summary.Role = roleFromStorage(role)
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("account_store_rows_failed: %w", err))
	}

	return summaries, nil
}

// roleFromStorage converts the stored role string back into the enum type.
func roleFromStorage(role string) sec.Role {
	return sec.Role(role)
}
