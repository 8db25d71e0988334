// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package account

import (
	"context"

	"github.com/castellan/castellan/pkg/pagination"
)

// Store defines the persistence contract for account records.
//
// A missing account is [apperr.NotFound]; a duplicate ID or login on Create
// is [apperr.Conflict]; infrastructure failures are store-unavailable errors.
type Store interface {
	// Create persists a new account. Conflict on duplicate ID or login.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by its identifier.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByLogin retrieves an account by its normalized login name.
	GetByLogin(ctx context.Context, login string) (*Account, error)

	// UpdateContact persists the self-serviceable contact fields.
	UpdateContact(ctx context.Context, id, email, phone string) error

	// SetSuspended sets or clears the suspension flag.
	SetSuspended(ctx context.Context, id string, suspended bool) error

	// SetRole changes the account's role.
	SetRole(ctx context.Context, id string, role string) error

	// IncrementFailedLogins bumps the failed-login counter and returns the
	// new value.
	IncrementFailedLogins(ctx context.Context, id string) (int, error)

	// ResetFailedLogins clears the failed-login counter.
	ResetFailedLogins(ctx context.Context, id string) error

	// IncrementResetVerifyFailures bumps the security-question failure
	// counter and returns the new value.
	IncrementResetVerifyFailures(ctx context.Context, id string) (int, error)

	// SetOnlineResetLock sets or clears the online-reset lock. Clearing also
	// zeroes the verification-failure counter.
	SetOnlineResetLock(ctx context.Context, id string, locked bool) error

	// Delete permanently removes the account row.
	Delete(ctx context.Context, id string) error

	// List returns a page of account summaries and the total count.
	List(ctx context.Context, params pagination.Params) ([]Summary, int, error)

	// Search returns a page of summaries matching the term against login,
	// display name, and email, plus the total count.
	Search(ctx context.Context, term string, params pagination.Params) ([]Summary, int, error)
}

// # Cascade Dependencies
//
// Deleting an account must also remove its credentials, security questions,
// key pair, and any outstanding reset token. The owning packages implement
// these one-method interfaces; declaring them here keeps the dependency
// arrows pointing at plain strings instead of at sibling domain packages.

// CredentialPurger removes all credential rows for an account.
type CredentialPurger interface {
	DeleteAll(ctx context.Context, accountID string) error
}

// QuestionPurger removes the stored security-question pairs for an account.
type QuestionPurger interface {
	DeleteQuestions(ctx context.Context, accountID string) error
}

// KeyPurger removes the key pair for an account, if one exists.
type KeyPurger interface {
	Remove(ctx context.Context, accountID string) error
}

// TokenPurger invalidates any outstanding reset token for an account.
type TokenPurger interface {
	DeleteForAccount(ctx context.Context, accountID string) error
}

// QuestionWriter replaces the security-question pairs for an account.
// Answers arrive already hashed under the reset-purpose salt.
type QuestionWriter interface {
	ReplaceQuestions(ctx context.Context, accountID, question1, answerHash1, question2, answerHash2 string) error
}
