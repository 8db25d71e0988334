// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package account implements the account lifecycle manager.

Every administrative mutation runs through the authorization guard: gate
check, audit entry, then the operation body. Self-service mutations instead
require that the target account equal the requestor's own, without consulting
the gate.

Core Responsibilities:

  - Lifecycle: create, suspend, delete, role change, administrative password
    reset, lockout clearing.
  - Cascades: deletion removes credentials, security questions, key pairs,
    and any outstanding reset token.
  - Self-service: contact updates, password change, security questions.
*/
package account

import (
	"time"

	"github.com/castellan/castellan/internal/platform/sec"
)

// Account is the central identity record.
type Account struct {
	// ID is the immutable, globally unique account identifier (UUIDv7).
	ID string `json:"id"`
	// Login is the normalized login name, unique across accounts.
	Login string `json:"login"`
	// DisplayName is the name shown in consoles and audit views.
	DisplayName string `json:"display_name"`
	// GivenName and Surname are the legal name components.
	GivenName string `json:"given_name"`
	Surname   string `json:"surname"`
	// Role determines the account's authorization level.
	Role sec.Role `json:"role"`
	// Email and Phone are the contact fields, self-serviceable.
	Email string `json:"email"`
	Phone string `json:"phone"`
	// FailedLogins counts consecutive failed authentication attempts.
	FailedLogins int `json:"failed_logins"`
	// Suspended blocks authentication without destroying the account.
	Suspended bool `json:"suspended"`
	// OnlineResetLocked blocks the self-service reset path after repeated
	// failed security-question verification. Distinct from login lockout;
	// cleared only by an administrator.
	OnlineResetLocked bool `json:"online_reset_locked"`
	// ResetVerifyFailures counts failed security-question verifications.
	ResetVerifyFailures int `json:"reset_verify_failures"`
	// ExpiresAt is the account expiry instant; nil means no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the account has passed its expiry instant.
func (account *Account) IsExpired(now time.Time) bool {
	return account.ExpiresAt != nil && !account.ExpiresAt.After(now)
}

// Summary is the reduced projection returned by list and search endpoints.
type Summary struct {
	ID          string   `json:"id"`
	Login       string   `json:"login"`
	DisplayName string   `json:"display_name"`
	Role        sec.Role `json:"role"`
	Suspended   bool     `json:"suspended"`
}

// Summarize converts a full account into its list projection.
func (account *Account) Summarize() Summary {
	return Summary{
		ID:          account.ID,
		Login:       account.Login,
		DisplayName: account.DisplayName,
		Role:        account.Role,
		Suspended:   account.Suspended,
	}
}
