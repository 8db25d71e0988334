// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

// Package credential implements the salting and hashing engine together with
// the persistent credential store for the Castellan identity core.
//
// # Architecture
//
// Every account carries at most one (salt, hashed secret) pair per [Purpose].
// The engine derives hashes; the store guards the per-purpose uniqueness and
// the atomicity of rotation. Domain services never see raw storage errors.
package credential

import "fmt"

// Purpose identifies the use-case a salt/secret pair is bound to.
//
// Salts are never shared across purposes: the login password, the reset
// security answers, and the session auth token each hash against their own
// salt. Modeled as a tagged enum so a typo cannot silently address the wrong
// credential slot.
type Purpose int

const (
	// PurposeLogin is the primary login password.
	PurposeLogin Purpose = iota + 1
	// PurposeReset covers the security-question answers of the reset flow.
	PurposeReset
	// PurposeAuthToken is the per-session authentication token.
	PurposeAuthToken
)

// String returns the storage form of the purpose.
func (purpose Purpose) String() string {
	switch purpose {
	case PurposeLogin:
		return "login"
	case PurposeReset:
		return "reset"
	case PurposeAuthToken:
		return "auth_token"
	default:
		return fmt.Sprintf("purpose(%d)", int(purpose))
	}
}

// IsValid reports whether the purpose is one of the defined slots.
func (purpose Purpose) IsValid() bool {
	switch purpose {
	case PurposeLogin, PurposeReset, PurposeAuthToken:
		return true
	}
	return false
}

// ParsePurpose converts a storage string back into a [Purpose].
func ParsePurpose(value string) (Purpose, error) {
	switch value {
	case "login":
		return PurposeLogin, nil
	case "reset":
		return PurposeReset, nil
	case "auth_token":
		return PurposeAuthToken, nil
	default:
		return 0, fmt.Errorf("credential: unknown purpose %q", value)
	}
}
