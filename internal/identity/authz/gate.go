// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package authz provides role-based access control for privileged operations.

It has two halves:

  - Gate: a pure authorization decision — given a service identifier and a
    requestor role, allowed or not. Never errors; missing permission is a
    normal false.
  - Guard: the authorize → act → audit envelope every privileged operation
    runs through, so the pattern lives in exactly one place instead of being
    duplicated per operation.
*/
package authz

import "github.com/castellan/castellan/internal/platform/sec"

// Service identifiers for every gated operation. These are also the audit
// entry action names, so they must stay stable across releases.
const (
	ServiceAccountCreate        = "account.create"
	ServiceAccountSuspend       = "account.suspend"
	ServiceAccountUnsuspend     = "account.unsuspend"
	ServiceAccountDelete        = "account.delete"
	ServiceAccountChangeRole    = "account.change_role"
	ServiceAccountResetPassword = "account.admin_reset_password"
	ServiceAccountClearLockout  = "account.clear_lockout"
	ServiceAccountClearOLRLock  = "account.clear_reset_lock"
	ServiceAccountGet           = "account.get"
	ServiceAccountList          = "account.list"
	ServiceAccountSearch        = "account.search"

	ServiceSelfUpdateContact     = "self.update_contact"
	ServiceSelfChangePassword    = "self.change_password"
	ServiceSelfSecurityQuestions = "self.set_security_questions"

	ServiceAuthnLogin  = "authn.login"
	ServiceAuthnLogoff = "authn.logoff"

	ServiceResetRequest         = "reset.request"
	ServiceResetVerifyQuestions = "reset.verify_questions"
	ServiceResetVerifyToken     = "reset.verify_token"
	ServiceResetSubmit          = "reset.submit"

	ServiceKeysCreate = "keys.create"
	ServiceKeysRemove = "keys.remove"
	ServiceKeysReturn = "keys.return"

	ServiceFileSign    = "file.sign"
	ServiceFileVerify  = "file.verify"
	ServiceFileEncrypt = "file.encrypt"
	ServiceFileDecrypt = "file.decrypt"
)

// Gate answers whether a role may perform a gated operation.
//
// Implementations must be pure: a well-formed request never errors, and
// absence of permission is an ordinary false.
type Gate interface {
	IsAuthorized(serviceID string, role sec.Role) bool
}

// RoleMatrixGate is the default [Gate]: a static table mapping each service
// identifier to the minimum role allowed to invoke it.
type RoleMatrixGate struct {
	minimumRole map[string]sec.Role
}

// NewRoleMatrixGate builds the default role matrix.
func NewRoleMatrixGate() *RoleMatrixGate {
	return &RoleMatrixGate{
		minimumRole: map[string]sec.Role{
			// Account administration is manager territory; destructive or
			// security-sensitive interventions need a full admin.
			ServiceAccountCreate:        sec.RoleManager,
			ServiceAccountSuspend:       sec.RoleManager,
			ServiceAccountUnsuspend:     sec.RoleManager,
			ServiceAccountDelete:        sec.RoleAdmin,
			ServiceAccountChangeRole:    sec.RoleAdmin,
			ServiceAccountResetPassword: sec.RoleAdmin,
			ServiceAccountClearLockout:  sec.RoleManager,
			ServiceAccountClearOLRLock:  sec.RoleAdmin,
			ServiceAccountGet:           sec.RoleViewer,
			ServiceAccountList:          sec.RoleViewer,
			ServiceAccountSearch:        sec.RoleViewer,

			// Key material management.
			ServiceKeysCreate: sec.RoleOperator,
			ServiceKeysRemove: sec.RoleOperator,
			ServiceKeysReturn: sec.RoleViewer,

			// File security operations.
			ServiceFileSign:    sec.RoleOperator,
			ServiceFileVerify:  sec.RoleViewer,
			ServiceFileEncrypt: sec.RoleOperator,
			ServiceFileDecrypt: sec.RoleOperator,
		},
	}
}

// IsAuthorized implements [Gate]. Unknown service identifiers are denied.
func (gate *RoleMatrixGate) IsAuthorized(serviceID string, role sec.Role) bool {
	minimum, known := gate.minimumRole[serviceID]
	if !known {
		return false
	}

	return role.IsValid() && role.AtLeast(minimum)
}
