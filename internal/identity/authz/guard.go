// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package authz

import (
	"context"

	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/ctxutil"
	"github.com/castellan/castellan/internal/platform/sec"
)

// Actor identifies the requestor of a privileged operation.
type Actor struct {
	// ID is the requestor's account identifier. Empty for anonymous flows
	// (login, reset request) where the action itself is the identity check.
	ID string
	// Role is the requestor's role.
	Role sec.Role
	// SessionID is the JWT session identifier (jti), if authenticated.
	SessionID string
}

// Recorder is the audit dependency of the guard. Satisfied by [*audit.Recorder].
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Guard wraps privileged operations in the authorize → act → audit envelope.
//
// # Contract
//
// Every invocation emits exactly one audit entry:
//   - Denied: one entry with authorized=false, the inner function is never
//     invoked, and the caller receives [apperr.Forbidden].
//   - Approved: the inner function runs, and one entry with authorized=true
//     is emitted in a deferred block regardless of the function's outcome.
type Guard struct {
	gate     Gate
	recorder Recorder
}

// NewGuard constructs a [Guard].
func NewGuard(gate Gate, recorder Recorder) *Guard {
	return &Guard{gate: gate, recorder: recorder}
}

/*
Run executes fn under the authorize → act → audit envelope.

Parameters:
  - ctx: Request context; client host details are read from it for the audit entry.
  - action: Service identifier of the operation (also the audit action name).
  - actor: The requestor identity and role.
  - appContext: Free-form operation context recorded with the audit entry.
  - fn: The operation body; only invoked when the gate approves.

Returns:
  - error: apperr.Forbidden on gate denial, otherwise whatever fn returns.
*/
func (guard *Guard) Run(ctx context.Context, action string, actor Actor, appContext string, fn func(ctx context.Context) error) error {
	host := ctxutil.GetHost(ctx)

	entry := audit.Entry{
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		SessionID:  actor.SessionID,
		HostAddr:   host.Addr,
		HostName:   host.Name,
		AppContext: appContext,
	}

	// ── 1. Authorization ──────────────────────────────────────────────────
	if !guard.gate.IsAuthorized(action, actor.Role) {
		entry.Authorized = false
		guard.recorder.Record(ctx, entry)
		return apperr.Forbidden("Operation not permitted for this role")
	}

	// ── 2. Audit-in-finally ───────────────────────────────────────────────
	// The approved entry is emitted even when fn fails: the audit trail
	// records that the operation was attempted with authorization, not that
	// it succeeded. Outcome details belong in appContext or logs.
	defer func() {
		entry.Authorized = true
		guard.recorder.Record(ctx, entry)
	}()

	// ── 3. Act ────────────────────────────────────────────────────────────
	return fn(ctx)
}

/*
RunSelf executes fn for a self-service operation.

Self-service operations bypass the gate: the authorization rule is that the
target account must be the requestor's own. A mismatch is rejected as
Forbidden and audited with authorized=false, without consulting the gate.
*/
func (guard *Guard) RunSelf(ctx context.Context, action string, actor Actor, targetAccountID string, fn func(ctx context.Context) error) error {
	host := ctxutil.GetHost(ctx)

	entry := audit.Entry{
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		SessionID:  actor.SessionID,
		HostAddr:   host.Addr,
		HostName:   host.Name,
		AppContext: "target=" + targetAccountID,
	}

	if actor.ID == "" || actor.ID != targetAccountID {
		entry.Authorized = false
		guard.recorder.Record(ctx, entry)
		return apperr.Forbidden("Self-service operations are limited to your own account")
	}

	defer func() {
		entry.Authorized = true
		guard.recorder.Record(ctx, entry)
	}()

	return fn(ctx)
}
