// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package authn implements the authentication state machine.

One authentication attempt moves an account from Unauthenticated to exactly
one terminal outcome: Authenticated, Locked, Suspended, Expired, or Failure.
No state spans calls; the failed-login counter in the account store is the
only persistent artifact.

Security properties:

  - Enumeration-safe: unknown login and wrong secret produce the same
    externally visible Failure.
  - Exactly-once audit: every attempt emits one audit entry regardless of
    branch.
  - Lockout: the configured number of consecutive failures locks the
    account until an administrator clears the counter.
*/
package authn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan/castellan/internal/identity/account"
	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/constants"
	"github.com/castellan/castellan/internal/platform/ctxutil"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/pkg/logname"
	"github.com/castellan/castellan/pkg/uuid"
)

// Outcome is the terminal state of one authentication attempt.
type Outcome string

const (
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeLocked        Outcome = "locked"
	OutcomeSuspended     Outcome = "suspended"
	OutcomeExpired       Outcome = "expired"
	OutcomeFailure       Outcome = "failure"
)

// Result carries the outcome of an authentication attempt.
//
// Locked, Suspended, and Expired are valid results carrying account state,
// not errors: the caller decides how to present them.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// Account is set on every outcome except Failure.
	Account *account.Account `json:"account,omitempty"`
	// SessionToken is the signed JWT, set only when Authenticated.
	SessionToken string `json:"session_token,omitempty"`
	// AuthToken is the per-session secondary token, set only when
	// Authenticated. It is persisted hashed; this is the only time the
	// clear value is visible.
	AuthToken string `json:"auth_token,omitempty"`
}

// TokenIssuer mints signed session tokens. Satisfied by [*sec.TokenService].
type TokenIssuer interface {
	GenerateSessionToken(accountID, login, role, sessionID string, timeToLive time.Duration) (string, error)
}

// AccountDirectory is the slice of the account store the state machine needs.
type AccountDirectory interface {
	GetByLogin(ctx context.Context, login string) (*account.Account, error)
	GetByID(ctx context.Context, id string) (*account.Account, error)
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

// Service implements the authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to the outcome branches
// or audit placement must be reviewed by the security team.
type Service struct {
	accounts    AccountDirectory
	credentials credential.Store
	engine      *credential.Engine
	tokens      TokenIssuer
	recorder    authz.Recorder
	policy      config.SecurityPolicy
	logger      *slog.Logger
}

// NewService constructs an authentication [Service].
func NewService(
	accounts AccountDirectory,
	credentials credential.Store,
	engine *credential.Engine,
	tokens TokenIssuer,
	recorder authz.Recorder,
	policy config.SecurityPolicy,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts:    accounts,
		credentials: credentials,
		engine:      engine,
		tokens:      tokens,
		recorder:    recorder,
		policy:      policy,
		logger:      logger,
	}
}

/*
Authenticate validates a submitted secret and returns the terminal outcome.

Parameters:
  - ctx: Request context; client host details feed the audit entry.
  - login: The submitted login name, normalized before lookup.
  - secret: The submitted password.

Returns:
  - *Result: The terminal outcome. Failure never distinguishes unknown login
    from wrong secret.
  - error: Only infrastructure failures (store/crypto); never a bad secret.
*/
func (service *Service) Authenticate(ctx context.Context, login, secret string) (*Result, error) {
	normalized := logname.Normalize(login)

	// Exactly one audit entry per attempt, whatever the branch.
	outcome := OutcomeFailure
	actorID := ""
	defer func() {
		service.audit(ctx, actorID, normalized, outcome)
	}()

	// ── 1. Resolve the account ────────────────────────────────────────────
	resolved, err := service.accounts.GetByLogin(ctx, normalized)
	if err != nil {
		if apperr.IsCode(err, "NOT_FOUND") {
			// Same externally visible result as a wrong secret.
			return &Result{Outcome: OutcomeFailure}, nil
		}
		return nil, err
	}
	actorID = resolved.ID

	// ── 2. Load the login salt ────────────────────────────────────────────
	salt, err := service.credentials.GetSalt(ctx, resolved.ID, credential.PurposeLogin)
	if err != nil {
		if apperr.IsCode(err, "NOT_FOUND") {
			return &Result{Outcome: OutcomeFailure}, nil
		}
		return nil, err
	}

	storedHash, err := service.credentials.GetSecret(ctx, resolved.ID, credential.PurposeLogin)
	if err != nil {
		if apperr.IsCode(err, "NOT_FOUND") {
			return &Result{Outcome: OutcomeFailure}, nil
		}
		return nil, err
	}

	// ── 3. Compare the derived hash ───────────────────────────────────────
	matches, err := service.engine.Matches(secret, salt, storedHash)
	if err != nil {
		return nil, err
	}

	// ── 4. Mismatch: count and fail ───────────────────────────────────────
	if !matches {
		count, err := service.accounts.IncrementFailedLogins(ctx, resolved.ID)
		if err != nil {
			return nil, err
		}

		service.logger.WarnContext(ctx, "authn_login_denied",
			slog.String("account_id", resolved.ID),
			slog.Int("failed_logins", count),
		)
		return &Result{Outcome: OutcomeFailure}, nil
	}

	// ── 5. Match: reload and branch on account state ──────────────────────
	// The reload picks up administrative changes (suspension, lockout
	// clearing) that happened after the initial resolve.
	current, err := service.accounts.GetByID(ctx, resolved.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case current.FailedLogins >= service.policy.MaxLoginAttempts:
		outcome = OutcomeLocked
		return &Result{Outcome: OutcomeLocked, Account: current}, nil

	case current.Suspended:
		outcome = OutcomeSuspended
		return &Result{Outcome: OutcomeSuspended, Account: current}, nil

	case current.IsExpired(time.Now()):
		outcome = OutcomeExpired
		return &Result{Outcome: OutcomeExpired, Account: current}, nil
	}

	// ── 6. Authenticated: issue tokens and reset the counter ──────────────
	sessionID := uuid.Must()

	sessionToken, err := service.tokens.GenerateSessionToken(
		current.ID, current.Login, string(current.Role), sessionID, constants.SessionTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("authn_session_token_failed: %w", err)
	}

	authToken, err := service.issueAuthToken(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	if err := service.accounts.ResetFailedLogins(ctx, current.ID); err != nil {
		return nil, err
	}

	service.logger.InfoContext(ctx, "authn_login_succeeded",
		slog.String("account_id", current.ID),
		slog.String("session_id", sessionID),
	)

	outcome = OutcomeAuthenticated
	return &Result{
		Outcome:      OutcomeAuthenticated,
		Account:      current,
		SessionToken: sessionToken,
		AuthToken:    authToken,
	}, nil
}

/*
Logoff invalidates the account's auth token.

Idempotent: the auth-token credential is rotated to fresh random material,
so any previously issued token stops verifying. An account with no active
session is not an error.
*/
func (service *Service) Logoff(ctx context.Context, actor authz.Actor) error {
	host := ctxutil.GetHost(ctx)
	defer service.recorder.Record(ctx, audit.Entry{
		Action:     authz.ServiceAuthnLogoff,
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		SessionID:  actor.SessionID,
		HostAddr:   host.Addr,
		HostName:   host.Name,
		Authorized: true,
	})

	if _, err := service.issueAuthToken(ctx, actor.ID); err != nil {
		return err
	}

	service.logger.InfoContext(ctx, "authn_logoff", slog.String("account_id", actor.ID))
	return nil
}

// issueAuthToken mints a fresh random auth token, persists its hash under a
// fresh auth-token-purpose salt, and returns the clear value.
func (service *Service) issueAuthToken(ctx context.Context, accountID string) (string, error) {
	authToken, err := sec.GenerateSecureToken(service.policy.ResetTokenLength)
	if err != nil {
		return "", err
	}

	salt, err := service.engine.GenerateSalt()
	if err != nil {
		return "", err
	}

	hash, err := service.engine.Derive(authToken, salt)
	if err != nil {
		return "", err
	}

	if err := service.credentials.RotateCredential(ctx, accountID, credential.PurposeAuthToken, salt, hash); err != nil {
		return "", err
	}

	return authToken, nil
}

// audit emits the single per-attempt audit entry for login.
func (service *Service) audit(ctx context.Context, actorID, login string, outcome Outcome) {
	host := ctxutil.GetHost(ctx)

	service.recorder.Record(ctx, audit.Entry{
		Action:     authz.ServiceAuthnLogin,
		ActorID:    actorID,
		HostAddr:   host.Addr,
		HostName:   host.Name,
		Authorized: outcome == OutcomeAuthenticated,
		AppContext: fmt.Sprintf("login=%s outcome=%s", login, outcome),
	})
}
