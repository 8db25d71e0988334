// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

/*
Package reset implements the four-step self-service password-reset workflow.

Steps, each independently invocable and audited:

 1. Request      — issue a time-boxed reset token (one outstanding per account).
 2. VerifyQuestions — alternate entry: check the two security answers.
 3. VerifyToken  — validate a token against its issuance window.
 4. Submit       — rotate the login credential and consume the token.

The online-reset lock (OLR) is the workflow's own lockout: three failed
security-question verifications disable the self-service path entirely until
an administrator clears it. It is distinct from the login lockout.
*/
package reset

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
	"github.com/castellan/castellan/internal/platform/ctxutil"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/logname"
)

// AccountDirectory is the slice of the account store the workflow needs.
type AccountDirectory interface {
	GetByLogin(ctx context.Context, login string) (*account.Account, error)
	GetByID(ctx context.Context, id string) (*account.Account, error)
	IncrementResetVerifyFailures(ctx context.Context, id string) (int, error)
	SetOnlineResetLock(ctx context.Context, id string, locked bool) error
}

// Service implements the password-reset use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to the token window,
// lock progression, or rotation logic must be reviewed by the security team.
type Service struct {
	accounts    AccountDirectory
	credentials credential.Store
	engine      *credential.Engine
	tokens      TokenStore
	questions   QuestionStore
	recorder    authz.Recorder
	policy      config.SecurityPolicy
	logger      *slog.Logger

	// nowFunc is the clock; tests pin it to exercise window boundaries.
	nowFunc func() time.Time
}

// NewService constructs a reset [Service].
func NewService(
	accounts AccountDirectory,
	credentials credential.Store,
	engine *credential.Engine,
	tokens TokenStore,
	questions QuestionStore,
	recorder authz.Recorder,
	policy config.SecurityPolicy,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts:    accounts,
		credentials: credentials,
		engine:      engine,
		tokens:      tokens,
		questions:   questions,
		recorder:    recorder,
		policy:      policy,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// WithClock replaces the service clock. Intended for tests only.
func (service *Service) WithClock(now func() time.Time) *Service {
	service.nowFunc = now
	return service
}

// RequestResult carries the issued token and minimal contact data.
type RequestResult struct {
	Token string `json:"token"`
	Login string `json:"login"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

/*
Request issues a fresh reset token for the account behind the login.

Any prior outstanding token for the account is overwritten: at most one
token is consumable at a time.

Returns:
  - *RequestResult: The token and contact data for out-of-band delivery.
  - error: apperr.NotFound for an unknown login, apperr.Forbidden when the
    online-reset capability is locked.
*/
func (service *Service) Request(ctx context.Context, login string) (*RequestResult, error) {
	normalized := logname.Normalize(login)

	acc, err := service.accounts.GetByLogin(ctx, normalized)
	if err != nil {
		return nil, err
	}

	defer service.audit(ctx, authz.ServiceResetRequest, acc.ID, "login="+normalized)

	if acc.OnlineResetLocked {
		return nil, apperr.Forbidden("Online reset is locked for this account")
	}

	token, err := sec.GenerateSecureToken(service.policy.ResetTokenLength)
	if err != nil {
		return nil, apperr.CryptoUnavailable(fmt.Errorf("reset_token_generation_failed: %w", err))
	}

	if err := service.tokens.Put(ctx, token, acc.ID, service.nowFunc()); err != nil {
		return nil, err
	}

	service.logger.InfoContext(ctx, "reset_token_issued",
		slog.String("account_id", acc.ID),
		slog.Duration("window", service.policy.ResetTokenWindow),
	)

	return &RequestResult{
		Token: token,
		Login: acc.Login,
		Email: acc.Email,
		Phone: acc.Phone,
	}, nil
}

// VerificationResult is returned by the question and token verification steps.
type VerificationResult struct {
	Account *account.Account `json:"account"`
	// LoginLocked flags that the account's failed-login counter already
	// exceeds the lockout threshold. Verification itself succeeded; the
	// caller decides whether a locked account may continue the reset.
	LoginLocked bool `json:"login_locked"`
}

/*
VerifyQuestions checks the two submitted security answers.

On failure the durable verification-failure counter increments; reaching the
configured maximum sets the online-reset lock, which persists until an
administrator clears it. A locked account fails even with correct answers.

Returns:
  - *VerificationResult: On success, the account (with the login-lock flag).
  - error: apperr.Unauthorized on wrong answers, apperr.Forbidden when the
    online-reset capability is locked, apperr.NotFound for unknown login or
    missing questions.
*/
func (service *Service) VerifyQuestions(ctx context.Context, login, answer1, answer2 string) (*VerificationResult, error) {
	normalized := logname.Normalize(login)

	acc, err := service.accounts.GetByLogin(ctx, normalized)
	if err != nil {
		return nil, err
	}

	defer service.audit(ctx, authz.ServiceResetVerifyQuestions, acc.ID, "login="+normalized)

	// The lock check comes before any answer comparison: once locked, the
	// correct answers are worthless on this path.
	if acc.OnlineResetLocked {
		return nil, apperr.Forbidden("Online reset is locked for this account")
	}

	salt, err := service.credentials.GetSalt(ctx, acc.ID, credential.PurposeReset)
	if err != nil {
		return nil, err
	}

	_, storedHash1, _, storedHash2, err := service.questions.GetQuestions(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	match1, err := service.engine.Matches(answer1, salt, storedHash1)
	if err != nil {
		return nil, err
	}
	match2, err := service.engine.Matches(answer2, salt, storedHash2)
	if err != nil {
		return nil, err
	}

	if !match1 || !match2 {
		count, err := service.accounts.IncrementResetVerifyFailures(ctx, acc.ID)
		if err != nil {
			return nil, err
		}

		if count >= service.policy.MaxResetVerifyFailures {
			if err := service.accounts.SetOnlineResetLock(ctx, acc.ID, true); err != nil {
				return nil, err
			}
			service.logger.WarnContext(ctx, "reset_online_lock_engaged",
				slog.String("account_id", acc.ID),
				slog.Int("failures", count),
			)
		}

		return nil, apperr.Unauthorized("Security answers do not match")
	}

	return &VerificationResult{
		Account:     acc,
		LoginLocked: acc.FailedLogins >= service.policy.MaxLoginAttempts,
	}, nil
}

/*
VerifyToken validates a reset token against its issuance window.

A token is consumable strictly while issuedAt + window > now. An absent
token is NotFound; an expired one is Unauthorized. The target account is
reloaded so the caller sees current state.
*/
func (service *Service) VerifyToken(ctx context.Context, token string) (*VerificationResult, error) {
	accountID, issuedAt, err := service.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	defer service.audit(ctx, authz.ServiceResetVerifyToken, accountID, "")

	if !issuedAt.Add(service.policy.ResetTokenWindow).After(service.nowFunc()) {
		return nil, apperr.Unauthorized("Reset token has expired")
	}

	// The token is only as valid as the account behind it.
	acc, err := service.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &VerificationResult{
		Account:     acc,
		LoginLocked: acc.FailedLogins >= service.policy.MaxLoginAttempts,
	}, nil
}

/*
Submit finalizes the reset: rotates the login credential and consumes the token.

The new password and its confirmation must be byte-identical and within the
configured length bounds. The fresh salt and hash are written in a single
rotation transaction; on failure the old credential remains fully intact and
a new reset request is required.
*/
func (service *Service) Submit(ctx context.Context, token, newPassword, confirm string) error {
	// Re-validate the token; Submit is independently invocable.
	verification, err := service.VerifyToken(ctx, token)
	if err != nil {
		return err
	}
	acc := verification.Account

	defer service.audit(ctx, authz.ServiceResetSubmit, acc.ID, "")

	if acc.OnlineResetLocked {
		return apperr.Forbidden("Online reset is locked for this account")
	}

	validator := &validate.Validator{}
	if err := validator.
		Equals("confirm", newPassword, confirm, "Passwords do not match").
		MinLen("new_password", newPassword, service.policy.PasswordMinLength).
		MaxLen("new_password", newPassword, service.policy.PasswordMaxLength).
		Err(); err != nil {
		return err
	}

	salt, err := service.engine.GenerateSalt()
	if err != nil {
		return err
	}

	hash, err := service.engine.Derive(newPassword, salt)
	if err != nil {
		return err
	}

	if err := service.credentials.RotateCredential(ctx, acc.ID, credential.PurposeLogin, salt, hash); err != nil {
		return err
	}

	// Consume the token only after the rotation landed; a failed rotation
	// leaves the token usable for a retry within its window.
	if err := service.tokens.Delete(ctx, token); err != nil {
		return err
	}

	service.logger.InfoContext(ctx, "reset_password_rotated", slog.String("account_id", acc.ID))
	return nil
}

// audit emits the single per-step audit entry.
//
// Reset steps are pre-authentication: the actor is the target account, the
// authorization gate is not involved, and reaching the step at all means the
// protocol allowed it.
func (service *Service) audit(ctx context.Context, action, accountID, appContext string) {
	host := ctxutil.GetHost(ctx)

	service.recorder.Record(ctx, audit.Entry{
		Action:     action,
		ActorID:    accountID,
		HostAddr:   host.Addr,
		HostName:   host.Name,
		Authorized: true,
		AppContext: appContext,
	})
}
