// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/logname"
	"github.com/castellan/castellan/pkg/pagination"
	"github.com/castellan/castellan/pkg/uuid"
)

// maxIDAttempts bounds identifier generation retries on Create. A collision
// under UUIDv7 is effectively impossible, but the bound keeps a broken
// uniqueness constraint from looping forever.
const maxIDAttempts = 5

// Service implements the account lifecycle use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to lifecycle, cascade,
// or credential rotation logic must be reviewed by the security team.
type Service struct {
	store       Store
	credentials credential.Store
	engine      *credential.Engine
	guard       *authz.Guard
	questions   QuestionWriter

	// Deletion cascade targets.
	questionPurger QuestionPurger
	keyPurger      KeyPurger
	tokenPurger    TokenPurger

	policy config.SecurityPolicy
	logger *slog.Logger
}

// NewService constructs an account [Service] with its dependencies.
func NewService(
	store Store,
	credentials credential.Store,
	engine *credential.Engine,
	guard *authz.Guard,
	questions QuestionWriter,
	questionPurger QuestionPurger,
	keyPurger KeyPurger,
	tokenPurger TokenPurger,
	policy config.SecurityPolicy,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:          store,
		credentials:    credentials,
		engine:         engine,
		guard:          guard,
		questions:      questions,
		questionPurger: questionPurger,
		keyPurger:      keyPurger,
		tokenPurger:    tokenPurger,
		policy:         policy,
		logger:         logger,
	}
}

// CreateInput holds the data required to enroll a new account.
type CreateInput struct {
	Login       string     `json:"login"`
	Password    string     `json:"password"`
	DisplayName string     `json:"display_name"`
	GivenName   string     `json:"given_name"`
	Surname     string     `json:"surname"`
	Role        string     `json:"role"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

/*
Create validates input, persists a new account, and installs its initial
login credential.

Identifier generation retries up to maxIDAttempts on uniqueness conflicts; a
conflict on the login name is returned immediately since retrying cannot fix it.

Parameters:
  - ctx: Request context.
  - actor: The authenticated requestor.
  - input: The account details.

Returns:
  - *Account: The created account.
  - error: apperr.Forbidden on gate denial, apperr.ValidationError on bad
    input, apperr.Conflict on duplicate login.
*/
func (service *Service) Create(ctx context.Context, actor authz.Actor, input CreateInput) (*Account, error) {
	var created *Account

	err := service.guard.Run(ctx, authz.ServiceAccountCreate, actor, "login="+input.Login, func(ctx context.Context) error {
		login := logname.Normalize(input.Login)
		role := sec.Role(input.Role)

		validator := &validate.Validator{}
		validator.
			Required("login", login).
			MaxLen("login", login, 64).
			MinLen("password", input.Password, service.policy.PasswordMinLength).
			MaxLen("password", input.Password, service.policy.PasswordMaxLength).
			Required("display_name", input.DisplayName)
		if input.Email != "" {
			validator.Email("email", input.Email)
		}
		validator.Custom("role", !role.IsValid(), "Unknown role")
		if err := validator.Err(); err != nil {
			return err
		}

		account := &Account{
			Login:       login,
			DisplayName: input.DisplayName,
			GivenName:   input.GivenName,
			Surname:     input.Surname,
			Role:        role,
			Email:       input.Email,
			Phone:       input.Phone,
			ExpiresAt:   input.ExpiresAt,
		}

		// Bounded retry on identifier collision.
		var lastErr error
		for attempt := 0; attempt < maxIDAttempts; attempt++ {
			account.ID = uuid.Must()

			lastErr = service.store.Create(ctx, account)
			if lastErr == nil {
				break
			}
			if !apperr.IsCode(lastErr, "CONFLICT") {
				return lastErr
			}

			// A login conflict cannot be fixed by a new ID.
			if _, err := service.store.GetByLogin(ctx, login); err == nil {
				return apperr.Conflict("Login name already in use")
			}
		}
		if lastErr != nil {
			return fmt.Errorf("account_create_id_generation_failed: %w", lastErr)
		}

		// Install the initial login credential.
		if err := service.rotateLoginSecret(ctx, account.ID, input.Password); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "account_created",
			slog.String("account_id", account.ID),
			slog.String("login", account.Login),
			slog.String("role", string(account.Role)),
		)

		created = account
		return nil
	})

	return created, err
}

// Suspend blocks authentication for the target account.
func (service *Service) Suspend(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceAccountSuspend, actor, "target="+accountID, func(ctx context.Context) error {
		return service.store.SetSuspended(ctx, accountID, true)
	})
}

// Unsuspend re-enables authentication for the target account.
func (service *Service) Unsuspend(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceAccountUnsuspend, actor, "target="+accountID, func(ctx context.Context) error {
		return service.store.SetSuspended(ctx, accountID, false)
	})
}

/*
Delete permanently removes an account and everything keyed to it.

The cascade removes credentials, security questions, the key pair, and any
outstanding reset token before the account row itself. Cascade steps are
idempotent, so a partially completed delete can be retried safely.
*/
func (service *Service) Delete(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceAccountDelete, actor, "target="+accountID, func(ctx context.Context) error {
		// Confirm the account exists before touching dependents.
		if _, err := service.store.GetByID(ctx, accountID); err != nil {
			return err
		}

		if err := service.credentials.DeleteAll(ctx, accountID); err != nil {
			return fmt.Errorf("account_delete_credentials_failed: %w", err)
		}
		if err := service.questionPurger.DeleteQuestions(ctx, accountID); err != nil {
			return fmt.Errorf("account_delete_questions_failed: %w", err)
		}
		if err := service.keyPurger.Remove(ctx, accountID); err != nil {
			return fmt.Errorf("account_delete_keys_failed: %w", err)
		}
		if err := service.tokenPurger.DeleteForAccount(ctx, accountID); err != nil {
			return fmt.Errorf("account_delete_reset_token_failed: %w", err)
		}

		if err := service.store.Delete(ctx, accountID); err != nil {
			return err
		}

		service.logger.InfoContext(ctx, "account_deleted", slog.String("account_id", accountID))
		return nil
	})
}

// ChangeRole assigns a new role to the target account.
func (service *Service) ChangeRole(ctx context.Context, actor authz.Actor, accountID string, role string) error {
	return service.guard.Run(ctx, authz.ServiceAccountChangeRole, actor, "target="+accountID+" role="+role, func(ctx context.Context) error {
		if !sec.Role(role).IsValid() {
			return apperr.ValidationError("Unknown role", apperr.FieldError{Field: "role", Message: "Unknown role"})
		}
		return service.store.SetRole(ctx, accountID, role)
	})
}

/*
AdminResetPassword installs a brand-new login credential for the target
account, bypassing knowledge of the old one.

The fresh salt and hash are written in a single rotation transaction: the
old password stops working exactly when the new one starts.
*/
func (service *Service) AdminResetPassword(ctx context.Context, actor authz.Actor, accountID, newPassword string) error {
	return service.guard.Run(ctx, authz.ServiceAccountResetPassword, actor, "target="+accountID, func(ctx context.Context) error {
		if err := service.checkPasswordBounds(newPassword); err != nil {
			return err
		}
		if _, err := service.store.GetByID(ctx, accountID); err != nil {
			return err
		}

		if err := service.rotateLoginSecret(ctx, accountID, newPassword); err != nil {
			return err
		}

		// The account gets a clean slate with the new credential.
		return service.store.ResetFailedLogins(ctx, accountID)
	})
}

// ClearLockout resets the failed-login counter, releasing a login lockout.
func (service *Service) ClearLockout(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceAccountClearLockout, actor, "target="+accountID, func(ctx context.Context) error {
		return service.store.ResetFailedLogins(ctx, accountID)
	})
}

// ClearResetLock releases the online-reset lock set by repeated failed
// security-question verification. Administrator intervention only.
func (service *Service) ClearResetLock(ctx context.Context, actor authz.Actor, accountID string) error {
	return service.guard.Run(ctx, authz.ServiceAccountClearOLRLock, actor, "target="+accountID, func(ctx context.Context) error {
		return service.store.SetOnlineResetLock(ctx, accountID, false)
	})
}

// Get retrieves a single account.
func (service *Service) Get(ctx context.Context, actor authz.Actor, accountID string) (*Account, error) {
	var account *Account

	err := service.guard.Run(ctx, authz.ServiceAccountGet, actor, "target="+accountID, func(ctx context.Context) error {
		found, err := service.store.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		account = found
		return nil
	})

	return account, err
}

// List returns a page of account summaries.
func (service *Service) List(ctx context.Context, actor authz.Actor, params pagination.Params) ([]Summary, int, error) {
	var summaries []Summary
	var total int

	err := service.guard.Run(ctx, authz.ServiceAccountList, actor, "", func(ctx context.Context) error {
		found, count, err := service.store.List(ctx, params)
		if err != nil {
			return err
		}
		summaries, total = found, count
		return nil
	})

	return summaries, total, err
}

// Search returns a page of summaries matching the term.
func (service *Service) Search(ctx context.Context, actor authz.Actor, term string, params pagination.Params) ([]Summary, int, error) {
	var summaries []Summary
	var total int

	err := service.guard.Run(ctx, authz.ServiceAccountSearch, actor, "term="+term, func(ctx context.Context) error {
		validator := &validate.Validator{}
		if err := validator.Required("q", term).MaxLen("q", term, 128).Err(); err != nil {
			return err
		}

		found, count, err := service.store.Search(ctx, term, params)
		if err != nil {
			return err
		}
		summaries, total = found, count
		return nil
	})

	return summaries, total, err
}

// # Self-Service Operations
//
// These require the target account to be the requestor's own. The identity
// check happens in the guard before anything else, without consulting the
// access-control gate.

// UpdateContact changes the requestor's own contact fields.
func (service *Service) UpdateContact(ctx context.Context, actor authz.Actor, accountID, email, phone string) error {
	return service.guard.RunSelf(ctx, authz.ServiceSelfUpdateContact, actor, accountID, func(ctx context.Context) error {
		validator := &validate.Validator{}
		if email != "" {
			validator.Email("email", email)
		}
		if err := validator.MaxLen("phone", phone, 32).Err(); err != nil {
			return err
		}

		return service.store.UpdateContact(ctx, accountID, email, phone)
	})
}

/*
ChangePassword rotates the requestor's own login credential.

The current password must verify against the stored hash before the rotation
happens; a stolen session alone is not enough to change the password.
*/
func (service *Service) ChangePassword(ctx context.Context, actor authz.Actor, accountID, currentPassword, newPassword string) error {
	return service.guard.RunSelf(ctx, authz.ServiceSelfChangePassword, actor, accountID, func(ctx context.Context) error {
		if err := service.checkPasswordBounds(newPassword); err != nil {
			return err
		}

		salt, err := service.credentials.GetSalt(ctx, accountID, credential.PurposeLogin)
		if err != nil {
			return err
		}
		storedHash, err := service.credentials.GetSecret(ctx, accountID, credential.PurposeLogin)
		if err != nil {
			return err
		}

		matches, err := service.engine.Matches(currentPassword, salt, storedHash)
		if err != nil {
			return err
		}
		if !matches {
			return apperr.Unauthorized("Current password is incorrect")
		}

		return service.rotateLoginSecret(ctx, accountID, newPassword)
	})
}

/*
SetSecurityQuestions replaces the requestor's own security-question pairs.

Exactly two pairs, mutually distinct questions, non-empty answers. Answers
are hashed under a freshly rotated reset-purpose salt, so stale answer
hashes from the previous questions become unreadable.
*/
func (service *Service) SetSecurityQuestions(ctx context.Context, actor authz.Actor, accountID, question1, answer1, question2, answer2 string) error {
	return service.guard.RunSelf(ctx, authz.ServiceSelfSecurityQuestions, actor, accountID, func(ctx context.Context) error {
		validator := &validate.Validator{}
		validator.
			Required("question1", question1).
			Required("answer1", answer1).
			Required("question2", question2).
			Required("answer2", answer2)
		validator.Custom("question2", question1 == question2, "Security questions must be distinct")
		if err := validator.Err(); err != nil {
			return err
		}

		// Fresh reset-purpose salt; both answers hash under it.
		salt, err := service.engine.GenerateSalt()
		if err != nil {
			return err
		}

		hash1, err := service.engine.Derive(answer1, salt)
		if err != nil {
			return err
		}
		hash2, err := service.engine.Derive(answer2, salt)
		if err != nil {
			return err
		}

		if err := service.credentials.PutSalt(ctx, accountID, credential.PurposeReset, salt); err != nil {
			return err
		}

		return service.questions.ReplaceQuestions(ctx, accountID, question1, hash1, question2, hash2)
	})
}

// # Internal Helpers

// rotateLoginSecret installs a fresh login-purpose salt and hash atomically.
func (service *Service) rotateLoginSecret(ctx context.Context, accountID, password string) error {
	salt, err := service.engine.GenerateSalt()
	if err != nil {
		return err
	}

	hash, err := service.engine.Derive(password, salt)
	if err != nil {
		return err
	}

	return service.credentials.RotateCredential(ctx, accountID, credential.PurposeLogin, salt, hash)
}

// checkPasswordBounds enforces the configured password length policy.
func (service *Service) checkPasswordBounds(password string) error {
	validator := &validate.Validator{}
	return validator.
		MinLen("password", password, service.policy.PasswordMinLength).
		MaxLen("password", password, service.policy.PasswordMaxLength).
		Err()
}
