// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package authn_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/account"
	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authn"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/sec"
)

// # Test Fakes

type fakeDirectory struct {
	accounts map[string]*account.Account
	byLogin  map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: map[string]*account.Account{}, byLogin: map[string]string{}}
}

func (directory *fakeDirectory) add(acc *account.Account) {
	directory.accounts[acc.ID] = acc
	directory.byLogin[acc.Login] = acc.ID
}

func (directory *fakeDirectory) GetByLogin(_ context.Context, login string) (*account.Account, error) {
	id, found := directory.byLogin[login]
	if !found {
		return nil, apperr.NotFound("Account")
	}
	return directory.GetByID(context.Background(), id)
}

func (directory *fakeDirectory) GetByID(_ context.Context, id string) (*account.Account, error) {
	acc, found := directory.accounts[id]
	if !found {
		return nil, apperr.NotFound("Account")
	}
	clone := *acc
	return &clone, nil
}

func (directory *fakeDirectory) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	acc, found := directory.accounts[id]
	if !found {
		return 0, apperr.NotFound("Account")
	}
	acc.FailedLogins++
	return acc.FailedLogins, nil
}

func (directory *fakeDirectory) ResetFailedLogins(_ context.Context, id string) error {
	acc, found := directory.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.FailedLogins = 0
	return nil
}

type fakeCredentials struct {
	salts   map[string]string
	secrets map[string]string
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{salts: map[string]string{}, secrets: map[string]string{}}
}

func credKey(accountID string, purpose credential.Purpose) string {
	return accountID + "/" + purpose.String()
}

func (creds *fakeCredentials) GetSalt(_ context.Context, accountID string, purpose credential.Purpose) (string, error) {
	salt, found := creds.salts[credKey(accountID, purpose)]
	if !found {
		return "", apperr.NotFound("Salt")
	}
	return salt, nil
}

func (creds *fakeCredentials) PutSalt(_ context.Context, accountID string, purpose credential.Purpose, salt string) error {
	creds.salts[credKey(accountID, purpose)] = salt
	return nil
}

func (creds *fakeCredentials) GetSecret(_ context.Context, accountID string, purpose credential.Purpose) (string, error) {
	secret, found := creds.secrets[credKey(accountID, purpose)]
	if !found {
		return "", apperr.NotFound("Credential secret")
	}
	return secret, nil
}

func (creds *fakeCredentials) PutSecret(_ context.Context, accountID string, purpose credential.Purpose, hash string) error {
	creds.secrets[credKey(accountID, purpose)] = hash
	return nil
}

func (creds *fakeCredentials) RotateCredential(_ context.Context, accountID string, purpose credential.Purpose, salt, hash string) error {
	key := credKey(accountID, purpose)
	creds.salts[key] = salt
	creds.secrets[key] = hash
	return nil
}

func (creds *fakeCredentials) DeleteAll(_ context.Context, _ string) error { return nil }

type fakeIssuer struct{}

func (fakeIssuer) GenerateSessionToken(accountID, _, _, sessionID string, _ time.Duration) (string, error) {
	return "jwt-" + accountID + "-" + sessionID, nil
}

type captureRecorder struct {
	entries []audit.Entry
}

func (recorder *captureRecorder) Record(_ context.Context, entry audit.Entry) {
	recorder.entries = append(recorder.entries, entry)
}

// # Test Harness

type harness struct {
	service   *authn.Service
	directory *fakeDirectory
	creds     *fakeCredentials
	recorder  *captureRecorder
	engine    *credential.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	policy := config.SecurityPolicy{
		MaxLoginAttempts:  3,
		PasswordMinLength: 8,
		PasswordMaxLength: 128,
		SaltLength:        16,
		HashIterations:    1000,
		DerivedKeyLength:  32,
		ResetTokenLength:  32,
		AuditEnabled:      true,
	}

	directory := newFakeDirectory()
	creds := newFakeCredentials()
	recorder := &captureRecorder{}
	engine := credential.NewEngine(policy.SaltLength, policy.HashIterations, policy.DerivedKeyLength)

	return &harness{
		service:   authn.NewService(directory, creds, engine, fakeIssuer{}, recorder, policy, slog.Default()),
		directory: directory,
		creds:     creds,
		recorder:  recorder,
		engine:    engine,
	}
}

// seedAccount creates an account with the given password installed under the
// login purpose.
func (h *harness) seedAccount(t *testing.T, id, login, password string, mutate func(*account.Account)) *account.Account {
	t.Helper()

	acc := &account.Account{
		ID:    id,
		Login: login,
		Role:  sec.RoleOperator,
	}
	if mutate != nil {
		mutate(acc)
	}
	h.directory.add(acc)

	salt, err := h.engine.GenerateSalt()
	require.NoError(t, err)
	hash, err := h.engine.Derive(password, salt)
	require.NoError(t, err)
	require.NoError(t, h.creds.RotateCredential(context.Background(), id, credential.PurposeLogin, salt, hash))

	return acc
}

// # Tests

/*
TestAuthenticate_Success tests the happy path: tokens issued, counter reset,
exactly one authorized=true audit entry.
*/
func TestAuthenticate_Success(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", func(acc *account.Account) {
		acc.FailedLogins = 2 // prior failures below the threshold
	})

	result, err := h.service.Authenticate(context.Background(), "JDoe", "correct-pass")
	require.NoError(t, err)

	assert.Equal(t, authn.OutcomeAuthenticated, result.Outcome)
	assert.NotEmpty(t, result.SessionToken)
	assert.NotEmpty(t, result.AuthToken)
	require.NotNil(t, result.Account)

	// Counter reset after success.
	assert.Zero(t, h.directory.accounts["acc-1"].FailedLogins)

	// Auth token persisted hashed under its own purpose.
	salt, err := h.creds.GetSalt(context.Background(), "acc-1", credential.PurposeAuthToken)
	require.NoError(t, err)
	storedHash, err := h.creds.GetSecret(context.Background(), "acc-1", credential.PurposeAuthToken)
	require.NoError(t, err)
	matches, err := h.engine.Matches(result.AuthToken, salt, storedHash)
	require.NoError(t, err)
	assert.True(t, matches)

	require.Len(t, h.recorder.entries, 1)
	assert.True(t, h.recorder.entries[0].Authorized)
}

/*
TestAuthenticate_WrongSecret tests the mismatch branch: counter increments,
one authorized=false audit entry, no infrastructure error.
*/
func TestAuthenticate_WrongSecret(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", nil)

	result, err := h.service.Authenticate(context.Background(), "jdoe", "wrong-pass")
	require.NoError(t, err)

	assert.Equal(t, authn.OutcomeFailure, result.Outcome)
	assert.Nil(t, result.Account)
	assert.Equal(t, 1, h.directory.accounts["acc-1"].FailedLogins)

	require.Len(t, h.recorder.entries, 1)
	assert.False(t, h.recorder.entries[0].Authorized)
}

/*
TestAuthenticate_UnknownLogin tests enumeration safety: the result is
indistinguishable from a wrong secret.
*/
func TestAuthenticate_UnknownLogin(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", nil)

	unknownResult, err := h.service.Authenticate(context.Background(), "ghost", "whatever")
	require.NoError(t, err)

	wrongResult, err := h.service.Authenticate(context.Background(), "jdoe", "wrong-pass")
	require.NoError(t, err)

	assert.Equal(t, wrongResult.Outcome, unknownResult.Outcome)
	assert.Nil(t, unknownResult.Account)
	assert.Empty(t, unknownResult.SessionToken)
}

/*
TestAuthenticate_LockoutProgression tests that the Nth consecutive failure
locks the account and a correct secret afterwards still reports Locked.
*/
func TestAuthenticate_LockoutProgression(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", nil)

	// MaxLoginAttempts is 3 in the harness.
	for attempt := 0; attempt < 3; attempt++ {
		result, err := h.service.Authenticate(context.Background(), "jdoe", "wrong-pass")
		require.NoError(t, err)
		assert.Equal(t, authn.OutcomeFailure, result.Outcome)
	}

	// Correct secret, but the counter has reached the threshold.
	result, err := h.service.Authenticate(context.Background(), "jdoe", "correct-pass")
	require.NoError(t, err)
	assert.Equal(t, authn.OutcomeLocked, result.Outcome)
	require.NotNil(t, result.Account)
	assert.Empty(t, result.SessionToken)

	// Still locked until an administrator clears the counter.
	result, err = h.service.Authenticate(context.Background(), "jdoe", "correct-pass")
	require.NoError(t, err)
	assert.Equal(t, authn.OutcomeLocked, result.Outcome)

	// Administrator clears; next attempt succeeds.
	require.NoError(t, h.directory.ResetFailedLogins(context.Background(), "acc-1"))
	result, err = h.service.Authenticate(context.Background(), "jdoe", "correct-pass")
	require.NoError(t, err)
	assert.Equal(t, authn.OutcomeAuthenticated, result.Outcome)
}

/*
TestAuthenticate_SuspendedAndExpired tests the remaining terminal branches.
*/
func TestAuthenticate_SuspendedAndExpired(t *testing.T) {
	h := newHarness(t)

	past := time.Now().Add(-time.Hour)
	h.seedAccount(t, "acc-s", "suspended", "correct-pass", func(acc *account.Account) {
		acc.Suspended = true
	})
	h.seedAccount(t, "acc-e", "expired", "correct-pass", func(acc *account.Account) {
		acc.ExpiresAt = &past
	})

	result, err := h.service.Authenticate(context.Background(), "suspended", "correct-pass")
	require.NoError(t, err)
	assert.Equal(t, authn.OutcomeSuspended, result.Outcome)
	require.NotNil(t, result.Account)

	result, err = h.service.Authenticate(context.Background(), "expired", "correct-pass")
	require.NoError(t, err)
	assert.Equal(t, authn.OutcomeExpired, result.Outcome)
	require.NotNil(t, result.Account)
	assert.Empty(t, result.SessionToken)
}

/*
TestAuthenticate_AuditExactlyOnce tests the exactly-once audit property
across every branch.
*/
func TestAuthenticate_AuditExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", nil)
	h.seedAccount(t, "acc-s", "suspended", "correct-pass", func(acc *account.Account) {
		acc.Suspended = true
	})

	attempts := []struct {
		login  string
		secret string
	}{
		{"jdoe", "correct-pass"},  // authenticated
		{"jdoe", "wrong"},         // failure
		{"ghost", "whatever"},     // unknown login
		{"suspended", "correct-pass"}, // suspended
	}

	for _, attempt := range attempts {
		_, err := h.service.Authenticate(context.Background(), attempt.login, attempt.secret)
		require.NoError(t, err)
	}

	assert.Len(t, h.recorder.entries, len(attempts))
}

/*
TestLogoff_Idempotent tests that logoff rotates the auth token and can be
repeated without error.
*/
func TestLogoff_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.seedAccount(t, "acc-1", "jdoe", "correct-pass", nil)

	result, err := h.service.Authenticate(context.Background(), "jdoe", "correct-pass")
	require.NoError(t, err)

	logoffActor := authz.Actor{ID: "acc-1", Role: sec.RoleOperator, SessionID: "sess-1"}
	require.NoError(t, h.service.Logoff(context.Background(), logoffActor))

	// The previously issued auth token no longer verifies.
	salt, err := h.creds.GetSalt(context.Background(), "acc-1", credential.PurposeAuthToken)
	require.NoError(t, err)
	storedHash, err := h.creds.GetSecret(context.Background(), "acc-1", credential.PurposeAuthToken)
	require.NoError(t, err)
	matches, err := h.engine.Matches(result.AuthToken, salt, storedHash)
	require.NoError(t, err)
	assert.False(t, matches)

	// Second logoff without an active session is not an error.
	require.NoError(t, h.service.Logoff(context.Background(), logoffActor))
}
