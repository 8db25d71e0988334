// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package account_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/account"
	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/config"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/pkg/pagination"
)

// # Test Fakes

type fakeStore struct {
	accounts map[string]*account.Account
	byLogin  map[string]string

	// createConflicts fails the first N Create calls with Conflict to
	// exercise the bounded ID retry.
	createConflicts int
	createAttempts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*account.Account{},
		byLogin:  map[string]string{},
	}
}

func (store *fakeStore) Create(_ context.Context, acc *account.Account) error {
	store.createAttempts++
	if store.createConflicts > 0 {
		store.createConflicts--
		return apperr.Conflict("duplicate id")
	}
	if _, taken := store.byLogin[acc.Login]; taken {
		return apperr.Conflict("duplicate login")
	}

	clone := *acc
	store.accounts[acc.ID] = &clone
	store.byLogin[acc.Login] = acc.ID
	return nil
}

func (store *fakeStore) GetByID(_ context.Context, id string) (*account.Account, error) {
	acc, found := store.accounts[id]
	if !found {
		return nil, apperr.NotFound("Account")
	}
	clone := *acc
	return &clone, nil
}

func (store *fakeStore) GetByLogin(_ context.Context, login string) (*account.Account, error) {
	id, found := store.byLogin[login]
	if !found {
		return nil, apperr.NotFound("Account")
	}
	return store.GetByID(context.Background(), id)
}

func (store *fakeStore) UpdateContact(_ context.Context, id, email, phone string) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.Email, acc.Phone = email, phone
	return nil
}

func (store *fakeStore) SetSuspended(_ context.Context, id string, suspended bool) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.Suspended = suspended
	return nil
}

func (store *fakeStore) SetRole(_ context.Context, id string, role string) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.Role = sec.Role(role)
	return nil
}

func (store *fakeStore) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	acc, found := store.accounts[id]
	if !found {
		return 0, apperr.NotFound("Account")
	}
	acc.FailedLogins++
	return acc.FailedLogins, nil
}

func (store *fakeStore) ResetFailedLogins(_ context.Context, id string) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.FailedLogins = 0
	return nil
}

func (store *fakeStore) IncrementResetVerifyFailures(_ context.Context, id string) (int, error) {
	acc, found := store.accounts[id]
	if !found {
		return 0, apperr.NotFound("Account")
	}
	acc.ResetVerifyFailures++
	return acc.ResetVerifyFailures, nil
}

func (store *fakeStore) SetOnlineResetLock(_ context.Context, id string, locked bool) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	acc.OnlineResetLocked = locked
	if !locked {
		acc.ResetVerifyFailures = 0
	}
	return nil
}

func (store *fakeStore) Delete(_ context.Context, id string) error {
	acc, found := store.accounts[id]
	if !found {
		return apperr.NotFound("Account")
	}
	delete(store.byLogin, acc.Login)
	delete(store.accounts, id)
	return nil
}

func (store *fakeStore) List(_ context.Context, _ pagination.Params) ([]account.Summary, int, error) {
	summaries := []account.Summary{}
	for _, acc := range store.accounts {
		summaries = append(summaries, acc.Summarize())
	}
	return summaries, len(summaries), nil
}

func (store *fakeStore) Search(_ context.Context, term string, _ pagination.Params) ([]account.Summary, int, error) {
	summaries := []account.Summary{}
	for _, acc := range store.accounts {
		if acc.Login == term {
			summaries = append(summaries, acc.Summarize())
		}
	}
	return summaries, len(summaries), nil
}

// fakeCredentials stores salts/hashes in memory keyed by account and purpose.
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

func (creds *fakeCredentials) DeleteAll(_ context.Context, accountID string) error {
	for key := range creds.salts {
		if len(key) > len(accountID) && key[:len(accountID)] == accountID {
			delete(creds.salts, key)
		}
	}
	for key := range creds.secrets {
		if len(key) > len(accountID) && key[:len(accountID)] == accountID {
			delete(creds.secrets, key)
		}
	}
	return nil
}

// fakeCascades records cascade invocations for the delete path.
type fakeCascades struct {
	questionsPurged []string
	keysPurged      []string
	tokensPurged    []string
	replaced        map[string][4]string
}

func newFakeCascades() *fakeCascades {
	return &fakeCascades{replaced: map[string][4]string{}}
}

func (cascades *fakeCascades) DeleteQuestions(_ context.Context, accountID string) error {
	cascades.questionsPurged = append(cascades.questionsPurged, accountID)
	return nil
}

func (cascades *fakeCascades) Remove(_ context.Context, accountID string) error {
	cascades.keysPurged = append(cascades.keysPurged, accountID)
	return nil
}

func (cascades *fakeCascades) DeleteForAccount(_ context.Context, accountID string) error {
	cascades.tokensPurged = append(cascades.tokensPurged, accountID)
	return nil
}

func (cascades *fakeCascades) ReplaceQuestions(_ context.Context, accountID, q1, h1, q2, h2 string) error {
	cascades.replaced[accountID] = [4]string{q1, h1, q2, h2}
	return nil
}

// captureRecorder collects audit entries synchronously.
type captureRecorder struct {
	entries []audit.Entry
}

func (recorder *captureRecorder) Record(_ context.Context, entry audit.Entry) {
	recorder.entries = append(recorder.entries, entry)
}

// # Test Harness

type harness struct {
	service   *account.Service
	store     *fakeStore
	creds     *fakeCredentials
	cascades  *fakeCascades
	recorder  *captureRecorder
	engine    *credential.Engine
}

func testPolicy() config.SecurityPolicy {
	return config.SecurityPolicy{
		MaxLoginAttempts:       5,
		PasswordMinLength:      8,
		PasswordMaxLength:      128,
		SaltLength:             16,
		HashIterations:         1000,
		DerivedKeyLength:       32,
		ResetTokenLength:       32,
		MaxResetVerifyFailures: 3,
		AuditEnabled:           true,
	}
}

func newHarness() *harness {
	store := newFakeStore()
	creds := newFakeCredentials()
	cascades := newFakeCascades()
	recorder := &captureRecorder{}
	policy := testPolicy()
	engine := credential.NewEngine(policy.SaltLength, policy.HashIterations, policy.DerivedKeyLength)
	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	service := account.NewService(
		store, creds, engine, guard,
		cascades, cascades, cascades, cascades,
		policy, slog.Default(),
	)

	return &harness{
		service:  service,
		store:    store,
		creds:    creds,
		cascades: cascades,
		recorder: recorder,
		engine:   engine,
	}
}

func adminActor() authz.Actor {
	return authz.Actor{ID: "admin-1", Role: sec.RoleAdmin, SessionID: "sess-1"}
}

// # Tests

/*
TestService_Create tests account creation, login normalization, and the
installed initial credential.
*/
func TestService_Create(t *testing.T) {
	h := newHarness()

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "  JDoe ",
		Password:    "initial-pass-1",
		DisplayName: "John Doe",
		Role:        "operator",
		Email:       "jdoe@corp.example",
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	// Login is normalized (trimmed, case-folded).
	assert.Equal(t, "jdoe", created.Login)
	assert.NotEmpty(t, created.ID)

	// The initial password verifies against the stored credential.
	salt, err := h.creds.GetSalt(context.Background(), created.ID, credential.PurposeLogin)
	require.NoError(t, err)
	hash, err := h.creds.GetSecret(context.Background(), created.ID, credential.PurposeLogin)
	require.NoError(t, err)

	matches, err := h.engine.Matches("initial-pass-1", salt, hash)
	require.NoError(t, err)
	assert.True(t, matches)
}

/*
TestService_Create_RetriesIDConflict tests the bounded identifier retry.
*/
func TestService_Create_RetriesIDConflict(t *testing.T) {
	h := newHarness()
	h.store.createConflicts = 2

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "retry",
		Password:    "password-ok",
		DisplayName: "Retry Case",
		Role:        "viewer",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, 3, h.store.createAttempts)
}

/*
TestService_Create_DuplicateLogin tests that a taken login is a Conflict,
not an endless ID retry.
*/
func TestService_Create_DuplicateLogin(t *testing.T) {
	h := newHarness()

	input := account.CreateInput{
		Login:       "taken",
		Password:    "password-ok",
		DisplayName: "First",
		Role:        "viewer",
	}
	_, err := h.service.Create(context.Background(), adminActor(), input)
	require.NoError(t, err)

	input.DisplayName = "Second"
	_, err = h.service.Create(context.Background(), adminActor(), input)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)
}

/*
TestService_Create_Denied tests that a viewer cannot create accounts and the
denial is audited.
*/
func TestService_Create_Denied(t *testing.T) {
	h := newHarness()

	_, err := h.service.Create(context.Background(),
		authz.Actor{ID: "low-1", Role: sec.RoleViewer},
		account.CreateInput{Login: "x", Password: "password-ok", DisplayName: "X", Role: "viewer"})

	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)

	require.Len(t, h.recorder.entries, 1)
	assert.False(t, h.recorder.entries[0].Authorized)
	assert.Empty(t, h.store.accounts)
}

/*
TestService_Delete_Cascades tests that deletion removes credentials,
questions, keys, and reset tokens before the account row.
*/
func TestService_Delete_Cascades(t *testing.T) {
	h := newHarness()

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "victim",
		Password:    "password-ok",
		DisplayName: "Victim",
		Role:        "viewer",
	})
	require.NoError(t, err)

	require.NoError(t, h.service.Delete(context.Background(), adminActor(), created.ID))

	assert.Equal(t, []string{created.ID}, h.cascades.questionsPurged)
	assert.Equal(t, []string{created.ID}, h.cascades.keysPurged)
	assert.Equal(t, []string{created.ID}, h.cascades.tokensPurged)

	_, err = h.store.GetByID(context.Background(), created.ID)
	assert.Equal(t, "NOT_FOUND", apperr.As(err).Code)

	_, err = h.creds.GetSalt(context.Background(), created.ID, credential.PurposeLogin)
	assert.Equal(t, "NOT_FOUND", apperr.As(err).Code)
}

/*
TestService_ChangePassword tests the self-service rotation including the
current-password check and identity-match rule.
*/
func TestService_ChangePassword(t *testing.T) {
	h := newHarness()

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "selfie",
		Password:    "old-password",
		DisplayName: "Selfie",
		Role:        "operator",
	})
	require.NoError(t, err)

	self := authz.Actor{ID: created.ID, Role: sec.RoleOperator}

	t.Run("wrong_current_password", func(t *testing.T) {
		err := h.service.ChangePassword(context.Background(), self, created.ID, "not-the-old", "new-password-1")
		require.Error(t, err)
		assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)
	})

	t.Run("other_account_forbidden", func(t *testing.T) {
		stranger := authz.Actor{ID: "someone-else", Role: sec.RoleAdmin}
		err := h.service.ChangePassword(context.Background(), stranger, created.ID, "old-password", "new-password-1")
		require.Error(t, err)
		assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)
	})

	t.Run("success_rotates", func(t *testing.T) {
		require.NoError(t, h.service.ChangePassword(context.Background(), self, created.ID, "old-password", "new-password-1"))

		salt, err := h.creds.GetSalt(context.Background(), created.ID, credential.PurposeLogin)
		require.NoError(t, err)
		hash, err := h.creds.GetSecret(context.Background(), created.ID, credential.PurposeLogin)
		require.NoError(t, err)

		matches, err := h.engine.Matches("new-password-1", salt, hash)
		require.NoError(t, err)
		assert.True(t, matches)

		// Old password no longer verifies.
		matches, err = h.engine.Matches("old-password", salt, hash)
		require.NoError(t, err)
		assert.False(t, matches)
	})
}

/*
TestService_SetSecurityQuestions tests distinctness validation and answer
hashing under the reset-purpose salt.
*/
func TestService_SetSecurityQuestions(t *testing.T) {
	h := newHarness()

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "quizzer",
		Password:    "password-ok",
		DisplayName: "Quizzer",
		Role:        "viewer",
	})
	require.NoError(t, err)

	self := authz.Actor{ID: created.ID, Role: sec.RoleViewer}

	t.Run("duplicate_questions_rejected", func(t *testing.T) {
		err := h.service.SetSecurityQuestions(context.Background(), self, created.ID,
			"First pet?", "rex", "First pet?", "bello")
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
	})

	t.Run("answers_hashed_with_reset_salt", func(t *testing.T) {
		require.NoError(t, h.service.SetSecurityQuestions(context.Background(), self, created.ID,
			"First pet?", "rex", "Birth city?", "utrecht"))

		stored := h.cascades.replaced[created.ID]
		salt, err := h.creds.GetSalt(context.Background(), created.ID, credential.PurposeReset)
		require.NoError(t, err)

		expected1, err := h.engine.Derive("rex", salt)
		require.NoError(t, err)
		assert.Equal(t, expected1, stored[1])
		assert.Equal(t, "First pet?", stored[0])
	})
}

/*
TestService_ClearResetLock tests the administrator release of the
online-reset lock.
*/
func TestService_ClearResetLock(t *testing.T) {
	h := newHarness()

	created, err := h.service.Create(context.Background(), adminActor(), account.CreateInput{
		Login:       "olr",
		Password:    "password-ok",
		DisplayName: "OLR",
		Role:        "viewer",
	})
	require.NoError(t, err)

	// Simulate three failed verifications having locked the account.
	require.NoError(t, h.store.SetOnlineResetLock(context.Background(), created.ID, true))

	require.NoError(t, h.service.ClearResetLock(context.Background(), adminActor(), created.ID))

	acc, err := h.store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, acc.OnlineResetLocked)
	assert.Zero(t, acc.ResetVerifyFailures)
}
