// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/identity/keys"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/sec"
)

// # Test Fakes

type memoryStore struct {
	pairs map[string]*keys.KeyPair
}

func newMemoryStore() *memoryStore {
	return &memoryStore{pairs: map[string]*keys.KeyPair{}}
}

func (store *memoryStore) Put(_ context.Context, pair *keys.KeyPair) error {
	if _, exists := store.pairs[pair.AccountID]; exists {
		return apperr.Conflict("A key pair already exists for this account")
	}
	store.pairs[pair.AccountID] = pair
	return nil
}

func (store *memoryStore) Get(_ context.Context, accountID string) (*keys.KeyPair, error) {
	pair, found := store.pairs[accountID]
	if !found {
		return nil, apperr.NotFound("Key pair")
	}
	return pair, nil
}

func (store *memoryStore) Remove(_ context.Context, accountID string) error {
	delete(store.pairs, accountID)
	return nil
}

type captureRecorder struct {
	entries []audit.Entry
}

func (recorder *captureRecorder) Record(_ context.Context, entry audit.Entry) {
	recorder.entries = append(recorder.entries, entry)
}

// # Test Harness

type harness struct {
	service  *keys.Service
	store    *memoryStore
	recorder *captureRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemoryStore()
	recorder := &captureRecorder{}
	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	return &harness{
		service:  keys.NewService(store, guard, slog.Default()),
		store:    store,
		recorder: recorder,
	}
}

func operatorActor() authz.Actor {
	return authz.Actor{ID: "op-1", Role: sec.RoleOperator, SessionID: "sess-1"}
}

// writeTestFile creates a payload file inside the test's temp dir.
func writeTestFile(t *testing.T, dir, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	return path
}

// # Tests

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := operatorActor()

	t.Run("return_absent_is_nil", func(t *testing.T) {
		view, err := h.service.Return(ctx, actor, "acc-1")
		require.NoError(t, err)
		assert.Nil(t, view)
	})

	t.Run("create_and_return", func(t *testing.T) {
		created, err := h.service.Create(ctx, actor, "acc-1")
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Contains(t, created.PublicPEM, "PUBLIC KEY")

		view, err := h.service.Return(ctx, actor, "acc-1")
		require.NoError(t, err)
		require.NotNil(t, view)
		assert.Equal(t, created.PublicPEM, view.PublicPEM)
	})

	t.Run("create_existing_conflicts", func(t *testing.T) {
		_, err := h.service.Create(ctx, actor, "acc-1")
		require.Error(t, err)
		assert.Equal(t, "CONFLICT", apperr.As(err).Code)
	})

	t.Run("remove_is_idempotent", func(t *testing.T) {
		require.NoError(t, h.service.Remove(ctx, actor, "acc-1"))
		require.NoError(t, h.service.Remove(ctx, actor, "acc-1"))

		view, err := h.service.Return(ctx, actor, "acc-1")
		require.NoError(t, err)
		assert.Nil(t, view)
	})
}

func TestCreate_DeniedForViewer(t *testing.T) {
	h := newHarness(t)
	viewer := authz.Actor{ID: "v-1", Role: sec.RoleViewer, SessionID: "sess-v"}

	_, err := h.service.Create(context.Background(), viewer, "acc-1")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)

	// The denial itself is audited.
	require.Len(t, h.recorder.entries, 1)
	assert.False(t, h.recorder.entries[0].Authorized)
	assert.Equal(t, authz.ServiceKeysCreate, h.recorder.entries[0].Action)
}

func TestSignAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := operatorActor()
	dir := t.TempDir()

	_, err := h.service.Create(ctx, actor, "acc-1")
	require.NoError(t, err)

	path := writeTestFile(t, dir, "report.txt", []byte("quarterly inventory report"))

	signaturePath, err := h.service.SignFile(ctx, actor, "acc-1", path)
	require.NoError(t, err)
	assert.Equal(t, path+".sig", signaturePath)

	t.Run("valid_signature", func(t *testing.T) {
		valid, err := h.service.VerifyFile(ctx, actor, "acc-1", path, signaturePath)
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("tampered_file_fails", func(t *testing.T) {
		tampered := writeTestFile(t, dir, "tampered.txt", []byte("quarterly inventory report."))
		valid, err := h.service.VerifyFile(ctx, actor, "acc-1", tampered, signaturePath)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("default_signature_path", func(t *testing.T) {
		valid, err := h.service.VerifyFile(ctx, actor, "acc-1", path, "")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("rotation_invalidates_signature", func(t *testing.T) {
		require.NoError(t, h.service.Remove(ctx, actor, "acc-1"))
		_, err := h.service.Create(ctx, actor, "acc-1")
		require.NoError(t, err)

		valid, err := h.service.VerifyFile(ctx, actor, "acc-1", path, signaturePath)
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestSignFile_MissingKeyPair(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "orphan.txt", []byte("no key pair for this one"))

	_, err := h.service.SignFile(context.Background(), operatorActor(), "acc-absent", path)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperr.As(err).Code)
}

func TestEncryptAndDecrypt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := operatorActor()
	dir := t.TempDir()

	_, err := h.service.Create(ctx, actor, "acc-1")
	require.NoError(t, err)

	clearPayload := []byte("serial numbers and warranty terms")
	path := writeTestFile(t, dir, "assets.csv", clearPayload)

	cipherPath, err := h.service.EncryptFile(ctx, actor, "acc-1", path)
	require.NoError(t, err)
	assert.Equal(t, path+".enc", cipherPath)

	envelope, err := os.ReadFile(cipherPath)
	require.NoError(t, err)
	assert.NotContains(t, string(envelope), "serial numbers")

	t.Run("roundtrip", func(t *testing.T) {
		// Drop the clear file so the decryption output is unambiguous.
		require.NoError(t, os.Remove(path))

		clearPath, err := h.service.DecryptFile(ctx, actor, "acc-1", cipherPath)
		require.NoError(t, err)
		assert.Equal(t, path, clearPath)

		recovered, err := os.ReadFile(clearPath)
		require.NoError(t, err)
		assert.Equal(t, clearPayload, recovered)
	})

	t.Run("wrong_key_pair_fails", func(t *testing.T) {
		_, err := h.service.Create(ctx, actor, "acc-2")
		require.NoError(t, err)

		_, err = h.service.DecryptFile(ctx, actor, "acc-2", cipherPath)
		require.Error(t, err)
		assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)
	})

	t.Run("corrupted_envelope_fails", func(t *testing.T) {
		envelope[len(envelope)-1] ^= 0xFF
		corruptPath := writeTestFile(t, dir, "corrupt.enc", envelope)

		_, err := h.service.DecryptFile(ctx, actor, "acc-1", corruptPath)
		require.Error(t, err)
		assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)
	})
}

func TestFileOps_AuditUnconditionally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	actor := operatorActor()

	// A sign attempt against a missing file still lands in the audit trail.
	_, err := h.service.Create(ctx, actor, "acc-1")
	require.NoError(t, err)
	h.recorder.entries = nil

	_, err = h.service.SignFile(ctx, actor, "acc-1", "/nonexistent/path.txt")
	require.Error(t, err)

	require.Len(t, h.recorder.entries, 1)
	entry := h.recorder.entries[0]
	assert.Equal(t, authz.ServiceFileSign, entry.Action)
	assert.True(t, entry.Authorized)
}
