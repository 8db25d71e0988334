// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package credential_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/credential"
	"github.com/castellan/castellan/internal/platform/apperr"
)

// Fast parameters for tests; production iteration counts would make the
// suite crawl without adding coverage.
func newTestEngine() *credential.Engine {
	return credential.NewEngine(16, 1000, 32)
}

/*
TestEngine_Derive_Deterministic tests that identical inputs always produce
identical hashes.
*/
func TestEngine_Derive_Deterministic(t *testing.T) {
	engine := newTestEngine()

	salt, err := engine.GenerateSalt()
	require.NoError(t, err)

	first, err := engine.Derive("correct horse battery staple", salt)
	require.NoError(t, err)

	second, err := engine.Derive("correct horse battery staple", salt)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

/*
TestEngine_Derive_DistinctSecrets tests that different secrets never collide
under the same salt.
*/
func TestEngine_Derive_DistinctSecrets(t *testing.T) {
	engine := newTestEngine()

	salt, err := engine.GenerateSalt()
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret1 string
		secret2 string
	}{
		{"completely_different", "alpha", "bravo"},
		{"case_difference", "Password1", "password1"},
		{"trailing_space", "secret", "secret "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash1, err := engine.Derive(tt.secret1, salt)
			require.NoError(t, err)

			hash2, err := engine.Derive(tt.secret2, salt)
			require.NoError(t, err)

			assert.NotEqual(t, hash1, hash2)
		})
	}
}

/*
TestEngine_Derive_RejectsEmptySecret tests that empty secret material is a
validation failure, never a silent hash of nothing.
*/
func TestEngine_Derive_RejectsEmptySecret(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Derive("", "deadbeef")
	require.Error(t, err)

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "VALIDATION_ERROR", ae.Code)
}

/*
TestEngine_GenerateSalt tests salt length and uniqueness across calls.
*/
func TestEngine_GenerateSalt(t *testing.T) {
	engine := newTestEngine()

	salt1, err := engine.GenerateSalt()
	require.NoError(t, err)

	salt2, err := engine.GenerateSalt()
	require.NoError(t, err)

	// 16 random bytes hex-encode to 32 characters.
	assert.Len(t, salt1, 32)
	assert.Len(t, salt2, 32)
	assert.NotEqual(t, salt1, salt2)
}

/*
TestEngine_Matches tests the constant-time comparison helper.
*/
func TestEngine_Matches(t *testing.T) {
	engine := newTestEngine()

	salt, err := engine.GenerateSalt()
	require.NoError(t, err)

	hash, err := engine.Derive("s3cret", salt)
	require.NoError(t, err)

	ok, err := engine.Matches("s3cret", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Matches("wrong", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

/*
TestPurpose_RoundTrip tests the storage string mapping of the purpose enum.
*/
func TestPurpose_RoundTrip(t *testing.T) {
	for _, purpose := range []credential.Purpose{
		credential.PurposeLogin,
		credential.PurposeReset,
		credential.PurposeAuthToken,
	} {
		parsed, err := credential.ParsePurpose(purpose.String())
		require.NoError(t, err)
		assert.Equal(t, purpose, parsed)
		assert.True(t, purpose.IsValid())
	}

	_, err := credential.ParsePurpose("bogus")
	assert.Error(t, err)
	assert.False(t, credential.Purpose(0).IsValid())
}
