// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal/identity/audit"
	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/sec"
)

// captureRecorder collects audit entries synchronously for assertions.
type captureRecorder struct {
	entries []audit.Entry
}

func (recorder *captureRecorder) Record(_ context.Context, entry audit.Entry) {
	recorder.entries = append(recorder.entries, entry)
}

/*
TestGuard_Run_Denied tests that a gate denial emits exactly one
authorized=false entry and never invokes the operation body.
*/
func TestGuard_Run_Denied(t *testing.T) {
	recorder := &captureRecorder{}
	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	invoked := false
	err := guard.Run(context.Background(), authz.ServiceAccountDelete,
		authz.Actor{ID: "viewer-1", Role: sec.RoleViewer}, "target=acc-9",
		func(ctx context.Context) error {
			invoked = true
			return nil
		})

	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)
	assert.False(t, invoked)

	require.Len(t, recorder.entries, 1)
	assert.False(t, recorder.entries[0].Authorized)
	assert.Equal(t, authz.ServiceAccountDelete, recorder.entries[0].Action)
}

/*
TestGuard_Run_Approved tests the happy path: the body runs and exactly one
authorized=true entry is emitted.
*/
func TestGuard_Run_Approved(t *testing.T) {
	recorder := &captureRecorder{}
	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	invoked := false
	err := guard.Run(context.Background(), authz.ServiceAccountCreate,
		authz.Actor{ID: "mgr-1", Role: sec.RoleManager}, "",
		func(ctx context.Context) error {
			invoked = true
			return nil
		})

	require.NoError(t, err)
	assert.True(t, invoked)

	require.Len(t, recorder.entries, 1)
	assert.True(t, recorder.entries[0].Authorized)
}

/*
TestGuard_Run_ApprovedButFailed tests that the approved entry is still
emitted when the operation body fails.
*/
func TestGuard_Run_ApprovedButFailed(t *testing.T) {
	recorder := &captureRecorder{}
	guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

	bodyErr := errors.New("store down")
	err := guard.Run(context.Background(), authz.ServiceAccountSuspend,
		authz.Actor{ID: "adm-1", Role: sec.RoleAdmin}, "target=acc-3",
		func(ctx context.Context) error { return bodyErr })

	require.ErrorIs(t, err, bodyErr)

	require.Len(t, recorder.entries, 1)
	assert.True(t, recorder.entries[0].Authorized)
}

/*
TestGuard_RunSelf tests the identity-match rule for self-service operations.
*/
func TestGuard_RunSelf(t *testing.T) {
	tests := []struct {
		name      string
		actorID   string
		targetID  string
		wantRun   bool
		wantAudit bool // authorized flag of the single entry
	}{
		{"own_account", "acc-1", "acc-1", true, true},
		{"other_account", "acc-1", "acc-2", false, false},
		{"anonymous", "", "acc-2", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &captureRecorder{}
			guard := authz.NewGuard(authz.NewRoleMatrixGate(), recorder)

			invoked := false
			err := guard.RunSelf(context.Background(), authz.ServiceSelfChangePassword,
				authz.Actor{ID: tt.actorID, Role: sec.RoleViewer}, tt.targetID,
				func(ctx context.Context) error {
					invoked = true
					return nil
				})

			assert.Equal(t, tt.wantRun, invoked)
			if !tt.wantRun {
				require.Error(t, err)
				assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)
			}

			require.Len(t, recorder.entries, 1)
			assert.Equal(t, tt.wantAudit, recorder.entries[0].Authorized)
		})
	}
}

/*
TestRoleMatrixGate tests minimum-role enforcement and unknown-service denial.
*/
func TestRoleMatrixGate(t *testing.T) {
	gate := authz.NewRoleMatrixGate()

	tests := []struct {
		name      string
		serviceID string
		role      sec.Role
		want      bool
	}{
		{"admin_can_delete", authz.ServiceAccountDelete, sec.RoleAdmin, true},
		{"manager_cannot_delete", authz.ServiceAccountDelete, sec.RoleManager, false},
		{"manager_can_create", authz.ServiceAccountCreate, sec.RoleManager, true},
		{"viewer_can_list", authz.ServiceAccountList, sec.RoleViewer, true},
		{"operator_can_sign", authz.ServiceFileSign, sec.RoleOperator, true},
		{"viewer_cannot_sign", authz.ServiceFileSign, sec.RoleViewer, false},
		{"unknown_service_denied", "account.drop_table", sec.RoleAdmin, false},
		{"invalid_role_denied", authz.ServiceAccountList, sec.Role("ghost"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.IsAuthorized(tt.serviceID, tt.role))
		})
	}
}
