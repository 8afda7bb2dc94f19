// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billora/billora/internal/account"
	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

// compensationRecorder captures compensation hook invocations.
type compensationRecorder struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (rec *compensationRecorder) hook(identityID string, deleteErr error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, identityID)
	rec.errs = append(rec.errs, deleteErr)
}

// newTestService wires a service over the fakes with near-zero reconciler
// waits so tests never sleep through real provisioning windows.
func newTestService(gateway *fakeGateway, store *fakeStore, order []account.FallbackPath, hook account.CompensationHook) *account.Service {
	reconciler := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())
	return account.NewService(gateway, reconciler, order, hook, discardLogger())
}

func authResponse(identityID, email string) *identity.AuthResponse {
	return &identity.AuthResponse{
		Identity: &identity.Identity{
			ID:    identityID,
			Email: email,
			Metadata: map[string]string{
				account.MetaFullName:    "Jane",
				account.MetaCompanyName: "Acme",
			},
		},
		Session: &identity.Session{IdentityID: identityID, AccessToken: "token", TokenType: "Bearer"},
	}
}

/*
TestService_Register_TriggerFast covers the happy path where the creation
trigger materialized the profile before the first fetch.
*/
func TestService_Register_TriggerFast(t *testing.T) {
	gateway := &fakeGateway{signUpResp: authResponse("id-1", "new@x.com")}
	store := newFakeStore()
	store.seed(&profile.Profile{ID: "id-1", Email: "new@x.com", FullName: "Jane", CompanyName: "Acme"})

	service := newTestService(gateway, store, nil, nil)

	user, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)
	assert.Equal(t, "Acme", user.Company)
	assert.Empty(t, store.procedureCalls)
	assert.Equal(t, 0, store.insertCalls)
}

/*
TestService_Register_ProcedureFallback verifies that a missing profile is
provisioned through the remote procedure with the registration's seed values.
*/
func TestService_Register_ProcedureFallback(t *testing.T) {
	gateway := &fakeGateway{signUpResp: authResponse("id-1", "new@x.com")}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	user, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)

	require.Len(t, store.procedureCalls, 1)
	call := store.procedureCalls[0]
	assert.Equal(t, "id-1", call.identityID)
	assert.Equal(t, "new@x.com", call.email)
	assert.Equal(t, "Jane", call.fullName)
	assert.Equal(t, "Acme", call.companyName)

	assert.Empty(t, gateway.deleted)
}

/*
TestService_Register_InsertFallback verifies that a failing remote procedure
falls through to the direct insert without compensation.
*/
func TestService_Register_InsertFallback(t *testing.T) {
	gateway := &fakeGateway{signUpResp: authResponse("id-1", "new@x.com")}
	store := newFakeStore()
	store.procedureErr = apperr.StoreUnavailable(assert.AnError)

	service := newTestService(gateway, store, nil, nil)

	user, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)
	assert.Equal(t, 1, store.insertCalls)
	assert.Empty(t, gateway.deleted)
}

/*
TestService_Register_CompensatesOnTotalFailure verifies that when every
creation path fails, the identity is deleted exactly once and the caller
receives the provisioning failure.
*/
func TestService_Register_CompensatesOnTotalFailure(t *testing.T) {
	gateway := &fakeGateway{signUpResp: authResponse("id-1", "new@x.com")}
	store := newFakeStore()
	store.procedureErr = apperr.StoreUnavailable(assert.AnError)
	store.insertErr = apperr.StoreUnavailable(assert.AnError)

	recorder := &compensationRecorder{}
	service := newTestService(gateway, store, nil, recorder.hook)

	user, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	assert.Nil(t, user)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "PROFILE_CREATION_FAILED", ae.Code)
	assert.Equal(t, http.StatusInternalServerError, ae.HTTPStatus)
	assert.Equal(t, account.MsgProvisionFailed, ae.Message)

	assert.Equal(t, []string{"id-1"}, gateway.deleted)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "id-1", recorder.calls[0])
	assert.NoError(t, recorder.errs[0])
}

/*
TestService_Register_CompensationFailureDoesNotChangeResult verifies that a
failing compensating delete is reported to the hook but the caller still
sees the provisioning failure, unchanged.
*/
func TestService_Register_CompensationFailureDoesNotChangeResult(t *testing.T) {
	gateway := &fakeGateway{
		signUpResp: authResponse("id-1", "new@x.com"),
		deleteErr:  apperr.StoreUnavailable(assert.AnError),
	}
	store := newFakeStore()
	store.procedureErr = apperr.StoreUnavailable(assert.AnError)
	store.insertErr = apperr.StoreUnavailable(assert.AnError)

	recorder := &compensationRecorder{}
	service := newTestService(gateway, store, nil, recorder.hook)

	_, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "PROFILE_CREATION_FAILED", ae.Code)

	require.Len(t, recorder.errs, 1)
	assert.Error(t, recorder.errs[0])
}

/*
TestService_Register_MapsAlreadyRegistered verifies the 409 mapping for
duplicate sign-ups.
*/
func TestService_Register_MapsAlreadyRegistered(t *testing.T) {
	gateway := &fakeGateway{signUpErr: apperr.AlreadyRegistered(identity.MsgAlreadyRegistered)}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	_, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, http.StatusConflict, ae.HTTPStatus)
	assert.Equal(t, account.MsgEmailTaken, ae.Message)
}

/*
TestService_Login_ValidationBeforeGateway verifies that empty credentials
are rejected locally, without any gateway call.
*/
func TestService_Login_ValidationBeforeGateway(t *testing.T) {
	gateway := &fakeGateway{}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	_, err := service.Login(context.Background(), "", "pw")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, http.StatusBadRequest, ae.HTTPStatus)
	assert.Equal(t, 0, gateway.signInCalls)
}

/*
TestService_Login_MapsInvalidCredentials verifies the 401 mapping and that
no reconciliation is attempted after a failed sign-in.
*/
func TestService_Login_MapsInvalidCredentials(t *testing.T) {
	gateway := &fakeGateway{signInErr: apperr.InvalidCredentials(identity.MsgInvalidCredentials)}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	_, err := service.Login(context.Background(), "a@b.com", "wrong")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, http.StatusUnauthorized, ae.HTTPStatus)
	assert.Equal(t, account.MsgLoginFailed, ae.Message)
	assert.Equal(t, 0, store.fetchCalls)
}

/*
TestService_Login_NeverCompensates verifies that a login whose fallback
chain fails entirely still never deletes the identity: it existed before the
call and remains valid.
*/
func TestService_Login_NeverCompensates(t *testing.T) {
	gateway := &fakeGateway{signInResp: authResponse("id-1", "a@b.com")}
	store := newFakeStore()
	store.procedureErr = apperr.StoreUnavailable(assert.AnError)
	store.insertErr = apperr.StoreUnavailable(assert.AnError)

	recorder := &compensationRecorder{}
	service := newTestService(gateway, store, nil, recorder.hook)

	_, err := service.Login(context.Background(), "a@b.com", "pw123456")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "PROFILE_CREATION_FAILED", ae.Code)

	assert.Empty(t, gateway.deleted)
	assert.Empty(t, recorder.calls)
}

/*
TestService_Login_ProvisionsMissingProfile verifies that login repairs a
missing profile from the identity's metadata.
*/
func TestService_Login_ProvisionsMissingProfile(t *testing.T) {
	gateway := &fakeGateway{signInResp: authResponse("id-1", "a@b.com")}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	user, err := service.Login(context.Background(), "a@b.com", "pw123456")

	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)
	require.Len(t, store.procedureCalls, 1)
	assert.Equal(t, "Jane", store.procedureCalls[0].fullName)
}

/*
TestService_Login_NoIdentityInResponse verifies the defensive 500 when the
gateway reports success without an identity.
*/
func TestService_Login_NoIdentityInResponse(t *testing.T) {
	gateway := &fakeGateway{signInResp: &identity.AuthResponse{}}
	store := newFakeStore()

	service := newTestService(gateway, store, nil, nil)

	_, err := service.Login(context.Background(), "a@b.com", "pw123456")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, http.StatusInternalServerError, ae.HTTPStatus)
}

/*
TestService_FallbackOrderConfigurable verifies that a reversed ordering
tries the direct insert before the remote procedure.
*/
func TestService_FallbackOrderConfigurable(t *testing.T) {
	gateway := &fakeGateway{signUpResp: authResponse("id-1", "new@x.com")}
	store := newFakeStore()

	order := []account.FallbackPath{account.PathInsert, account.PathProcedure}
	service := newTestService(gateway, store, order, nil)

	_, err := service.Register(context.Background(), "new@x.com", "pw123456", "Jane", "Acme")

	require.NoError(t, err)
	assert.Equal(t, 1, store.insertCalls)
	assert.Empty(t, store.procedureCalls)
}

/*
TestParseFallbackOrder checks the comma-separated policy parsing.
*/
func TestParseFallbackOrder(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []account.FallbackPath
	}{
		{"default_order", "procedure,insert", []account.FallbackPath{account.PathProcedure, account.PathInsert}},
		{"reversed", "insert,procedure", []account.FallbackPath{account.PathInsert, account.PathProcedure}},
		{"single_path", "insert", []account.FallbackPath{account.PathInsert}},
		{"whitespace", " procedure , insert ", []account.FallbackPath{account.PathProcedure, account.PathInsert}},
		{"unknown_entries_dropped", "procedure,bogus", []account.FallbackPath{account.PathProcedure}},
		{"empty_falls_back_to_default", "", account.DefaultFallbackOrder},
		{"garbage_falls_back_to_default", "bogus", account.DefaultFallbackOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, account.ParseFallbackOrder(tt.value))
		})
	}
}
