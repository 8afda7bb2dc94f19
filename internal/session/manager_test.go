// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package session_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billora/billora/internal/account"
	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
	"github.com/billora/billora/internal/session"
	"github.com/billora/billora/pkg/pointer"
)

// feedbackTTL is kept short so expiry tests run in milliseconds; the margins
// below stay wide relative to it to avoid timing flakes.
const feedbackTTL = 200 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// # Fakes

// stubGateway is a minimal scriptable identity.Gateway with an event bus.
type stubGateway struct {
	mu sync.Mutex

	ident *identity.Identity
	sess  *identity.Session

	signInErr error

	listeners  map[int]func(identity.ChangeEvent)
	nextID     int
	unsubCount int
}

func newStubGateway() *stubGateway {
	return &stubGateway{listeners: map[int]func(identity.ChangeEvent){}}
}

// emit broadcasts an identity-change event to all subscribers.
func (gw *stubGateway) emit(event identity.ChangeEvent) {
	gw.mu.Lock()
	gw.ident = event.Identity
	gw.sess = event.Session
	callbacks := make([]func(identity.ChangeEvent), 0, len(gw.listeners))
	for _, cb := range gw.listeners {
		callbacks = append(callbacks, cb)
	}
	gw.mu.Unlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

func (gw *stubGateway) SignUp(_ context.Context, email, _ string, _ map[string]string) (*identity.AuthResponse, error) {
	ident := &identity.Identity{ID: "id-1", Email: email}
	sess := &identity.Session{IdentityID: "id-1", AccessToken: "token", TokenType: "Bearer"}
	gw.mu.Lock()
	gw.ident, gw.sess = ident, sess
	gw.mu.Unlock()
	return &identity.AuthResponse{Identity: ident, Session: sess}, nil
}

func (gw *stubGateway) SignIn(_ context.Context, email, _ string) (*identity.AuthResponse, error) {
	if gw.signInErr != nil {
		return nil, gw.signInErr
	}
	return gw.SignUp(context.Background(), email, "", nil)
}

func (gw *stubGateway) SignInWithMagicLink(_ context.Context, _ string) error { return nil }

func (gw *stubGateway) SignOut(_ context.Context) error {
	gw.mu.Lock()
	gw.ident, gw.sess = nil, nil
	gw.mu.Unlock()
	return nil
}

func (gw *stubGateway) ResetPasswordForEmail(_ context.Context, _, _ string) error { return nil }

func (gw *stubGateway) UpdatePassword(_ context.Context, _ string) (*identity.Identity, error) {
	return gw.CurrentIdentity(), nil
}

func (gw *stubGateway) ChangeEmail(_ context.Context, _ string) (*identity.Identity, error) {
	return gw.CurrentIdentity(), nil
}

func (gw *stubGateway) CurrentIdentity() *identity.Identity {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.ident
}

func (gw *stubGateway) CurrentSession() *identity.Session {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.sess
}

func (gw *stubGateway) OnIdentityChange(callback func(identity.ChangeEvent)) func() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	id := gw.nextID
	gw.nextID++
	gw.listeners[id] = callback

	return func() {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		if _, ok := gw.listeners[id]; ok {
			delete(gw.listeners, id)
			gw.unsubCount++
		}
	}
}

func (gw *stubGateway) VerifyEmailToken(_ context.Context, _ string) (*identity.AuthResponse, error) {
	return gw.SignUp(context.Background(), "verified@x.com", "", nil)
}

func (gw *stubGateway) ResendConfirmation(_ context.Context, _ string) error { return nil }

func (gw *stubGateway) DeleteIdentity(_ context.Context, _ string) error {
	return gw.SignOut(context.Background())
}

// stubStore is an in-memory profile.Store for manager tests.
type stubStore struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
}

func newStubStore() *stubStore {
	return &stubStore{profiles: map[string]*profile.Profile{}}
}

func (store *stubStore) FetchByID(_ context.Context, identityID string) (*profile.Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.profiles[identityID]
	if !ok {
		return nil, apperr.NotFound("Profile")
	}
	return record, nil
}

func (store *stubStore) Insert(_ context.Context, record *profile.Profile) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.profiles[record.ID]; exists {
		return apperr.Conflict("Profile already exists")
	}
	store.profiles[record.ID] = record
	return nil
}

func (store *stubStore) Update(_ context.Context, identityID string, fields profile.UpdateFields) (*profile.Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.profiles[identityID]
	if !ok {
		return nil, apperr.NotFound("Profile")
	}
	if fields.FullName != nil {
		record.FullName = *fields.FullName
	}
	if fields.CompanyName != nil {
		record.CompanyName = *fields.CompanyName
	}
	return record, nil
}

func (store *stubStore) CallCreateProcedure(_ context.Context, identityID, email, fullName, companyName string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.profiles[identityID]; exists {
		return false, nil
	}
	store.profiles[identityID] = &profile.Profile{ID: identityID, Email: email, FullName: fullName, CompanyName: companyName}
	return true, nil
}

// newTestManager wires a manager over the stubs with near-zero reconciler waits.
func newTestManager(t *testing.T, gateway *stubGateway) (*session.Manager, *stubStore) {
	t.Helper()
	store := newStubStore()
	reconciler := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())
	accounts := account.NewService(gateway, reconciler, nil, nil, discardLogger())
	manager := session.NewManager(gateway, accounts, store, feedbackTTL, discardLogger())
	t.Cleanup(manager.Close)
	return manager, store
}

// # Tests

/*
TestManager_InitialStateFromGateway verifies that construction reads the
current session without setting the loading flag.
*/
func TestManager_InitialStateFromGateway(t *testing.T) {
	gateway := newStubGateway()
	gateway.ident = &identity.Identity{ID: "id-1", Email: "a@b.com"}
	gateway.sess = &identity.Session{IdentityID: "id-1", AccessToken: "token"}

	manager, _ := newTestManager(t, gateway)

	snap := manager.State()
	require.NotNil(t, snap.Identity)
	require.NotNil(t, snap.Session)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Success)
}

/*
TestManager_SignIn_SuccessEnvelope verifies the uniform envelope: loading
cleared, success set, identity and session updated together.
*/
func TestManager_SignIn_SuccessEnvelope(t *testing.T) {
	gateway := newStubGateway()
	manager, store := newTestManager(t, gateway)
	store.profiles["id-1"] = &profile.Profile{ID: "id-1", Email: "a@b.com", FullName: "Jane"}

	user, err := manager.SignIn(context.Background(), "a@b.com", "pw123456")

	require.NoError(t, err)
	assert.Equal(t, "Jane", user.Name)

	snap := manager.State()
	assert.False(t, snap.Loading)
	assert.Equal(t, session.MsgSignedIn, snap.Success)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Identity)
	require.NotNil(t, snap.Session)
	assert.Equal(t, snap.Identity.ID, snap.Session.IdentityID)
}

/*
TestManager_SignIn_FailureEnvelope verifies that a failed operation stores
the client-safe message in the error slot and clears success.
*/
func TestManager_SignIn_FailureEnvelope(t *testing.T) {
	gateway := newStubGateway()
	gateway.signInErr = apperr.InvalidCredentials(identity.MsgInvalidCredentials)
	manager, _ := newTestManager(t, gateway)

	_, err := manager.SignIn(context.Background(), "a@b.com", "wrong")

	require.Error(t, err)
	snap := manager.State()
	assert.False(t, snap.Loading)
	assert.Equal(t, account.MsgLoginFailed, snap.Error)
	assert.Empty(t, snap.Success)
}

/*
TestManager_MessageAutoExpires verifies that a success message clears after
the configured window absent further operations.
*/
func TestManager_MessageAutoExpires(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	require.NoError(t, manager.SignOut(context.Background()))
	assert.Equal(t, session.MsgSignedOut, manager.State().Success)

	assert.Eventually(t, func() bool {
		return manager.State().Success == ""
	}, 5*feedbackTTL, feedbackTTL/10)
}

/*
TestManager_NewMessageSupersedes verifies that a newer message cancels the
pending expiry of the previous one and lives out its own full window.
*/
func TestManager_NewMessageSupersedes(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	require.NoError(t, manager.SignOut(context.Background()))

	// Halfway through the first message's window, replace it.
	time.Sleep(feedbackTTL / 2)
	require.NoError(t, manager.ResendConfirmation(context.Background(), "a@b.com"))

	// Past the first message's original deadline the second must survive.
	time.Sleep(feedbackTTL * 3 / 4)
	assert.Equal(t, session.MsgConfirmationSent, manager.State().Success)

	assert.Eventually(t, func() bool {
		return manager.State().Success == ""
	}, 5*feedbackTTL, feedbackTTL/10)
}

/*
TestManager_ClearFeedback verifies manual dismissal of both message slots.
*/
func TestManager_ClearFeedback(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	require.NoError(t, manager.SignOut(context.Background()))
	manager.ClearSuccess()
	assert.Empty(t, manager.State().Success)

	gateway.signInErr = apperr.InvalidCredentials(identity.MsgInvalidCredentials)
	_, _ = manager.SignIn(context.Background(), "a@b.com", "wrong")
	manager.ClearError()
	assert.Empty(t, manager.State().Error)
}

/*
TestManager_SubscribeAndUnsubscribe verifies that subscribers receive the
current snapshot immediately and nothing after unsubscribing.
*/
func TestManager_SubscribeAndUnsubscribe(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	var mu sync.Mutex
	var snapshots []session.Snapshot

	unsubscribe := manager.Subscribe(func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, snap)
	})

	mu.Lock()
	require.Len(t, snapshots, 1)
	mu.Unlock()

	require.NoError(t, manager.SignOut(context.Background()))

	mu.Lock()
	seen := len(snapshots)
	mu.Unlock()
	assert.Greater(t, seen, 1)

	unsubscribe()
	unsubscribe() // safe to call twice

	require.NoError(t, manager.ResendConfirmation(context.Background(), "a@b.com"))

	mu.Lock()
	assert.Len(t, snapshots, seen) // unchanged after unsubscribe
	mu.Unlock()
}

/*
TestManager_GatewayEventUpdatesPairAtomically verifies that an external
identity change updates identity and session together.
*/
func TestManager_GatewayEventUpdatesPairAtomically(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	var mu sync.Mutex
	var observed []session.Snapshot
	manager.Subscribe(func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, snap)
	})

	ident := &identity.Identity{ID: "id-9", Email: "ext@x.com"}
	sess := &identity.Session{IdentityID: "id-9", AccessToken: "token"}
	gateway.emit(identity.ChangeEvent{Type: identity.EventSignedIn, Identity: ident, Session: sess})

	snap := manager.State()
	require.NotNil(t, snap.Identity)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "id-9", snap.Identity.ID)
	assert.Equal(t, "id-9", snap.Session.IdentityID)

	// No observer ever saw the new identity without its session.
	mu.Lock()
	defer mu.Unlock()
	for _, observedSnap := range observed {
		if observedSnap.Identity != nil && observedSnap.Identity.ID == "id-9" {
			require.NotNil(t, observedSnap.Session)
			assert.Equal(t, "id-9", observedSnap.Session.IdentityID)
		}
	}
}

/*
TestManager_CloseIdempotent verifies that teardown is synchronous, safe to
repeat, and stops all state updates.
*/
func TestManager_CloseIdempotent(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	manager.Close()
	manager.Close()

	assert.Equal(t, 1, func() int {
		gateway.mu.Lock()
		defer gateway.mu.Unlock()
		return gateway.unsubCount
	}())

	// Operations after teardown resolve as no-ops on the state holder.
	require.NoError(t, manager.SignOut(context.Background()))
	assert.Empty(t, manager.State().Success)

	// An external event after teardown is also ignored.
	gateway.emit(identity.ChangeEvent{Type: identity.EventSignedIn,
		Identity: &identity.Identity{ID: "id-9"},
		Session:  &identity.Session{IdentityID: "id-9"},
	})
	assert.Nil(t, manager.State().Identity)
}

/*
TestManager_UpdateProfile verifies the wrapped profile mutation path.
*/
func TestManager_UpdateProfile(t *testing.T) {
	gateway := newStubGateway()
	gateway.ident = &identity.Identity{ID: "id-1", Email: "a@b.com"}
	manager, store := newTestManager(t, gateway)
	store.profiles["id-1"] = &profile.Profile{ID: "id-1", Email: "a@b.com", FullName: "Jane"}

	record, err := manager.UpdateProfile(context.Background(), profile.UpdateFields{FullName: pointer.To("Jane Doe")})

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", record.FullName)
	assert.Equal(t, session.MsgProfileUpdated, manager.State().Success)
}

/*
TestManager_UpdateProfile_RequiresSession verifies the guard when no
identity is signed in.
*/
func TestManager_UpdateProfile_RequiresSession(t *testing.T) {
	gateway := newStubGateway()
	manager, _ := newTestManager(t, gateway)

	_, err := manager.UpdateProfile(context.Background(), profile.UpdateFields{FullName: pointer.To("Jane Doe")})

	require.Error(t, err)
	assert.Equal(t, identity.MsgSessionRequired, manager.State().Error)
}
