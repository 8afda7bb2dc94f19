// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

// discardLogger swallows all log output during tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// # Fake Profile Store

type procedureCall struct {
	identityID  string
	email       string
	fullName    string
	companyName string
}

// fakeStore is an in-memory profile.Store with fault injection.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile

	fetchErr     error // overrides every FetchByID when set
	insertErr    error
	procedureErr error

	fetchCalls     int
	insertCalls    int
	procedureCalls []procedureCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[string]*profile.Profile)}
}

// seed stores a profile directly, simulating the database trigger.
func (store *fakeStore) seed(record *profile.Profile) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.profiles[record.ID] = record
}

// seedAfter stores a profile after a delay, simulating a slow trigger.
func (store *fakeStore) seedAfter(delay time.Duration, record *profile.Profile) {
	go func() {
		time.Sleep(delay)
		store.seed(record)
	}()
}

func (store *fakeStore) FetchByID(_ context.Context, identityID string) (*profile.Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.fetchCalls++
	if store.fetchErr != nil {
		return nil, store.fetchErr
	}

	record, ok := store.profiles[identityID]
	if !ok {
		return nil, apperr.NotFound("Profile")
	}
	return record, nil
}

func (store *fakeStore) Insert(_ context.Context, record *profile.Profile) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.insertCalls++
	if store.insertErr != nil {
		return store.insertErr
	}
	if _, exists := store.profiles[record.ID]; exists {
		return apperr.Conflict("Profile already exists")
	}

	store.profiles[record.ID] = record
	return nil
}

func (store *fakeStore) Update(_ context.Context, identityID string, fields profile.UpdateFields) (*profile.Profile, error) {
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

func (store *fakeStore) CallCreateProcedure(_ context.Context, identityID, email, fullName, companyName string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.procedureCalls = append(store.procedureCalls, procedureCall{
		identityID:  identityID,
		email:       email,
		fullName:    fullName,
		companyName: companyName,
	})
	if store.procedureErr != nil {
		return false, store.procedureErr
	}

	if _, exists := store.profiles[identityID]; exists {
		return false, nil
	}
	store.profiles[identityID] = &profile.Profile{
		ID:          identityID,
		Email:       email,
		FullName:    fullName,
		CompanyName: companyName,
	}
	return true, nil
}

// # Fake Identity Gateway

// fakeGateway is a scriptable identity.Gateway.
type fakeGateway struct {
	mu sync.Mutex

	signUpResp *identity.AuthResponse
	signUpErr  error
	signInResp *identity.AuthResponse
	signInErr  error
	deleteErr  error

	signUpCalls int
	signInCalls int
	deleted     []string

	currentIdentity *identity.Identity
	currentSession  *identity.Session
}

func (gw *fakeGateway) SignUp(_ context.Context, _, _ string, _ map[string]string) (*identity.AuthResponse, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.signUpCalls++
	if gw.signUpErr != nil {
		return nil, gw.signUpErr
	}
	return gw.signUpResp, nil
}

func (gw *fakeGateway) SignIn(_ context.Context, _, _ string) (*identity.AuthResponse, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.signInCalls++
	if gw.signInErr != nil {
		return nil, gw.signInErr
	}
	return gw.signInResp, nil
}

func (gw *fakeGateway) SignInWithMagicLink(_ context.Context, _ string) error { return nil }

func (gw *fakeGateway) SignOut(_ context.Context) error { return nil }

func (gw *fakeGateway) ResetPasswordForEmail(_ context.Context, _, _ string) error { return nil }

func (gw *fakeGateway) UpdatePassword(_ context.Context, _ string) (*identity.Identity, error) {
	return gw.currentIdentity, nil
}

func (gw *fakeGateway) ChangeEmail(_ context.Context, _ string) (*identity.Identity, error) {
	return gw.currentIdentity, nil
}

func (gw *fakeGateway) CurrentIdentity() *identity.Identity {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.currentIdentity
}

func (gw *fakeGateway) CurrentSession() *identity.Session {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.currentSession
}

func (gw *fakeGateway) OnIdentityChange(_ func(identity.ChangeEvent)) func() {
	return func() {}
}

func (gw *fakeGateway) VerifyEmailToken(_ context.Context, _ string) (*identity.AuthResponse, error) {
	return nil, apperr.Unauthorized("Invalid or expired token")
}

func (gw *fakeGateway) ResendConfirmation(_ context.Context, _ string) error { return nil }

func (gw *fakeGateway) DeleteIdentity(_ context.Context, identityID string) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.deleted = append(gw.deleted, identityID)
	return gw.deleteErr
}
