// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billora/billora/internal/account"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

/*
TestReconciler_TriggerAlreadyRan covers the common case: the profile exists
by the time the first fetch happens.
*/
func TestReconciler_TriggerAlreadyRan(t *testing.T) {
	store := newFakeStore()
	store.seed(&profile.Profile{ID: "id-1", Email: "jane@acme.test", FullName: "Jane"})

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	record, err := engine.Reconcile(context.Background(), "id-1")

	require.NoError(t, err)
	assert.Equal(t, "Jane", record.FullName)
	assert.Equal(t, 1, store.fetchCalls)
}

/*
TestReconciler_ConvergesOnSlowTrigger verifies that a profile materialized
inside the second wait window is returned instead of a not-ready report.
*/
func TestReconciler_ConvergesOnSlowTrigger(t *testing.T) {
	store := newFakeStore()
	store.seedAfter(30*time.Millisecond, &profile.Profile{ID: "id-1", Email: "jane@acme.test", FullName: "Jane"})

	engine := account.NewReconciler(store, 5*time.Millisecond, 60*time.Millisecond, discardLogger())

	record, err := engine.Reconcile(context.Background(), "id-1")

	require.NoError(t, err)
	assert.Equal(t, "id-1", record.ID)
	assert.Equal(t, 2, store.fetchCalls)
}

/*
TestReconciler_ProfileNotReady verifies that absence after both windows is
reported with the internal sentinel, after exactly two fetches.
*/
func TestReconciler_ProfileNotReady(t *testing.T) {
	store := newFakeStore()

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	record, err := engine.Reconcile(context.Background(), "id-1")

	require.ErrorIs(t, err, account.ErrProfileNotReady)
	assert.Nil(t, record)
	assert.Equal(t, 2, store.fetchCalls)
}

/*
TestReconciler_StoreUnavailableNotRetried verifies that a transport error is
returned immediately, without a second fetch.
*/
func TestReconciler_StoreUnavailableNotRetried(t *testing.T) {
	store := newFakeStore()
	store.fetchErr = apperr.StoreUnavailable(assert.AnError)

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	_, err := engine.Reconcile(context.Background(), "id-1")

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "STORE_UNAVAILABLE", ae.Code)
	assert.Equal(t, 1, store.fetchCalls)
}

/*
TestReconciler_WaitCancellable verifies that cancelling the context during a
wait resolves as an error, not a hang or a panic.
*/
func TestReconciler_WaitCancellable(t *testing.T) {
	store := newFakeStore()

	engine := account.NewReconciler(store, time.Hour, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := engine.Reconcile(ctx, "id-1")
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, store.fetchCalls)
	case <-time.After(time.Second):
		t.Fatal("reconcile did not honor context cancellation")
	}
}

/*
TestReconciler_CreateViaInsert_Idempotent verifies that a duplicate-key
rejection is treated as success by re-fetching the existing row.
*/
func TestReconciler_CreateViaInsert_Idempotent(t *testing.T) {
	store := newFakeStore()

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	first, err := engine.CreateViaInsert(context.Background(), "id-1", "jane@acme.test", "Jane", "Acme")
	require.NoError(t, err)

	second, err := engine.CreateViaInsert(context.Background(), "id-1", "jane@acme.test", "Jane", "Acme")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, store.insertCalls)
}

/*
TestReconciler_CreateViaInsert_RejectedOutright verifies that non-duplicate
insert failures are surfaced.
*/
func TestReconciler_CreateViaInsert_RejectedOutright(t *testing.T) {
	store := newFakeStore()
	store.insertErr = apperr.StoreUnavailable(assert.AnError)

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	_, err := engine.CreateViaInsert(context.Background(), "id-1", "jane@acme.test", "Jane", "")
	require.Error(t, err)

	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, "STORE_UNAVAILABLE", ae.Code)
}

/*
TestReconciler_CreateViaProcedure_Idempotent verifies that calling the
server-side upsert twice yields the same logical profile without error.
*/
func TestReconciler_CreateViaProcedure_Idempotent(t *testing.T) {
	store := newFakeStore()

	engine := account.NewReconciler(store, time.Millisecond, time.Millisecond, discardLogger())

	first, err := engine.CreateViaProcedure(context.Background(), "id-1", "jane@acme.test", "Jane", "Acme")
	require.NoError(t, err)

	second, err := engine.CreateViaProcedure(context.Background(), "id-1", "jane@acme.test", "Jane", "Acme")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, store.procedureCalls, 2)
	assert.Equal(t, "Acme", store.procedureCalls[0].companyName)
}
