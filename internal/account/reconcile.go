// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

// ErrProfileNotReady reports that the profile row still does not exist after
// both reconciliation waits. It is consumed by the account service's fallback
// chain and never surfaces to callers of Login/Register.
var ErrProfileNotReady = errors.New("account_profile_not_ready")

// # Profile Reconciliation Engine

// Reconciler guarantees that a profile record exists for an authenticated
// identity, despite the asynchronous (and sometimes slow or disabled)
// database trigger that normally materializes it.
//
// Reconciler is stateless and safe for concurrent use. Concurrent attempts
// for the same identity are tolerated because every creation path is
// idempotent on the identity id.
type Reconciler struct {
	store        profile.Store
	initialDelay time.Duration
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewReconciler creates a reconciliation engine over the given profile store.
//
// initialDelay is the grace period granted to the creation trigger before the
// first fetch; retryDelay precedes the single re-check.
func NewReconciler(store profile.Store, initialDelay, retryDelay time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		initialDelay: initialDelay,
		retryDelay:   retryDelay,
		logger:       logger,
	}
}

/*
Reconcile returns the profile for identityID, waiting out trigger latency.

Description: Two-stage wait-then-recheck. The engine must not falsely report
absence while the trigger is merely slow, but also must not block
indefinitely: one initial wait, one fetch, one longer wait, one re-fetch,
then the caller decides remediation.

Parameters:
  - ctx: context.Context (cancelling it aborts either wait)
  - identityID: string

Returns:
  - *profile.Profile: The existing profile
  - error: ErrProfileNotReady when both fetches report absence;
    apperr.StoreUnavailable for transport failures (never retried here);
    ctx.Err wrapped when the caller abandoned the operation
*/
func (engine *Reconciler) Reconcile(ctx context.Context, identityID string) (*profile.Profile, error) {

	// ── 1. Grace period for the creation trigger ──────────────────────────
	if err := engine.wait(ctx, engine.initialDelay); err != nil {
		return nil, err
	}

	record, err := engine.store.FetchByID(ctx, identityID)
	if err == nil {
		// Common case: the trigger already ran.
		return record, nil
	}
	if !apperr.IsNotFound(err) {
		// Transport or auth failure, not absence. Not retried at this layer.
		return nil, err
	}

	// ── 2. Second, longer wait for a slow trigger ─────────────────────────
	engine.logger.Info("profile_reconcile_retry",
		slog.String("identity_id", identityID),
		slog.Duration("retry_delay", engine.retryDelay),
	)

	if err := engine.wait(ctx, engine.retryDelay); err != nil {
		return nil, err
	}

	record, err = engine.store.FetchByID(ctx, identityID)
	if err == nil {
		return record, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	// Still absent after both windows. Caller decides remediation.
	return nil, ErrProfileNotReady
}

/*
CreateViaProcedure provisions a profile through the server-side upsert.

Description: Preferred fallback path. The procedure is safe to call even if
the trigger has already created the row; the profile is re-fetched afterwards
so the caller always receives the canonical row.

Parameters:
  - ctx: context.Context
  - identityID, email, fullName, companyName: profile seed values

Returns:
  - *profile.Profile: The freshly fetched profile
  - error: Procedure or fetch failures
*/
func (engine *Reconciler) CreateViaProcedure(ctx context.Context, identityID, email, fullName, companyName string) (*profile.Profile, error) {
	created, err := engine.store.CallCreateProcedure(ctx, identityID, email, fullName, companyName)
	if err != nil {
		return nil, fmt.Errorf("account_reconcile_procedure_failed: %w", err)
	}

	engine.logger.Info("profile_created_via_procedure",
		slog.String("identity_id", identityID),
		slog.Bool("row_created", created),
	)

	return engine.store.FetchByID(ctx, identityID)
}

/*
CreateViaInsert provisions a profile through a direct insert.

Description: Last-resort path. A duplicate-key rejection means the row
already exists (the trigger or a concurrent attempt won the race) and is
treated as success by re-fetching.

Parameters:
  - ctx: context.Context
  - identityID, email, fullName, companyName: profile seed values

Returns:
  - *profile.Profile: The inserted (or pre-existing) profile
  - error: Insert or fetch failures other than duplicate key
*/
func (engine *Reconciler) CreateViaInsert(ctx context.Context, identityID, email, fullName, companyName string) (*profile.Profile, error) {
	record := &profile.Profile{
		ID:          identityID,
		Email:       email,
		FullName:    fullName,
		CompanyName: companyName,
	}

	err := engine.store.Insert(ctx, record)
	if err != nil {
		appError := apperr.As(err)
		if appError == nil || appError.Code != "CONFLICT" {
			return nil, fmt.Errorf("account_reconcile_insert_failed: %w", err)
		}
		// Row already exists: idempotent success.
		engine.logger.Info("profile_insert_raced_existing_row",
			slog.String("identity_id", identityID),
		)
		return engine.store.FetchByID(ctx, identityID)
	}

	engine.logger.Info("profile_created_via_insert",
		slog.String("identity_id", identityID),
	)

	return record, nil
}

// wait blocks for delay or until ctx is cancelled. An abandoned operation
// resolves as a no-op error instead of crashing or leaking the timer.
func (engine *Reconciler) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("account_reconcile_wait_cancelled: %w", ctx.Err())
	}
}
