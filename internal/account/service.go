// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/platform/validate"
	"github.com/billora/billora/internal/profile"
)

// # Fallback Policy

// FallbackPath names one of the profile-creation remediation paths tried
// when reconciliation reports the profile missing.
type FallbackPath string

const (
	PathProcedure FallbackPath = "procedure"
	PathInsert    FallbackPath = "insert"
)

// DefaultFallbackOrder tries the server-side upsert before the raw insert.
// Both paths are idempotent on the identity id, so the ordering is policy,
// not correctness.
var DefaultFallbackOrder = []FallbackPath{PathProcedure, PathInsert}

// ParseFallbackOrder parses a comma-separated fallback ordering, e.g.
// "procedure,insert". Unknown entries are dropped; an empty or fully
// unknown value yields [DefaultFallbackOrder].
func ParseFallbackOrder(value string) []FallbackPath {
	var order []FallbackPath
	for _, part := range strings.Split(value, ",") {
		switch FallbackPath(strings.TrimSpace(part)) {
		case PathProcedure:
			order = append(order, PathProcedure)
		case PathInsert:
			order = append(order, PathInsert)
		}
	}
	if len(order) == 0 {
		return DefaultFallbackOrder
	}
	return order
}

// CompensationHook observes compensating identity deletions. deleteErr is
// nil when the deletion succeeded. Used for alerting on orphaned identities
// that must be cleaned up out-of-band.
type CompensationHook func(identityID string, deleteErr error)

// # Account Service

// Service orchestrates registration and login over the identity gateway and
// the reconciliation engine, translating backend failures into the stable
// user-facing error taxonomy.
//
// Service is stateless per call: a new invocation never observes anything
// from a previous one.
type Service struct {
	gateway       identity.Gateway
	reconciler    *Reconciler
	fallbackOrder []FallbackPath
	onCompensate  CompensationHook
	logger        *slog.Logger
}

// NewService creates the account orchestration service.
//
// fallbackOrder may be nil (defaults to [DefaultFallbackOrder]); hook may be
// nil when no compensation observer is wired.
func NewService(gateway identity.Gateway, reconciler *Reconciler, fallbackOrder []FallbackPath, hook CompensationHook, logger *slog.Logger) *Service {
	if len(fallbackOrder) == 0 {
		fallbackOrder = DefaultFallbackOrder
	}
	return &Service{
		gateway:       gateway,
		reconciler:    reconciler,
		fallbackOrder: fallbackOrder,
		onCompensate:  hook,
		logger:        logger,
	}
}

/*
Login authenticates an existing account and returns its assembled user.

Description: Validation, gateway sign-in, then reconciliation. If the profile
is missing the fallback chain provisions it, but the identity is never
deleted on a login failure: it existed before this call, so compensation
would destroy a valid account.

Parameters:
  - ctx: context.Context
  - email, password: credentials

Returns:
  - *User: Assembled identity + profile record
  - error: *apperr.AppError from the account taxonomy
*/
func (service *Service) Login(ctx context.Context, email, password string) (*User, error) {

	// ── 1. Validation, before any gateway call ────────────────────────────
	v := &validate.Validator{}
	v.Required("email", email).Required("password", password)
	if err := v.Err(); err != nil {
		return nil, err
	}

	// ── 2. Gateway sign-in ────────────────────────────────────────────────
	response, err := service.gateway.SignIn(ctx, email, password)
	if err != nil {
		return nil, mapGatewayError(err)
	}
	if response == nil || response.Identity == nil {
		return nil, apperr.Internal(errors.New("account_login_no_identity_in_response"))
	}
	ident := response.Identity

	// ── 3. Reconcile, falling back without compensation ───────────────────
	record, err := service.reconciler.Reconcile(ctx, ident.ID)
	if errors.Is(err, ErrProfileNotReady) {
		record, err = service.ensureProfile(ctx, ident, ident.Metadata[MetaFullName], ident.Metadata[MetaCompanyName])
		if err != nil {
			return nil, apperr.ProfileCreation(MsgProvisionFailed, err)
		}
	} else if err != nil {
		return nil, err
	}

	return assembleUser(ident, record), nil
}

/*
Register creates a new account and guarantees its profile exists.

Description: Validation, gateway sign-up, then reconciliation. When the
email-confirmation flow withholds the session, the identity id from the
response still drives provisioning. If every creation path fails, the
freshly created identity is deleted (best-effort) so no orphaned identity
without a usable profile is left behind.

Parameters:
  - ctx: context.Context
  - email, password, fullName: required account fields
  - companyName: optional workspace name

Returns:
  - *User: Assembled identity + profile record
  - error: *apperr.AppError from the account taxonomy
*/
func (service *Service) Register(ctx context.Context, email, password, fullName, companyName string) (*User, error) {

	// ── 1. Validation, before any gateway call ────────────────────────────
	v := &validate.Validator{}
	v.Required("email", email).Required("password", password).Required("full_name", fullName)
	if err := v.Err(); err != nil {
		return nil, err
	}

	// ── 2. Gateway sign-up ────────────────────────────────────────────────
	metadata := map[string]string{MetaFullName: fullName}
	if companyName != "" {
		metadata[MetaCompanyName] = companyName
	}

	response, err := service.gateway.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, mapGatewayError(err)
	}
	if response == nil || response.Identity == nil {
		return nil, apperr.Internal(errors.New("account_register_no_identity_in_response"))
	}
	ident := response.Identity

	// ── 3. Reconcile, falling back with compensation ──────────────────────
	record, err := service.reconciler.Reconcile(ctx, ident.ID)
	if errors.Is(err, ErrProfileNotReady) {
		record, err = service.ensureProfile(ctx, ident, fullName, companyName)
		if err != nil {
			service.compensate(ctx, ident.ID, err)
			return nil, apperr.ProfileCreation(MsgProvisionFailed, err)
		}
	} else if err != nil {
		return nil, err
	}

	return assembleUser(ident, record), nil
}

// Logout discards the current session through the gateway.
func (service *Service) Logout(ctx context.Context) error {
	if err := service.gateway.SignOut(ctx); err != nil {
		return mapGatewayError(err)
	}
	return nil
}

// ensureProfile runs the configured fallback chain until one creation path
// yields a profile. Individual path failures are logged and the next path is
// tried; the last failure is returned when the chain is exhausted.
func (service *Service) ensureProfile(ctx context.Context, ident *identity.Identity, fullName, companyName string) (*profile.Profile, error) {
	var lastErr error

	for _, path := range service.fallbackOrder {
		var record *profile.Profile
		var err error

		switch path {
		case PathProcedure:
			record, err = service.reconciler.CreateViaProcedure(ctx, ident.ID, ident.Email, fullName, companyName)
		case PathInsert:
			record, err = service.reconciler.CreateViaInsert(ctx, ident.ID, ident.Email, fullName, companyName)
		}

		if err == nil {
			return record, nil
		}

		service.logger.Warn("profile_fallback_path_failed",
			slog.String("identity_id", ident.ID),
			slog.String("path", string(path)),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}

	return nil, lastErr
}

// compensate deletes the identity created by a registration whose profile
// could not be provisioned by any path. Best-effort: a deletion failure is
// logged and reported to the hook but never changes the caller's result —
// the user experience is identical either way, though a failed deletion
// leaks an orphaned identity for out-of-band cleanup.
func (service *Service) compensate(ctx context.Context, identityID string, cause error) {
	deleteErr := service.gateway.DeleteIdentity(ctx, identityID)

	if deleteErr != nil {
		service.logger.Error("account_compensation_delete_failed",
			slog.String("identity_id", identityID),
			slog.String("provision_error", cause.Error()),
			slog.String("delete_error", deleteErr.Error()),
		)
	} else {
		service.logger.Warn("account_compensation_identity_deleted",
			slog.String("identity_id", identityID),
			slog.String("provision_error", cause.Error()),
		)
	}

	if service.onCompensate != nil {
		service.onCompensate(identityID, deleteErr)
	}
}
