// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package profile defines the application-owned user record and its store.

A Profile is keyed 1:1 by an identity id. It is normally materialized by a
database trigger when the identity row is inserted, but the account layer
never assumes the trigger ran: the reconciliation engine in the account
package converges on a profile through the fallback paths this store exposes.

# Architecture

  - Entities: Profile, Subscription.
  - Store: Abstracted persistence contract, implemented on PostgreSQL.
  - Idempotency: Every creation path is safe to race against the trigger;
    duplicate-key conditions are classified, not swallowed.
*/
package profile

import (
	"context"
	"time"
)

// # Domain Entities

// Subscription captures the billing state attached to a profile.
type Subscription struct {
	Plan        string    `json:"plan"`
	Status      string    `json:"status"`
	PeriodEndAt time.Time `json:"period_end_at"`
}

// Profile is the application's own per-user record, derived from and keyed
// by an identity.
type Profile struct {
	// ID equals the owning identity's id.
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name,omitempty"`

	// TenantSlug is the URL-safe workspace identifier derived from the
	// company name (falling back to the full name) at creation time.
	TenantSlug string `json:"tenant_slug"`

	// Subscription is nil until a plan is attached. A missing subscription
	// is valid state, never an error.
	Subscription *Subscription `json:"subscription,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// # Store Contract

// Store defines the persistence contract for profiles.
type Store interface {

	/*
		FetchByID returns the profile keyed by the identity id.

		Parameters:
		  - context: context.Context
		  - identityID: string

		Returns:
		  - *Profile: Hydrated entity
		  - error: apperr.NotFound when no row exists; apperr.StoreUnavailable
		    for transport failures
	*/
	FetchByID(context context.Context, identityID string) (*Profile, error)

	/*
		Insert persists a new profile row directly.

		Parameters:
		  - context: context.Context
		  - record: *Profile

		Returns:
		  - error: apperr.Conflict when the row already exists (callers treat
		    this as success by re-fetching), or persistence failures
	*/
	Insert(context context.Context, record *Profile) error

	/*
		Update persists changes to mutable profile fields.

		Parameters:
		  - context: context.Context
		  - identityID: string
		  - fields: UpdateFields (nil members are left untouched)

		Returns:
		  - *Profile: The updated entity
		  - error: apperr.NotFound or persistence failures
	*/
	Update(context context.Context, identityID string, fields UpdateFields) (*Profile, error)

	/*
		CallCreateProcedure invokes the server-side atomic creation procedure.

		Description: The procedure is an upsert — safe to call even if the
		trigger has already created the row.

		Parameters:
		  - context: context.Context
		  - identityID, email, fullName, companyName: profile seed values

		Returns:
		  - bool: true when a row was created, false when it already existed
		  - error: Execution failures
	*/
	CallCreateProcedure(context context.Context, identityID, email, fullName, companyName string) (bool, error)
}

// UpdateFields is the mutable subset of profile fields for partial updates.
type UpdateFields struct {
	FullName    *string
	CompanyName *string
}
