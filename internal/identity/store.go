// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package identity

import (
	"context"
	"time"
)

// # Identity Data Access

// IdentityRepository defines the data access contract for identity records.
type IdentityRepository interface {

	/*
		Create persists a brand-new identity to the storage.

		Parameters:
		  - context: context.Context
		  - identity: *Identity

		Returns:
		  - error: apperr.Conflict on duplicate email, or persistence failures
	*/
	Create(context context.Context, identity *Identity) error

	/*
		FindByID returns the identity with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *Identity: Hydrated entity
		  - error: apperr.NotFound or database retrieval failures
	*/
	FindByID(context context.Context, id string) (*Identity, error)

	/*
		FindByEmail returns the identity with the given email.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *Identity: Hydrated entity
		  - error: apperr.NotFound or database retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*Identity, error)

	/*
		UpdatePassword replaces only the identity's password hash.

		Parameters:
		  - context: context.Context
		  - identityID: string
		  - newHash: string

		Returns:
		  - error: Persistence failures
	*/
	UpdatePassword(context context.Context, identityID, newHash string) error

	/*
		UpdateEmail replaces the identity's address and clears its
		confirmation timestamp so the new address must be verified.

		Parameters:
		  - context: context.Context
		  - identityID: string
		  - newEmail: string

		Returns:
		  - error: Persistence failures
	*/
	UpdateEmail(context context.Context, identityID, newEmail string) error

	/*
		MarkConfirmed stamps the identity's email confirmation time.

		Parameters:
		  - context: context.Context
		  - identityID: string
		  - confirmedAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	MarkConfirmed(context context.Context, identityID string, confirmedAt time.Time) error

	/*
		Delete permanently removes the identity row.

		Used only by the registration compensation path; application-level
		account deletion goes through the account service.

		Parameters:
		  - context: context.Context
		  - identityID: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, identityID string) error
}

// # Volatile Data Access

// TokenRepository defines the contract for storing one-time tokens
// (email confirmation, magic links, password recovery).
type TokenRepository interface {

	/*
		Set stores a token associated with an identityID for a limited duration.

		Parameters:
		  - context: context.Context
		  - token: string
		  - identityID: string
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Set(context context.Context, token string, identityID string, ttl time.Duration) error

	/*
		Get retrieves the identityID associated with a given token.

		Parameters:
		  - context: context.Context
		  - token: string

		Returns:
		  - string: IdentityID
		  - error: apperr.NotFound if absent or expired, or retrieval failures
	*/
	Get(context context.Context, token string) (string, error)

	/*
		Delete removes a token after successful use.

		Parameters:
		  - context: context.Context
		  - token: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, token string) error
}
