// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/platform/dberr"
)

// # Identity Repository

// PostgresIdentityRepository implements the IdentityRepository interface using pgx.
//
// # Error Mapping
//
// Storage-specific errors (pgx.ErrNoRows, SQLSTATE 23505) are mapped to
// domain-friendly [apperr.AppError] types to avoid leaking storage details.
type PostgresIdentityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository creates a new PostgreSQL implementation of the IdentityRepository.
func NewIdentityRepository(pool *pgxpool.Pool) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{pool: pool}
}

const identityColumns = "id, email, passwordhash, role, emailconfirmedat, metadata, createdat, updatedat"

/*
Create persists a new identity record into the app.identity table.

Description: The insert fires the app-level AFTER INSERT trigger that
materializes the matching profile row asynchronously from the caller's
perspective.

Parameters:
  - context: context.Context
  - identity: *Identity (Entity to persist)

Returns:
  - error: apperr.Conflict on duplicate email, or connectivity errors
*/
func (repository *PostgresIdentityRepository) Create(context context.Context, identity *Identity) error {
	const query = `
		INSERT INTO app.identity (
			id, email, passwordhash, role, emailconfirmedat, metadata, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	metadataJSON, err := json.Marshal(identity.Metadata)
	if err != nil {
		return fmt.Errorf("postgres_identity_repo_metadata_encode_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.Role,
		identity.EmailConfirmedAt,
		metadataJSON,
		identity.CreatedAt,
		identity.UpdatedAt,
	)

	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.AlreadyRegistered(MsgAlreadyRegistered)
		}
		return fmt.Errorf("postgres_identity_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByID retrieves an identity record by its unique ID.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *Identity: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresIdentityRepository) FindByID(context context.Context, id string) (*Identity, error) {
	const query = `
		SELECT ` + identityColumns + `
		FROM app.identity
		WHERE id = $1`

	return repository.scanOne(context, query, id)
}

/*
FindByEmail retrieves an identity record by its unique email address.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *Identity: Hydrated entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresIdentityRepository) FindByEmail(context context.Context, email string) (*Identity, error) {
	// Matches the case-insensitive unique index on the email column.
	const query = `
		SELECT ` + identityColumns + `
		FROM app.identity
		WHERE lower(email) = lower($1)`

	return repository.scanOne(context, query, email)
}

/*
UpdatePassword updates only the password hash for a specific identity.

Parameters:
  - context: context.Context
  - identityID: string
  - newHash: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresIdentityRepository) UpdatePassword(context context.Context, identityID, newHash string) error {
	const query = `
		UPDATE app.identity
		SET passwordhash = $2, updatedat = $3
		WHERE id = $1`

	_, err := repository.pool.Exec(context, query, identityID, newHash, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_identity_repo_update_password_failed: %w", err)
	}

	return nil
}

/*
UpdateEmail replaces the identity's address and clears its confirmation stamp.

Parameters:
  - context: context.Context
  - identityID: string
  - newEmail: string

Returns:
  - error: apperr.Conflict if the address is taken, or execution errors
*/
func (repository *PostgresIdentityRepository) UpdateEmail(context context.Context, identityID, newEmail string) error {
	const query = `
		UPDATE app.identity
		SET email = $2, emailconfirmedat = NULL, updatedat = $3
		WHERE id = $1`

	_, err := repository.pool.Exec(context, query, identityID, newEmail, time.Now())
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.AlreadyRegistered(MsgAlreadyRegistered)
		}
		return fmt.Errorf("postgres_identity_repo_update_email_failed: %w", err)
	}

	return nil
}

/*
MarkConfirmed stamps the email confirmation time for an identity.

Parameters:
  - context: context.Context
  - identityID: string
  - confirmedAt: time.Time

Returns:
  - error: Database errors
*/
func (repository *PostgresIdentityRepository) MarkConfirmed(context context.Context, identityID string, confirmedAt time.Time) error {
	const query = `
		UPDATE app.identity
		SET emailconfirmedat = $2, updatedat = $2
		WHERE id = $1 AND emailconfirmedat IS NULL`

	_, err := repository.pool.Exec(context, query, identityID, confirmedAt)
	if err != nil {
		return fmt.Errorf("postgres_identity_repo_mark_confirmed_failed: %w", err)
	}

	return nil
}

/*
Delete permanently removes an identity row.

Description: The app.profile row, if any, is removed by the ON DELETE CASCADE
foreign key. Used by the registration compensation path.

Parameters:
  - context: context.Context
  - identityID: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresIdentityRepository) Delete(context context.Context, identityID string) error {
	const query = "DELETE FROM app.identity WHERE id = $1"
	_, err := repository.pool.Exec(context, query, identityID)
	if err != nil {
		return fmt.Errorf("postgres_identity_repo_delete_failed: %w", err)
	}
	return nil
}

// scanOne executes a single-row identity query and hydrates the entity.
func (repository *PostgresIdentityRepository) scanOne(context context.Context, query string, arg any) (*Identity, error) {
	identity := &Identity{}
	var metadataJSON []byte

	err := repository.pool.QueryRow(context, query, arg).Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Role,
		&identity.EmailConfirmedAt,
		&metadataJSON,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Identity")
		}
		return nil, fmt.Errorf("postgres_identity_repo_find_failed: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &identity.Metadata); err != nil {
			return nil, fmt.Errorf("postgres_identity_repo_metadata_decode_failed: %w", err)
		}
	}

	return identity, nil
}
