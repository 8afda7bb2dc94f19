// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/platform/dberr"
	"github.com/billora/billora/pkg/slug"
)

// # Postgres Store

// PostgresStore implements the Store interface using pgx.
//
// # Error Mapping
//
// "No row" is a domain condition (apperr.NotFound); everything else the
// driver reports is classified as apperr.StoreUnavailable so the
// reconciliation engine can distinguish absence from outage.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL implementation of the profile Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const profileColumns = `
	id, email, fullname, companyname, tenantslug,
	subscriptionplan, subscriptionstatus, subscriptionperiodend,
	createdat, updatedat`

/*
FetchByID retrieves a profile by the owning identity id.

Parameters:
  - context: context.Context
  - identityID: string

Returns:
  - *Profile: Hydrated entity
  - error: apperr.NotFound or apperr.StoreUnavailable
*/
func (store *PostgresStore) FetchByID(context context.Context, identityID string) (*Profile, error) {
	const query = `
		SELECT ` + profileColumns + `
		FROM app.profile
		WHERE id = $1`

	record := &Profile{}
	var plan, status *string
	var periodEnd *time.Time

	err := store.pool.QueryRow(context, query, identityID).Scan(
		&record.ID,
		&record.Email,
		&record.FullName,
		&record.CompanyName,
		&record.TenantSlug,
		&plan,
		&status,
		&periodEnd,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if err != nil {
		if dberr.IsNoRows(err) {
			return nil, apperr.NotFound("Profile")
		}
		return nil, apperr.StoreUnavailable(fmt.Errorf("postgres_profile_store_fetch_failed: %w", err))
	}

	// A subscription exists only when all three columns are populated.
	if plan != nil && status != nil && periodEnd != nil {
		record.Subscription = &Subscription{
			Plan:        *plan,
			Status:      *status,
			PeriodEndAt: *periodEnd,
		}
	}

	return record, nil
}

/*
Insert persists a new profile row directly.

Description: Last-resort creation path. Duplicate keys are classified as
apperr.Conflict so the caller can treat them as success by re-fetching.

Parameters:
  - context: context.Context
  - record: *Profile

Returns:
  - error: apperr.Conflict, apperr.StoreUnavailable, or nil
*/
func (store *PostgresStore) Insert(context context.Context, record *Profile) error {
	const query = `
		INSERT INTO app.profile (
			id, email, fullname, companyname, tenantslug, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if record.TenantSlug == "" {
		record.TenantSlug = DeriveTenantSlug(record.CompanyName, record.FullName)
	}

	_, err := store.pool.Exec(context, query,
		record.ID,
		record.Email,
		record.FullName,
		record.CompanyName,
		record.TenantSlug,
		record.CreatedAt,
		record.UpdatedAt,
	)

	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return apperr.Conflict("Profile already exists")
		}
		return apperr.StoreUnavailable(fmt.Errorf("postgres_profile_store_insert_failed: %w", err))
	}

	return nil
}

/*
Update persists changes to mutable profile fields.

Parameters:
  - context: context.Context
  - identityID: string
  - fields: UpdateFields

Returns:
  - *Profile: The updated entity
  - error: apperr.NotFound or apperr.StoreUnavailable
*/
func (store *PostgresStore) Update(context context.Context, identityID string, fields UpdateFields) (*Profile, error) {
	record, err := store.FetchByID(context, identityID)
	if err != nil {
		return nil, err
	}

	// Apply delta updates
	if fields.FullName != nil {
		record.FullName = *fields.FullName
	}
	if fields.CompanyName != nil {
		record.CompanyName = *fields.CompanyName
	}

	const query = `
		UPDATE app.profile
		SET email = $2, fullname = $3, companyname = $4, updatedat = $5
		WHERE id = $1`

	record.UpdatedAt = time.Now()
	_, err = store.pool.Exec(context, query,
		record.ID,
		record.Email,
		record.FullName,
		record.CompanyName,
		record.UpdatedAt,
	)

	if err != nil {
		return nil, apperr.StoreUnavailable(fmt.Errorf("postgres_profile_store_update_failed: %w", err))
	}

	return record, nil
}

/*
CallCreateProcedure invokes app.create_profile, the server-side upsert.

Description: Preferred fallback path — the procedure encapsulates the
idempotency logic (ON CONFLICT DO NOTHING) server-side, so racing the
trigger is always safe.

Parameters:
  - context: context.Context
  - identityID, email, fullName, companyName: profile seed values

Returns:
  - bool: true when a row was created, false when it already existed
  - error: apperr.StoreUnavailable on execution failures
*/
func (store *PostgresStore) CallCreateProcedure(context context.Context, identityID, email, fullName, companyName string) (bool, error) {
	const query = "SELECT app.create_profile($1, $2, $3, $4, $5)"

	tenantSlug := DeriveTenantSlug(companyName, fullName)

	var created bool
	err := store.pool.QueryRow(context, query, identityID, email, fullName, companyName, tenantSlug).Scan(&created)
	if err != nil {
		return false, apperr.StoreUnavailable(fmt.Errorf("postgres_profile_store_procedure_failed: %w", err))
	}

	return created, nil
}

// DeriveTenantSlug builds the workspace slug from the company name, falling
// back to the account holder's full name.
func DeriveTenantSlug(companyName, fullName string) string {
	if companyName != "" {
		return slug.From(companyName)
	}
	return slug.From(fullName)
}
