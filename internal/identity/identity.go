// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package identity implements the identity gateway for the Billora account layer.

It defines the provider-owned entities (Identity, Session) and the [Gateway]
contract consumed by the account service and the session state manager. The
package also ships [Provider], a first-party implementation backed by
PostgreSQL credentials, RS256 JWT sessions, and Redis-held one-time tokens.

# Architecture

  - Gateway: The opaque call surface the rest of the application depends on.
  - Provider: Orchestrates repositories, token issuance, and email delivery.
  - Repositories: Abstracted interfaces for Postgres (identities) and Redis
    (confirmation / magic-link / reset tokens).

The application never reads identity rows directly; everything goes through
the gateway so a hosted identity service can replace [Provider] without
touching the account layer.
*/
package identity

import (
	"context"
	"time"

	"github.com/billora/billora/internal/platform/sec"
)

// # Domain Entities

// Identity is the provider-owned record of a credential-bearing principal.
//
// It is independent of application data: the app-level profile row is keyed
// by Identity.ID but lives in the profile package.
type Identity struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"` // Explicitly omitted from JSON for security.
	Role         sec.IdentityRole  `json:"role"`
	// EmailConfirmedAt is nil until the address is verified.
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Confirmed reports whether the identity's email address has been verified.
func (identity *Identity) Confirmed() bool {
	return identity.EmailConfirmedAt != nil
}

// Session is the ephemeral pairing of an identity and a signed credential.
// It is held by the session state manager and never persisted here.
type Session struct {
	IdentityID  string    `json:"identity_id"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthResponse is the result of an authentication operation.
//
// Session is nil when no session was issued — e.g. sign-up with email
// confirmation required, where the identity exists but cannot log in yet.
type AuthResponse struct {
	Identity *Identity `json:"identity"`
	Session  *Session  `json:"session,omitempty"`
}

// # Change Events

// EventType classifies an identity-change notification.
type EventType string

const (
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventIdentityUpdated  EventType = "IDENTITY_UPDATED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// ChangeEvent is delivered to [Gateway.OnIdentityChange] subscribers.
// Identity and Session always describe the post-event state together, so a
// subscriber never observes a session without its identity.
type ChangeEvent struct {
	Type     EventType
	Identity *Identity
	Session  *Session
}

// # Gateway Contract

// Gateway is the opaque call surface to the identity provider.
//
// Every method that can touch a backend takes a [context.Context]; the two
// current-state accessors are in-memory reads and never block.
type Gateway interface {

	// SignUp creates a new identity. When email confirmation is required the
	// returned response carries no session; the identity id is still usable
	// for profile provisioning.
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*AuthResponse, error)

	// SignIn authenticates by email and password and issues a session.
	SignIn(ctx context.Context, email, password string) (*AuthResponse, error)

	// SignInWithMagicLink emails a one-time login link. No session is issued
	// here; the link completes via VerifyEmailToken.
	SignInWithMagicLink(ctx context.Context, email string) error

	// SignOut discards the current session.
	SignOut(ctx context.Context) error

	// ResetPasswordForEmail emails a password-recovery link pointing at
	// redirectURL. Always succeeds for unknown addresses to prevent
	// account enumeration.
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error

	// UpdatePassword replaces the current identity's password. Requires an
	// active session (normal or recovery).
	UpdatePassword(ctx context.Context, newPassword string) (*Identity, error)

	// ChangeEmail updates the current identity's address and re-requires
	// confirmation of the new address.
	ChangeEmail(ctx context.Context, newEmail string) (*Identity, error)

	// CurrentIdentity returns the identity of the active session, or nil.
	CurrentIdentity() *Identity

	// CurrentSession returns the active session, or nil.
	CurrentSession() *Session

	// OnIdentityChange registers a callback invoked on every state change.
	// The returned function cancels the subscription and is safe to call
	// multiple times.
	OnIdentityChange(callback func(ChangeEvent)) (unsubscribe func())

	// VerifyEmailToken redeems a confirmation, magic-link, or recovery token
	// and establishes a session.
	VerifyEmailToken(ctx context.Context, token string) (*AuthResponse, error)

	// ResendConfirmation re-issues the email-confirmation token.
	ResendConfirmation(ctx context.Context, email string) error

	// DeleteIdentity permanently removes an identity. Admin-scoped; the
	// account service uses it only as a compensating action when profile
	// provisioning fails irrecoverably during registration.
	DeleteIdentity(ctx context.Context, identityID string) error
}
