// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/platform/mailer"
	"github.com/billora/billora/internal/platform/sec"
	"github.com/billora/billora/pkg/uuid"
)

// # Contracts & Types

// TokenProvider defines the contract for generating security tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT string for the given identity.
	//
	// # Parameters
	//   - identityID: The ID of the identity.
	//   - email: The identity's email address.
	//   - role: The identity's workspace role.
	//   - timeToLive: The duration before the token expires.
	//
	// # Returns
	//   - A signed JWT string, or an err if signing fails.
	GenerateAccessToken(identityID, email, role string, timeToLive time.Duration) (string, error)
}

// ProviderOptions configures optional [Provider] behavior.
type ProviderOptions struct {
	// RequireEmailConfirmation gates session issuance on sign-up until the
	// address is verified via the emailed token.
	RequireEmailConfirmation bool

	// PublicBaseURL is the dashboard origin used to build emailed links.
	PublicBaseURL string
}

// Provider is the first-party [Gateway] implementation.
//
// # Review Process
//
// This component is critical for security. Any changes to hashing, sign-up,
// or sign-in logic must be reviewed by the security team.
type Provider struct {
	identityRepository IdentityRepository
	confirmTokens      TokenRepository
	magicTokens        TokenRepository
	resetTokens        TokenRepository
	tokenProvider      TokenProvider
	mail               mailer.Mailer
	options            ProviderOptions
	logger             *slog.Logger

	// mu guards the current session pair and the subscriber registry.
	// Identity and session are always written together under the lock so no
	// observer can see one without the other.
	mu              sync.Mutex
	currentIdentity *Identity
	currentSession  *Session
	subscribers     map[int]func(ChangeEvent)
	nextSubscriber  int
}

// NewProvider constructs a [Provider] with its dependencies.
func NewProvider(
	identityRepo IdentityRepository,
	confirmTokens TokenRepository,
	magicTokens TokenRepository,
	resetTokens TokenRepository,
	tokenProv TokenProvider,
	mail mailer.Mailer,
	options ProviderOptions,
	logger *slog.Logger,
) *Provider {
	return &Provider{
		identityRepository: identityRepo,
		confirmTokens:      confirmTokens,
		magicTokens:        magicTokens,
		resetTokens:        resetTokens,
		tokenProvider:      tokenProv,
		mail:               mail,
		options:            options,
		logger:             logger,
		subscribers:        make(map[int]func(ChangeEvent)),
	}
}

// # Registration Flow

/*
SignUp validates, hashes, and persists a brand new identity.

Description: Creates the credential record and emails a confirmation token.
When confirmation is required no session is issued, but the identity id in
the response is immediately usable for profile provisioning.

Parameters:
  - ctx: context.Context
  - email, password: credentials
  - metadata: free-form provisioning hints (full_name, company_name)

Returns:
  - *AuthResponse: Identity plus session (session nil when confirmation pending)
  - err: apperr.AlreadyRegistered or storage errors
*/
func (provider *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*AuthResponse, error) {

	// Prevent storing plain-text passwords. Default cost is used for balance
	// between security and CPU utilization during registration spikes.
	passwordHash, err := sec.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("identity_provider_hash_failed: %w", err)
	}

	// Construct the new identity. Time-sortable ID to prevent PG index fragmentation.
	record := &Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         sec.RoleOwner,
		Metadata:     metadata,
	}

	// Persist. The repository maps duplicate emails to apperr.AlreadyRegistered.
	if err := provider.identityRepository.Create(ctx, record); err != nil {
		return nil, err
	}

	// Email the confirmation token as a fire-and-forget side effect.
	provider.sendConfirmation(ctx, record)

	// Confirmation-required deployments hand back the identity without a
	// session; the caller still provisions the profile from the id.
	if provider.options.RequireEmailConfirmation {
		return &AuthResponse{Identity: record}, nil
	}

	session, err := provider.issueSession(record)
	if err != nil {
		return nil, err
	}

	provider.setCurrent(record, session, EventSignedIn)
	return &AuthResponse{Identity: record, Session: session}, nil
}

// # Authentication Flow

/*
SignIn validates credentials and issues a session.

Description: Verifies identity, performs constant-time password comparison,
and establishes the current session.

Parameters:
  - ctx: context.Context
  - email, password: credentials

Returns:
  - *AuthResponse: Identity and freshly issued session
  - err: apperr.InvalidCredentials or internal failures
*/
func (provider *Provider) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	record, err := provider.identityRepository.FindByEmail(ctx, email)

	// Generic message on lookup failure to prevent account enumeration.
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.InvalidCredentials(MsgInvalidCredentials)
		}
		return nil, err
	}

	// Constant-time comparison in bcrypt prevents timing attacks.
	if !sec.CheckPasswordHash(password, record.PasswordHash) {
		return nil, apperr.InvalidCredentials(MsgInvalidCredentials)
	}

	if provider.options.RequireEmailConfirmation && !record.Confirmed() {
		return nil, apperr.Unauthorized(MsgEmailNotConfirmed)
	}

	session, err := provider.issueSession(record)
	if err != nil {
		return nil, err
	}

	provider.setCurrent(record, session, EventSignedIn)
	return &AuthResponse{Identity: record, Session: session}, nil
}

/*
SignInWithMagicLink emails a one-time login link.

Description: Always reports success for unknown addresses so the endpoint
cannot be used to probe which emails hold accounts.

Parameters:
  - ctx: context.Context
  - email: string

Returns:
  - err: Token generation or storage failures only
*/
func (provider *Provider) SignInWithMagicLink(ctx context.Context, email string) error {
	record, err := provider.identityRepository.FindByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}

	token, err := sec.GenerateSecureToken(TokenLength)
	if err != nil {
		return fmt.Errorf("identity_provider_magic_token_failed: %w", err)
	}

	if err := provider.magicTokens.Set(ctx, token, record.ID, MagicLinkTTL); err != nil {
		return fmt.Errorf("identity_provider_magic_token_store_failed: %w", err)
	}

	provider.sendMail(ctx, record.Email, "Your Billora sign-in link",
		fmt.Sprintf("Sign in to your workspace: %s/auth/verify?token=%s\n\nThis link expires in %s.",
			provider.options.PublicBaseURL, token, MagicLinkTTL))

	return nil
}

/*
SignOut discards the current session.

Description: Idempotent; signing out with no active session is a no-op.

Returns:
  - err: Always nil (kept for the [Gateway] contract)
*/
func (provider *Provider) SignOut(ctx context.Context) error {
	provider.setCurrent(nil, nil, EventSignedOut)
	return nil
}

// # Password Recovery

/*
ResetPasswordForEmail initiates the forgot-password flow.

Description: Generates a recovery token and emails a link to redirectURL.
Unknown addresses report success to prevent enumeration.

Parameters:
  - ctx: context.Context
  - email: string
  - redirectURL: string (dashboard page completing the reset)

Returns:
  - err: Generation or storage errors
*/
func (provider *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	record, err := provider.identityRepository.FindByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}

	token, err := sec.GenerateSecureToken(TokenLength)
	if err != nil {
		return fmt.Errorf("identity_provider_reset_token_failed: %w", err)
	}

	if err := provider.resetTokens.Set(ctx, token, record.ID, ResetTokenTTL); err != nil {
		return fmt.Errorf("identity_provider_reset_token_store_failed: %w", err)
	}

	if redirectURL == "" {
		redirectURL = provider.options.PublicBaseURL + "/auth/reset"
	}

	provider.sendMail(ctx, record.Email, "Reset your Billora password",
		fmt.Sprintf("Reset your password: %s?token=%s\n\nThis link expires in %s.",
			redirectURL, token, ResetTokenTTL))

	return nil
}

/*
UpdatePassword replaces the current identity's password.

Description: Requires an active session (normal or recovery). The updated
identity is re-broadcast so observers refresh their snapshot.

Parameters:
  - ctx: context.Context
  - newPassword: string

Returns:
  - *Identity: The current identity
  - err: apperr.Unauthorized without a session, or update failures
*/
func (provider *Provider) UpdatePassword(ctx context.Context, newPassword string) (*Identity, error) {
	record := provider.CurrentIdentity()
	if record == nil {
		return nil, apperr.Unauthorized(MsgSessionRequired)
	}

	passwordHash, err := sec.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("identity_provider_update_password_hash_failed: %w", err)
	}

	if err := provider.identityRepository.UpdatePassword(ctx, record.ID, passwordHash); err != nil {
		return nil, err
	}

	provider.mu.Lock()
	session := provider.currentSession
	provider.mu.Unlock()
	provider.setCurrent(record, session, EventIdentityUpdated)

	return record, nil
}

/*
ChangeEmail updates the current identity's address.

Description: Clears the confirmation stamp and emails a fresh confirmation
token to the new address.

Parameters:
  - ctx: context.Context
  - newEmail: string

Returns:
  - *Identity: The updated identity
  - err: apperr.Unauthorized, apperr.AlreadyRegistered, or update failures
*/
func (provider *Provider) ChangeEmail(ctx context.Context, newEmail string) (*Identity, error) {
	record := provider.CurrentIdentity()
	if record == nil {
		return nil, apperr.Unauthorized(MsgSessionRequired)
	}

	if err := provider.identityRepository.UpdateEmail(ctx, record.ID, newEmail); err != nil {
		return nil, err
	}

	record.Email = newEmail
	record.EmailConfirmedAt = nil
	provider.sendConfirmation(ctx, record)

	provider.mu.Lock()
	session := provider.currentSession
	provider.mu.Unlock()
	provider.setCurrent(record, session, EventIdentityUpdated)

	return record, nil
}

// # Token Redemption

/*
VerifyEmailToken redeems a one-time token and establishes a session.

Description: Tries the confirmation, magic-link, and recovery namespaces in
order. Confirmation tokens additionally stamp the identity as verified;
recovery tokens broadcast PASSWORD_RECOVERY so the dashboard can route to
the password form.

Parameters:
  - ctx: context.Context
  - token: string

Returns:
  - *AuthResponse: Identity and session
  - err: apperr.Unauthorized for unknown/expired tokens
*/
func (provider *Provider) VerifyEmailToken(ctx context.Context, token string) (*AuthResponse, error) {

	// 1. Email confirmation
	if identityID, err := provider.confirmTokens.Get(ctx, token); err == nil {
		if err := provider.identityRepository.MarkConfirmed(ctx, identityID, time.Now()); err != nil {
			return nil, err
		}
		_ = provider.confirmTokens.Delete(ctx, token)
		return provider.establishSession(ctx, identityID, EventSignedIn)
	}

	// 2. Magic-link sign-in
	if identityID, err := provider.magicTokens.Get(ctx, token); err == nil {
		_ = provider.magicTokens.Delete(ctx, token)
		return provider.establishSession(ctx, identityID, EventSignedIn)
	}

	// 3. Password recovery
	if identityID, err := provider.resetTokens.Get(ctx, token); err == nil {
		_ = provider.resetTokens.Delete(ctx, token)
		return provider.establishSession(ctx, identityID, EventPasswordRecovery)
	}

	return nil, apperr.Unauthorized("Token is invalid or expired")
}

/*
ResendConfirmation re-issues the email-confirmation token.

Parameters:
  - ctx: context.Context
  - email: string

Returns:
  - err: Storage failures (unknown or already-confirmed addresses are no-ops)
*/
func (provider *Provider) ResendConfirmation(ctx context.Context, email string) error {
	record, err := provider.identityRepository.FindByEmail(ctx, email)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}

	if record.Confirmed() {
		return nil
	}

	provider.sendConfirmation(ctx, record)
	return nil
}

// # Administration

/*
DeleteIdentity permanently removes an identity.

Description: Admin-scoped. The account service uses this only as the
compensating action when profile provisioning fails irrecoverably during
registration. Deleting the current identity also tears down the session.

Parameters:
  - ctx: context.Context
  - identityID: string

Returns:
  - err: Persistence failures
*/
func (provider *Provider) DeleteIdentity(ctx context.Context, identityID string) error {
	if err := provider.identityRepository.Delete(ctx, identityID); err != nil {
		return err
	}

	provider.mu.Lock()
	isCurrent := provider.currentIdentity != nil && provider.currentIdentity.ID == identityID
	provider.mu.Unlock()

	if isCurrent {
		provider.setCurrent(nil, nil, EventSignedOut)
	}

	provider.logger.Warn("identity_deleted", slog.String("identity_id", identityID))
	return nil
}

// # Session State

// CurrentIdentity returns the identity of the active session, or nil.
func (provider *Provider) CurrentIdentity() *Identity {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.currentIdentity
}

// CurrentSession returns the active session, or nil.
func (provider *Provider) CurrentSession() *Session {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.currentSession
}

// OnIdentityChange registers a change callback and returns its cancel func.
//
// The cancel func is idempotent: calling it more than once is safe.
func (provider *Provider) OnIdentityChange(callback func(ChangeEvent)) func() {
	provider.mu.Lock()
	id := provider.nextSubscriber
	provider.nextSubscriber++
	provider.subscribers[id] = callback
	provider.mu.Unlock()

	return func() {
		provider.mu.Lock()
		delete(provider.subscribers, id)
		provider.mu.Unlock()
	}
}

// # Internals

// establishSession loads the identity, issues a session, and broadcasts.
func (provider *Provider) establishSession(ctx context.Context, identityID string, event EventType) (*AuthResponse, error) {
	record, err := provider.identityRepository.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	session, err := provider.issueSession(record)
	if err != nil {
		return nil, err
	}

	provider.setCurrent(record, session, event)
	return &AuthResponse{Identity: record, Session: session}, nil
}

// issueSession signs a fresh access token for the identity.
func (provider *Provider) issueSession(record *Identity) (*Session, error) {
	accessToken, err := provider.tokenProvider.GenerateAccessToken(record.ID, record.Email, string(record.Role), AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("identity_provider_token_generation_failed: %w", err)
	}

	return &Session{
		IdentityID:  record.ID,
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresAt:   time.Now().Add(AccessTokenTTL),
	}, nil
}

// setCurrent atomically replaces the identity/session pair and notifies
// subscribers. Callbacks run outside the lock so a subscriber can call back
// into the provider without deadlocking.
func (provider *Provider) setCurrent(record *Identity, session *Session, event EventType) {
	provider.mu.Lock()
	provider.currentIdentity = record
	provider.currentSession = session

	listeners := make([]func(ChangeEvent), 0, len(provider.subscribers))
	for _, listener := range provider.subscribers {
		listeners = append(listeners, listener)
	}
	provider.mu.Unlock()

	change := ChangeEvent{Type: event, Identity: record, Session: session}
	for _, listener := range listeners {
		listener(change)
	}
}

// sendConfirmation issues a confirmation token and emails it, fire-and-forget.
func (provider *Provider) sendConfirmation(ctx context.Context, record *Identity) {
	token, err := sec.GenerateSecureToken(TokenLength)
	if err != nil {
		provider.logger.Error("identity_confirmation_token_failed", slog.Any("error", err))
		return
	}

	if err := provider.confirmTokens.Set(ctx, token, record.ID, ConfirmTokenTTL); err != nil {
		provider.logger.Error("identity_confirmation_store_failed", slog.Any("error", err))
		return
	}

	provider.sendMail(ctx, record.Email, "Confirm your Billora email",
		fmt.Sprintf("Confirm your email address: %s/auth/verify?token=%s\n\nThis link expires in %s.",
			provider.options.PublicBaseURL, token, ConfirmTokenTTL))
}

// sendMail delivers a message without letting mail failures surface.
func (provider *Provider) sendMail(ctx context.Context, to, subject, body string) {
	if err := provider.mail.Send(ctx, mailer.Message{To: to, Subject: subject, Body: body}); err != nil {
		provider.logger.Error("identity_mail_failed",
			slog.String("to", to),
			slog.Any("error", err),
		)
	}
}
