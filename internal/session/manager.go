// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package session implements the process-wide observable session state.

The [Manager] is the single holder of the current identity/session pair plus
the UI feedback flags (loading, error, success). Every account operation the
dashboard can trigger is wrapped in the same envelope: set loading, run,
record the outcome, auto-clear the feedback message after a fixed window.

# Architecture

  - Snapshot: Immutable value handed to observers; the identity/session pair
    is always updated atomically so no observer sees one without the other.
  - Envelope: One code path (run) wraps every operation uniformly.
  - Timers: At most one pending expiry timer per message slot; a new message
    cancels the previous timer and schedules its own.

Teardown via [Manager.Close] is synchronous and idempotent.
*/
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/billora/billora/internal/account"
	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

// # Feedback Messages

const (
	MsgSignedIn          = "Welcome back!"
	MsgSignedUp          = "Your account has been created."
	MsgSignedOut         = "You have been signed out."
	MsgMagicLinkSent     = "Check your email for a sign-in link."
	MsgResetLinkSent     = "Check your email for a reset link."
	MsgPasswordUpdated   = "Your password has been updated."
	MsgProfileUpdated    = "Your profile has been updated."
	MsgEmailChangeQueued = "Confirm your new address to finish the change."
	MsgAccountDeleted    = "Your account has been deleted."
	MsgEmailVerified     = "Your email address has been verified."
	MsgConfirmationSent  = "Confirmation email sent."
)

// # Observable State

// Snapshot is the value observers receive on every state change.
//
// Error and Success are mutually exclusive; the empty string means absent.
type Snapshot struct {
	Identity *identity.Identity `json:"identity,omitempty"`
	Session  *identity.Session  `json:"session,omitempty"`
	Loading  bool               `json:"loading"`
	Error    string             `json:"error,omitempty"`
	Success  string             `json:"success,omitempty"`
}

// Manager is the process-wide session state holder.
//
// # Concurrency
//
// All state mutations happen under a single mutex; the identity/session
// pair is replaced atomically. Observer callbacks are invoked outside the
// lock, so a callback may subscribe, unsubscribe, or trigger operations
// without deadlocking.
type Manager struct {
	gateway  identity.Gateway
	accounts *account.Service
	profiles profile.Store
	ttl      time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	snap        Snapshot
	subscribers map[int]func(Snapshot)
	nextSubID   int
	closed      bool

	// One pending expiry timer per message slot. The generation counters
	// make a stale timer callback a no-op instead of clearing a newer
	// message that superseded it.
	errorTimer   *time.Timer
	successTimer *time.Timer
	errorGen     uint64
	successGen   uint64

	unsubscribeGateway func()
}

// NewManager creates the session state holder.
//
// The current session (if any) is read from the gateway without setting the
// loading flag, and the manager subscribes to identity-change notifications
// so external state transitions (token redemption, sign-out elsewhere) are
// reflected here.
func NewManager(gateway identity.Gateway, accounts *account.Service, profiles profile.Store, feedbackTTL time.Duration, logger *slog.Logger) *Manager {
	manager := &Manager{
		gateway:     gateway,
		accounts:    accounts,
		profiles:    profiles,
		ttl:         feedbackTTL,
		logger:      logger,
		subscribers: make(map[int]func(Snapshot)),
	}

	manager.snap.Identity = gateway.CurrentIdentity()
	manager.snap.Session = gateway.CurrentSession()

	manager.unsubscribeGateway = gateway.OnIdentityChange(manager.onGatewayEvent)

	return manager
}

// State returns the current snapshot.
func (manager *Manager) State() Snapshot {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.snap
}

// Subscribe registers an observer and immediately delivers the current
// snapshot. The returned function cancels the subscription and is safe to
// call multiple times.
func (manager *Manager) Subscribe(observer func(Snapshot)) (unsubscribe func()) {
	manager.mu.Lock()
	id := manager.nextSubID
	manager.nextSubID++
	manager.subscribers[id] = observer
	current := manager.snap
	manager.mu.Unlock()

	observer(current)

	return func() {
		manager.mu.Lock()
		delete(manager.subscribers, id)
		manager.mu.Unlock()
	}
}

// Close tears the manager down: the gateway subscription and any pending
// auto-clear timers are cancelled so no callback fires into discarded
// state. Safe to call multiple times.
func (manager *Manager) Close() {
	manager.mu.Lock()
	if manager.closed {
		manager.mu.Unlock()
		return
	}
	manager.closed = true

	if manager.errorTimer != nil {
		manager.errorTimer.Stop()
		manager.errorTimer = nil
	}
	if manager.successTimer != nil {
		manager.successTimer.Stop()
		manager.successTimer = nil
	}
	manager.subscribers = make(map[int]func(Snapshot))
	unsub := manager.unsubscribeGateway
	manager.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// # Wrapped Operations

// SignUp registers a new account through the account service.
func (manager *Manager) SignUp(ctx context.Context, email, password, fullName, companyName string) (*account.User, error) {
	var user *account.User
	err := manager.run(func() (string, error) {
		var opErr error
		user, opErr = manager.accounts.Register(ctx, email, password, fullName, companyName)
		return MsgSignedUp, opErr
	})
	return user, err
}

// SignIn authenticates through the account service.
func (manager *Manager) SignIn(ctx context.Context, email, password string) (*account.User, error) {
	var user *account.User
	err := manager.run(func() (string, error) {
		var opErr error
		user, opErr = manager.accounts.Login(ctx, email, password)
		return MsgSignedIn, opErr
	})
	return user, err
}

// SignInWithMagicLink requests a one-time sign-in link.
func (manager *Manager) SignInWithMagicLink(ctx context.Context, email string) error {
	return manager.run(func() (string, error) {
		return MsgMagicLinkSent, manager.gateway.SignInWithMagicLink(ctx, email)
	})
}

// SignOut discards the current session.
func (manager *Manager) SignOut(ctx context.Context) error {
	return manager.run(func() (string, error) {
		return MsgSignedOut, manager.accounts.Logout(ctx)
	})
}

// ResetPassword requests a password recovery link.
func (manager *Manager) ResetPassword(ctx context.Context, email, redirectURL string) error {
	return manager.run(func() (string, error) {
		return MsgResetLinkSent, manager.gateway.ResetPasswordForEmail(ctx, email, redirectURL)
	})
}

// UpdatePassword replaces the current identity's password.
func (manager *Manager) UpdatePassword(ctx context.Context, newPassword string) error {
	return manager.run(func() (string, error) {
		_, err := manager.gateway.UpdatePassword(ctx, newPassword)
		return MsgPasswordUpdated, err
	})
}

// UpdateProfile persists changes to the current identity's profile.
func (manager *Manager) UpdateProfile(ctx context.Context, fields profile.UpdateFields) (*profile.Profile, error) {
	ident := manager.gateway.CurrentIdentity()
	if ident == nil {
		err := apperr.Unauthorized(identity.MsgSessionRequired)
		manager.recordFailure(err)
		return nil, err
	}

	var record *profile.Profile
	err := manager.run(func() (string, error) {
		var opErr error
		record, opErr = manager.profiles.Update(ctx, ident.ID, fields)
		return MsgProfileUpdated, opErr
	})
	return record, err
}

// ChangeEmail updates the current identity's address. The new address must
// be confirmed before it becomes active.
func (manager *Manager) ChangeEmail(ctx context.Context, newEmail string) error {
	return manager.run(func() (string, error) {
		_, err := manager.gateway.ChangeEmail(ctx, newEmail)
		return MsgEmailChangeQueued, err
	})
}

// DeleteAccount removes the current identity and its profile.
func (manager *Manager) DeleteAccount(ctx context.Context) error {
	ident := manager.gateway.CurrentIdentity()
	if ident == nil {
		err := apperr.Unauthorized(identity.MsgSessionRequired)
		manager.recordFailure(err)
		return err
	}

	return manager.run(func() (string, error) {
		return MsgAccountDeleted, manager.gateway.DeleteIdentity(ctx, ident.ID)
	})
}

// VerifyEmail redeems a confirmation, magic-link, or recovery token.
func (manager *Manager) VerifyEmail(ctx context.Context, token string) error {
	return manager.run(func() (string, error) {
		_, err := manager.gateway.VerifyEmailToken(ctx, token)
		return MsgEmailVerified, err
	})
}

// ResendConfirmation re-issues the email confirmation token.
func (manager *Manager) ResendConfirmation(ctx context.Context, email string) error {
	return manager.run(func() (string, error) {
		return MsgConfirmationSent, manager.gateway.ResendConfirmation(ctx, email)
	})
}

// ClearError dismisses the current error message immediately.
func (manager *Manager) ClearError() {
	manager.mu.Lock()
	manager.errorGen++
	manager.stopErrorTimerLocked()
	manager.snap.Error = ""
	manager.notifyLocked()
}

// ClearSuccess dismisses the current success message immediately.
func (manager *Manager) ClearSuccess() {
	manager.mu.Lock()
	manager.successGen++
	manager.stopSuccessTimerLocked()
	manager.snap.Success = ""
	manager.notifyLocked()
}

// # Operation Envelope

// run wraps an operation in the uniform loading/error/success envelope. The
// operation's result is recorded even if the manager was closed mid-flight —
// in that case recording degrades to a no-op rather than a panic, since the
// in-flight call itself is not cancellable.
func (manager *Manager) run(op func() (string, error)) error {
	manager.begin()

	successMsg, err := op()
	if err != nil {
		manager.recordFailure(err)
		return err
	}

	manager.recordSuccess(successMsg)
	return nil
}

// begin marks an operation start: loading set, both message slots cleared,
// pending expiry timers cancelled.
func (manager *Manager) begin() {
	manager.mu.Lock()
	if manager.closed {
		manager.mu.Unlock()
		return
	}

	manager.errorGen++
	manager.successGen++
	manager.stopErrorTimerLocked()
	manager.stopSuccessTimerLocked()

	manager.snap.Loading = true
	manager.snap.Error = ""
	manager.snap.Success = ""
	manager.notifyLocked()
}

// recordFailure stores the client-safe message of err and schedules its expiry.
func (manager *Manager) recordFailure(err error) {
	message := err.Error()
	if appError := apperr.As(err); appError != nil {
		message = appError.Message
	}

	manager.mu.Lock()
	if manager.closed {
		manager.mu.Unlock()
		return
	}

	manager.errorGen++
	gen := manager.errorGen
	manager.stopErrorTimerLocked()

	manager.snap.Loading = false
	manager.snap.Error = message
	manager.snap.Success = ""

	manager.errorTimer = time.AfterFunc(manager.ttl, func() { manager.expireError(gen) })
	manager.notifyLocked()
}

// recordSuccess stores the success message, refreshes the identity/session
// pair from the gateway, and schedules the message expiry.
func (manager *Manager) recordSuccess(message string) {
	ident := manager.gateway.CurrentIdentity()
	sess := manager.gateway.CurrentSession()

	manager.mu.Lock()
	if manager.closed {
		manager.mu.Unlock()
		return
	}

	manager.successGen++
	gen := manager.successGen
	manager.stopSuccessTimerLocked()

	manager.snap.Loading = false
	manager.snap.Success = message
	manager.snap.Error = ""
	manager.snap.Identity = ident
	manager.snap.Session = sess

	manager.successTimer = time.AfterFunc(manager.ttl, func() { manager.expireSuccess(gen) })
	manager.notifyLocked()
}

// expireError clears the error slot if no newer message superseded gen.
func (manager *Manager) expireError(gen uint64) {
	manager.mu.Lock()
	if manager.closed || gen != manager.errorGen {
		manager.mu.Unlock()
		return
	}
	manager.errorTimer = nil
	manager.snap.Error = ""
	manager.notifyLocked()
}

// expireSuccess clears the success slot if no newer message superseded gen.
func (manager *Manager) expireSuccess(gen uint64) {
	manager.mu.Lock()
	if manager.closed || gen != manager.successGen {
		manager.mu.Unlock()
		return
	}
	manager.successTimer = nil
	manager.snap.Success = ""
	manager.notifyLocked()
}

// onGatewayEvent mirrors an external identity state change into the
// snapshot. The identity/session pair from the event is applied atomically.
func (manager *Manager) onGatewayEvent(event identity.ChangeEvent) {
	manager.mu.Lock()
	if manager.closed {
		manager.mu.Unlock()
		return
	}

	manager.snap.Identity = event.Identity
	manager.snap.Session = event.Session

	manager.logger.Info("session_state_gateway_event",
		slog.String("event", string(event.Type)),
	)

	manager.notifyLocked()
}

// # Internal Helpers

// notifyLocked delivers the current snapshot to all subscribers. It must be
// called with the mutex held and RELEASES it: callbacks run outside the lock.
func (manager *Manager) notifyLocked() {
	current := manager.snap
	observers := make([]func(Snapshot), 0, len(manager.subscribers))
	for _, observer := range manager.subscribers {
		observers = append(observers, observer)
	}
	manager.mu.Unlock()

	for _, observer := range observers {
		observer(current)
	}
}

func (manager *Manager) stopErrorTimerLocked() {
	if manager.errorTimer != nil {
		manager.errorTimer.Stop()
		manager.errorTimer = nil
	}
}

func (manager *Manager) stopSuccessTimerLocked() {
	if manager.successTimer != nil {
		manager.successTimer.Stop()
		manager.successTimer = nil
	}
}
