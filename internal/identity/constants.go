// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package identity

import "time"

// # Identity Provider Constraints

const (
	// AccessTokenTTL is the duration a JWT access token remains valid.
	// We keep it short (1h) to bound the impact of a leaked token while the
	// dashboard's inactivity auto-lock keeps the UX acceptable.
	AccessTokenTTL = 1 * time.Hour

	// ConfirmTokenTTL is the duration an email confirmation token remains valid.
	// Long-lived (24 hours) as users might not check email immediately.
	ConfirmTokenTTL = 24 * time.Hour

	// MagicLinkTTL is the duration a magic sign-in link remains valid.
	// Short-lived (15 minutes) since it grants a session directly.
	MagicLinkTTL = 15 * time.Minute

	// ResetTokenTTL is the duration a password recovery token remains valid.
	ResetTokenTTL = 1 * time.Hour

	// TokenLength is the byte length of every random one-time token.
	TokenLength = 32
)

// # Canonical Backend Messages
//
// These strings are the provider's stable failure vocabulary. The account
// service maps them to its user-facing taxonomy; they are never shown to end
// users directly.
const (
	MsgInvalidCredentials = "Invalid login credentials"
	MsgAlreadyRegistered  = "User already registered"
	MsgEmailNotConfirmed  = "Email not confirmed"
	MsgSessionRequired    = "Auth session missing"
)
