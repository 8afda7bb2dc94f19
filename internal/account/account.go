// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

/*
Package account implements account provisioning and session reconciliation.

It is the layer that turns a raw authentication event (sign-up, sign-in,
magic-link, password reset) into a guaranteed, consistent application user
record, tolerating the asynchronous profile-creation trigger and its failure
modes.

# Architecture

  - Reconciler: Bounded wait-then-recheck protocol converging on a profile.
  - Service: Login/Register orchestration, error taxonomy mapping, and
    compensating identity deletion when provisioning fails during sign-up.
  - Handler: Thin chi transport over the service and the identity gateway.

The reconciler and the service are stateless with respect to their inputs;
all process-wide session state lives in the session package.
*/
package account

import (
	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/profile"
)

// # Domain Entities

// User is the assembled, presentation-facing account record: the identity's
// stable fields joined with its application profile.
type User struct {
	ID           string                `json:"id"`
	Email        string                `json:"email"`
	Name         string                `json:"name"`
	Company      string                `json:"company,omitempty"`
	Subscription *profile.Subscription `json:"subscription,omitempty"`
}

// assembleUser joins an identity with its reconciled profile. Partial data
// (a profile without a company or subscription) is valid, never an error.
func assembleUser(ident *identity.Identity, record *profile.Profile) *User {
	return &User{
		ID:           ident.ID,
		Email:        ident.Email,
		Name:         record.FullName,
		Company:      record.CompanyName,
		Subscription: record.Subscription,
	}
}

// # Metadata Keys
//
// Keys under which registration carries profile seed values through the
// identity gateway's free-form metadata map.
const (
	MetaFullName    = "full_name"
	MetaCompanyName = "company_name"
)

// # User-Facing Messages
//
// Localized strings returned to clients. Backend-specific error text is
// never shown directly; it is mapped through the table below.
const (
	MsgLoginFailed     = "Incorrect email or password."
	MsgEmailTaken      = "An account with this email already exists."
	MsgConfirmEmail    = "Please confirm your email address before signing in."
	MsgSessionExpired  = "Your session has expired. Please sign in again."
	MsgProvisionFailed = "We could not finish setting up your account. Please try again."
)

// # Gateway Error Mapping

// gatewayErrorTable is the fixed lookup from the identity provider's stable
// failure vocabulary to the user-facing error taxonomy.
var gatewayErrorTable = map[string]func() *apperr.AppError{
	identity.MsgInvalidCredentials: func() *apperr.AppError { return apperr.InvalidCredentials(MsgLoginFailed) },
	identity.MsgAlreadyRegistered:  func() *apperr.AppError { return apperr.AlreadyRegistered(MsgEmailTaken) },
	identity.MsgEmailNotConfirmed:  func() *apperr.AppError { return apperr.Unauthorized(MsgConfirmEmail) },
	identity.MsgSessionRequired:    func() *apperr.AppError { return apperr.Unauthorized(MsgSessionExpired) },
}

// mapGatewayError translates a gateway failure into the account taxonomy.
//
// Known provider messages map through the fixed table. Unmapped AppErrors
// pass through unchanged (their status and client-safe message survive);
// anything else collapses to a vague 500 rather than leaking internals.
func mapGatewayError(err error) *apperr.AppError {
	appError := apperr.As(err)
	if appError != nil {
		if build, ok := gatewayErrorTable[appError.Message]; ok {
			mapped := build()
			mapped.Cause = err
			return mapped
		}
		return appError
	}
	return apperr.Internal(err)
}
