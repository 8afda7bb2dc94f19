// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/billora/billora/internal/identity"
	"github.com/billora/billora/internal/platform/apperr"
	"github.com/billora/billora/internal/platform/constants"
	"github.com/billora/billora/internal/platform/middleware"
	requestutil "github.com/billora/billora/internal/platform/request"
	"github.com/billora/billora/internal/platform/respond"
	"github.com/billora/billora/internal/platform/validate"
)

// # JSON Field Identifiers

const (
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldNewPassword = "new_password"
	FieldFullName    = "full_name"
	FieldCompanyName = "company_name"
	FieldToken       = "token"
)

// # Definitions & Constructors

// Handler implements the account HTTP endpoints.
//
// # Scope
//
// Transport concerns only: JSON decoding, input validation, status codes.
// Orchestration lives in [Service]; identity flows without reconciliation
// (magic links, password recovery, email verification) go straight to the
// gateway.
type Handler struct {
	accountService *Service
	gateway        identity.Gateway
	publicBaseURL  string
}

// NewHandler constructs a new [Handler] with its dependencies.
func NewHandler(service *Service, gateway identity.Gateway, publicBaseURL string) *Handler {
	return &Handler{
		accountService: service,
		gateway:        gateway,
		publicBaseURL:  publicBaseURL,
	}
}

// Routes returns a [chi.Router] configured with the account surface.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/logout", handler.logout)
	router.Post("/magic-link", handler.magicLink)
	router.Post("/forgot-password", handler.forgotPassword)
	router.Post("/reset-password", handler.resetPassword)
	router.Post("/verify-email", handler.verifyEmail)
	router.Post("/resend-confirmation", handler.resendConfirmation)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/session", handler.session)
		r.Delete("/account", handler.deleteAccount)
	})

	return router
}

// # Request Payloads

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

/*
Register creates a new account with a guaranteed profile.

POST /api/v1/account/register

Description: Signs up the identity, reconciles its profile (provisioning it
through the fallback chain if the trigger is slow or disabled), and returns
the assembled user.

Request:
  - Body: registerRequest (Email, Password, FullName, CompanyName?)

Response:
  - 200: User: Assembled account record
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 409: AlreadyRegistered: Email already has an identity
  - 500: ProfileCreationFailed: No creation path succeeded
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		MinLen(FieldPassword, input.Password, 8).
		Required(FieldFullName, input.FullName).
		MaxLen(FieldCompanyName, input.CompanyName, 120)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.accountService.Register(
		request.Context(),
		input.Email,
		input.Password,
		input.FullName,
		input.CompanyName,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		constants.FieldUser: user,
		"session":           handler.gateway.CurrentSession(),
	})
}

/*
Login authenticates an existing account.

POST /api/v1/account/login

Description: Verifies credentials through the gateway, reconciles the
profile, and returns the assembled user plus the issued session.

Request:
  - Body: loginRequest (Email, Password)

Response:
  - 200: User + Session
  - 400: ErrInvalidJSON: Missing credentials
  - 401: InvalidCredentials: Wrong email or password
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	user, err := handler.accountService.Login(request.Context(), input.Email, input.Password)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]any{
		constants.FieldUser: user,
		"session":           handler.gateway.CurrentSession(),
	})
}

/*
Logout terminates the current session.

POST /api/v1/account/logout

Response:
  - 204: No Content: Session terminated
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if err := handler.accountService.Logout(request.Context()); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

/*
MagicLink emails a one-time sign-in link.

POST /api/v1/account/magic-link

Description: No session is issued here; the link completes through
/verify-email. The response is identical for unknown addresses to prevent
account enumeration.

Request:
  - Body: emailRequest (Email)

Response:
  - 200: Success: Link sent (or generic security message)
*/
func (handler *Handler) magicLink(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)

	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.gateway.SignInWithMagicLink(request.Context(), input.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		constants.FieldMessage: "If this email is registered, a sign-in link has been sent.",
	})
}

/*
ForgotPassword initiates the password recovery flow.

POST /api/v1/account/forgot-password

Request:
  - Body: emailRequest (Email)

Response:
  - 200: Success: Reset link sent (or generic security message)
*/
func (handler *Handler) forgotPassword(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)

	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	redirectURL := handler.publicBaseURL + "/reset-password"
	if err := handler.gateway.ResetPasswordForEmail(request.Context(), input.Email, redirectURL); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		constants.FieldMessage: "If this email is registered, a reset link has been sent.",
	})
}

/*
ResetPassword completes the password recovery flow.

POST /api/v1/account/reset-password

Description: Redeems the emailed recovery token (which establishes a
recovery session) and applies the new password.

Request:
  - Body: resetPasswordRequest (Token, NewPassword)

Response:
  - 200: Success: Password updated
  - 401: Unauthorized: Expired or invalid token
*/
func (handler *Handler) resetPassword(writer http.ResponseWriter, request *http.Request) {
	var input resetPasswordRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldToken, input.Token).
		Required(FieldNewPassword, input.NewPassword).
		MinLen(FieldNewPassword, input.NewPassword, 8)

	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if _, err := handler.gateway.VerifyEmailToken(request.Context(), input.Token); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if _, err := handler.gateway.UpdatePassword(request.Context(), input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		constants.FieldMessage: "Password updated successfully",
	})
}

/*
VerifyEmail redeems a confirmation or magic-link token.

POST /api/v1/account/verify-email

Request:
  - Body: verifyEmailRequest (Token)

Response:
  - 200: Identity + Session: Established session
  - 401: Unauthorized: Expired or invalid token
*/
func (handler *Handler) verifyEmail(writer http.ResponseWriter, request *http.Request) {
	var input verifyEmailRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.Token == "" {
		respond.Error(writer, request, validate.RequiredError(FieldToken, "This field is required"))
		return
	}

	response, err := handler.gateway.VerifyEmailToken(request.Context(), input.Token)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, response)
}

/*
ResendConfirmation re-issues the email confirmation token.

POST /api/v1/account/resend-confirmation

Request:
  - Body: emailRequest (Email)

Response:
  - 200: Success: Confirmation email sent
*/
func (handler *Handler) resendConfirmation(writer http.ResponseWriter, request *http.Request) {
	var input emailRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	v := &validate.Validator{}
	v.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)

	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.gateway.ResendConfirmation(request.Context(), input.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		constants.FieldMessage: "Confirmation email sent",
	})
}

/*
Session returns the caller's current identity and session.

GET /api/v1/account/session

Response:
  - 200: Identity + Session
  - 401: Unauthorized: No active session
*/
func (handler *Handler) session(writer http.ResponseWriter, request *http.Request) {
	if _, err := requestutil.RequiredClaims(request); err != nil {
		respond.Error(writer, request, err)
		return
	}

	ident := handler.gateway.CurrentIdentity()
	session := handler.gateway.CurrentSession()
	if ident == nil || session == nil {
		respond.Error(writer, request, apperr.Unauthorized(identity.MsgSessionRequired))
		return
	}

	respond.OK(writer, identity.AuthResponse{Identity: ident, Session: session})
}

/*
DeleteAccount permanently removes the caller's identity and profile.

DELETE /api/v1/account/account

Description: The profile row is removed by the store's cascading foreign
key when the identity row is deleted.

Response:
  - 204: No Content: Account removed
  - 401: Unauthorized: Authentication required
*/
func (handler *Handler) deleteAccount(writer http.ResponseWriter, request *http.Request) {
	identityID, err := requestutil.RequiredIdentityID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.gateway.DeleteIdentity(request.Context(), identityID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
