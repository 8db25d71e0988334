// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package account

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/identity/authz"
	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
	"github.com/castellan/castellan/pkg/pagination"
)

// Handler implements account lifecycle HTTP endpoints.
//
// # Scope
//
// Administrative account management plus the self-service sub-tree. Handlers
// only parse, delegate, and present; authorization and auditing happen in the
// service layer's guard.
type Handler struct {
	accountService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{accountService: service}
}

// Routes returns a [chi.Router] with the account management routes.
//
// # Endpoints
//   - GET  /                     : Paginated account listing.
//   - POST /                     : Create a new account.
//   - GET  /search               : Term search over login/name/email.
//   - GET  /{id}                 : Fetch one account.
//   - DELETE /{id}               : Delete an account and its dependents.
//   - PUT  /{id}/suspend|unsuspend|role|password|lockout|reset-lock
//   - PUT  /self/contact|password|security-questions
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.list)
	router.Post("/", handler.create)
	router.Get("/search", handler.search)

	router.Route("/self", func(self chi.Router) {
		self.Put("/contact", handler.updateContact)
		self.Put("/password", handler.changePassword)
		self.Put("/security-questions", handler.setSecurityQuestions)
	})

	router.Route("/{id}", func(target chi.Router) {
		target.Get("/", handler.get)
		target.Delete("/", handler.remove)
		target.Put("/suspend", handler.suspend)
		target.Put("/unsuspend", handler.unsuspend)
		target.Put("/role", handler.changeRole)
		target.Put("/password", handler.adminResetPassword)
		target.Put("/lockout", handler.clearLockout)
		target.Put("/reset-lock", handler.clearResetLock)
	})

	return router
}

// actorFromRequest builds the authz actor from the verified JWT claims.
func actorFromRequest(request *http.Request) (authz.Actor, error) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		return authz.Actor{}, err
	}

	return authz.Actor{
		ID:        claims.AccountID,
		Role:      sec.Role(claims.Role),
		SessionID: claims.SessionID(),
	}, nil
}

// create handles POST /api/v1/accounts requests.
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input CreateInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	created, err := handler.accountService.Create(request.Context(), actor, input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created)
}

// get handles GET /api/v1/accounts/{id} requests.
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	account, err := handler.accountService.Get(request.Context(), actor, requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, account)
}

// list handles GET /api/v1/accounts requests.
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := pagination.FromRequest(request)

	summaries, total, err := handler.accountService.List(request.Context(), actor, params)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, summaries, pagination.NewMeta(params.Page, params.Limit, total))
}

// search handles GET /api/v1/accounts/search?q=term requests.
func (handler *Handler) search(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	params := pagination.FromRequest(request)
	term := request.URL.Query().Get("q")

	summaries, total, err := handler.accountService.Search(request.Context(), actor, term, params)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, summaries, pagination.NewMeta(params.Page, params.Limit, total))
}

// remove handles DELETE /api/v1/accounts/{id} requests.
func (handler *Handler) remove(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.Delete(request.Context(), actor, requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// suspend handles PUT /api/v1/accounts/{id}/suspend requests.
func (handler *Handler) suspend(writer http.ResponseWriter, request *http.Request) {
	handler.simpleTargetOp(writer, request, handler.accountService.Suspend)
}

// unsuspend handles PUT /api/v1/accounts/{id}/unsuspend requests.
func (handler *Handler) unsuspend(writer http.ResponseWriter, request *http.Request) {
	handler.simpleTargetOp(writer, request, handler.accountService.Unsuspend)
}

// clearLockout handles PUT /api/v1/accounts/{id}/lockout requests.
func (handler *Handler) clearLockout(writer http.ResponseWriter, request *http.Request) {
	handler.simpleTargetOp(writer, request, handler.accountService.ClearLockout)
}

// clearResetLock handles PUT /api/v1/accounts/{id}/reset-lock requests.
func (handler *Handler) clearResetLock(writer http.ResponseWriter, request *http.Request) {
	handler.simpleTargetOp(writer, request, handler.accountService.ClearResetLock)
}

// simpleTargetOp factors the shared shape of parameterless target operations.
func (handler *Handler) simpleTargetOp(
	writer http.ResponseWriter,
	request *http.Request,
	operation func(ctx context.Context, actor authz.Actor, id string) error,
) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := operation(request.Context(), actor, requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// changeRoleRequest is the JSON payload for a role change.
type changeRoleRequest struct {
	Role string `json:"role"`
}

// changeRole handles PUT /api/v1/accounts/{id}/role requests.
func (handler *Handler) changeRole(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changeRoleRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.ChangeRole(request.Context(), actor, requestutil.Param(request, "id"), input.Role); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// adminResetPasswordRequest is the JSON payload for an administrative reset.
type adminResetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// adminResetPassword handles PUT /api/v1/accounts/{id}/password requests.
func (handler *Handler) adminResetPassword(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input adminResetPasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.AdminResetPassword(request.Context(), actor, requestutil.Param(request, "id"), input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// updateContactRequest is the JSON payload for a self-service contact update.
type updateContactRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// updateContact handles PUT /api/v1/accounts/self/contact requests.
func (handler *Handler) updateContact(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input updateContactRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.UpdateContact(request.Context(), actor, actor.ID, input.Email, input.Phone); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// changePasswordRequest is the JSON payload for a self-service password change.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	Confirm         string `json:"confirm"`
}

// changePassword handles PUT /api/v1/accounts/self/password requests.
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// The confirmation check is a transport nicety; the reset workflow's
	// byte-identical rule applies here as well.
	validator := &validate.Validator{}
	if err := validator.Equals("confirm", input.NewPassword, input.Confirm, "Passwords do not match").Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.ChangePassword(request.Context(), actor, actor.ID, input.CurrentPassword, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// securityQuestionsRequest is the JSON payload for setting security questions.
type securityQuestionsRequest struct {
	Question1 string `json:"question1"`
	Answer1   string `json:"answer1"`
	Question2 string `json:"question2"`
	Answer2   string `json:"answer2"`
}

// setSecurityQuestions handles PUT /api/v1/accounts/self/security-questions requests.
func (handler *Handler) setSecurityQuestions(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input securityQuestionsRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.accountService.SetSecurityQuestions(
		request.Context(), actor, actor.ID,
		input.Question1, input.Answer1,
		input.Question2, input.Answer2,
	)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
