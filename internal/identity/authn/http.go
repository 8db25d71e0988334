// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package authn

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/identity/authz"
	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"
)

// Handler implements the authentication HTTP endpoints.
type Handler struct {
	authnService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{authnService: service}
}

// Routes returns a [chi.Router] configured with the authentication routes.
//
// # Endpoints
//   - POST /login  : Authenticates and returns the terminal outcome.
//   - POST /logoff : Invalidates the requestor's auth token.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/login", handler.login)
	router.Post("/logoff", handler.logoff)

	return router
}

// loginRequest is the JSON payload for an authentication attempt.
type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// loginResponse is the JSON shape of the terminal outcome.
//
// Account details are deliberately reduced to the summary projection; the
// full record (counters, lock flags) is admin-console territory.
type loginResponse struct {
	Outcome      Outcome `json:"outcome"`
	SessionToken string  `json:"session_token,omitempty"`
	AuthToken    string  `json:"auth_token,omitempty"`
	AccountID    string  `json:"account_id,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
}

// login handles POST /api/v1/auth/login requests.
//
// # Returns
//   - Writes HTTP 200 with the outcome for every terminal state, including
//     Failure: a wrong password is a result, not a transport error.
//   - Writes HTTP 400 on malformed payloads.
//   - Writes HTTP 5xx only for infrastructure failures.
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.
		Required("login", input.Login).
		Required("password", input.Password).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authnService.Authenticate(request.Context(), input.Login, input.Password)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	response := loginResponse{
		Outcome:      result.Outcome,
		SessionToken: result.SessionToken,
		AuthToken:    result.AuthToken,
	}
	if result.Account != nil {
		response.AccountID = result.Account.ID
		response.DisplayName = result.Account.DisplayName
	}

	respond.OK(writer, response)
}

// logoff handles POST /api/v1/auth/logoff requests. Idempotent.
func (handler *Handler) logoff(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	actor := authz.Actor{
		ID:        claims.AccountID,
		Role:      sec.Role(claims.Role),
		SessionID: claims.SessionID(),
	}

	if err := handler.authnService.Logoff(request.Context(), actor); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}
