// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package reset

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/castellan/castellan/internal/platform/request"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/validate"
)

// Handler implements the password-reset HTTP endpoints.
//
// All routes are pre-authentication: the workflow's own token and
// security-question checks are the identity proof.
type Handler struct {
	resetService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{resetService: service}
}

// Routes returns a [chi.Router] configured with the reset workflow routes.
//
// # Endpoints
//   - POST /request          : Issue a reset token.
//   - POST /verify-questions : Check security answers.
//   - POST /verify-token     : Validate a token's window.
//   - POST /submit           : Finalize the password change.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/request", handler.request)
	router.Post("/verify-questions", handler.verifyQuestions)
	router.Post("/verify-token", handler.verifyToken)
	router.Post("/submit", handler.submit)

	return router
}

// requestPayload is the JSON payload for a token request.
type requestPayload struct {
	Login string `json:"login"`
}

// request handles POST /api/v1/reset/request requests.
func (handler *Handler) request(writer http.ResponseWriter, request *http.Request) {
	var input requestPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.Required("login", input.Login).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.resetService.Request(request.Context(), input.Login)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}

// verifyQuestionsPayload is the JSON payload for the answer check.
type verifyQuestionsPayload struct {
	Login   string `json:"login"`
	Answer1 string `json:"answer1"`
	Answer2 string `json:"answer2"`
}

// verifyQuestions handles POST /api/v1/reset/verify-questions requests.
func (handler *Handler) verifyQuestions(writer http.ResponseWriter, request *http.Request) {
	var input verifyQuestionsPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.
		Required("login", input.Login).
		Required("answer1", input.Answer1).
		Required("answer2", input.Answer2).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.resetService.VerifyQuestions(request.Context(), input.Login, input.Answer1, input.Answer2)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, verificationView(result))
}

// verifyTokenPayload is the JSON payload for the token window check.
type verifyTokenPayload struct {
	Token string `json:"token"`
}

// verifyToken handles POST /api/v1/reset/verify-token requests.
func (handler *Handler) verifyToken(writer http.ResponseWriter, request *http.Request) {
	var input verifyTokenPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.Required("token", input.Token).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.resetService.VerifyToken(request.Context(), input.Token)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, verificationView(result))
}

// submitPayload is the JSON payload for the final password change.
type submitPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
	Confirm     string `json:"confirm"`
}

// submit handles POST /api/v1/reset/submit requests.
func (handler *Handler) submit(writer http.ResponseWriter, request *http.Request) {
	var input submitPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.
		Required("token", input.Token).
		Required("new_password", input.NewPassword).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.resetService.Submit(request.Context(), input.Token, input.NewPassword, input.Confirm); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// verificationResponse is the reduced verification view returned to clients.
//
// The full account record stays server-side; the reset console only needs
// the identifiers and the lock flag.
type verificationResponse struct {
	AccountID   string `json:"account_id"`
	Login       string `json:"login"`
	LoginLocked bool   `json:"login_locked"`
}

func verificationView(result *VerificationResult) verificationResponse {
	return verificationResponse{
		AccountID:   result.Account.ID,
		Login:       result.Account.Login,
		LoginLocked: result.LoginLocked,
	}
}
