// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package keys

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/internal/identity/authz"
	"github.com/castellan/castellan/internal/platform/respond"
	"github.com/castellan/castellan/internal/platform/sec"
	"github.com/castellan/castellan/internal/platform/validate"

	requestutil "github.com/castellan/castellan/internal/platform/request"
)

// Handler implements the key-pair and file security HTTP endpoints.
type Handler struct {
	keyService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{keyService: service}
}

// KeyRoutes returns the key-pair lifecycle routes, mounted beneath an
// account path carrying the {id} parameter.
//
// # Endpoints
//   - POST   / : Generate a key pair for the account.
//   - DELETE / : Remove the account's key pair.
//   - GET    / : Return the public half, if any.
func (handler *Handler) KeyRoutes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.create)
	router.Delete("/", handler.remove)
	router.Get("/", handler.get)

	return router
}

// FileRoutes returns the file security operation routes.
//
// # Endpoints
//   - POST /sign    : Write a detached signature for a file.
//   - POST /verify  : Check a file against its signature.
//   - POST /encrypt : Seal a file under an account's public key.
//   - POST /decrypt : Open a sealed file with the account's private key.
func (handler *Handler) FileRoutes() chi.Router {
	router := chi.NewRouter()

	router.Post("/sign", handler.sign)
	router.Post("/verify", handler.verify)
	router.Post("/encrypt", handler.encrypt)
	router.Post("/decrypt", handler.decrypt)

	return router
}

// actorFromRequest resolves the authenticated requestor into an [authz.Actor].
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

// create handles POST /api/v1/accounts/{id}/keys requests.
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	view, err := handler.keyService.Create(request.Context(), actor, requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, view)
}

// remove handles DELETE /api/v1/accounts/{id}/keys requests.
func (handler *Handler) remove(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.keyService.Remove(request.Context(), actor, requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// get handles GET /api/v1/accounts/{id}/keys requests.
//
// An account without a pair yields a 200 with a null payload: absence is a
// normal answer the consoles handle themselves.
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	view, err := handler.keyService.Return(request.Context(), actor, requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, view)
}

// fileOpPayload is the shared JSON payload for sign/encrypt/decrypt.
type fileOpPayload struct {
	AccountID string `json:"account_id"`
	Path      string `json:"path"`
}

func decodeFileOp(request *http.Request) (*fileOpPayload, error) {
	var input fileOpPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		return nil, err
	}

	validator := &validate.Validator{}
	if err := validator.
		Required("account_id", input.AccountID).
		Required("path", input.Path).
		Err(); err != nil {
		return nil, err
	}

	return &input, nil
}

// fileOpResponse carries the path produced by a file operation.
type fileOpResponse struct {
	Path string `json:"path"`
}

// sign handles POST /api/v1/files/sign requests.
func (handler *Handler) sign(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	input, err := decodeFileOp(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	signaturePath, err := handler.keyService.SignFile(request.Context(), actor, input.AccountID, input.Path)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, fileOpResponse{Path: signaturePath})
}

// verifyPayload extends the file payload with an optional signature path.
type verifyRequestPayload struct {
	AccountID     string `json:"account_id"`
	Path          string `json:"path"`
	SignaturePath string `json:"signature_path"`
}

// verifyResponse carries the boolean verification verdict.
type verifyResponse struct {
	Valid bool `json:"valid"`
}

// verify handles POST /api/v1/files/verify requests.
func (handler *Handler) verify(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input verifyRequestPayload
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	if err := validator.
		Required("account_id", input.AccountID).
		Required("path", input.Path).
		Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	valid, err := handler.keyService.VerifyFile(request.Context(), actor, input.AccountID, input.Path, input.SignaturePath)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, verifyResponse{Valid: valid})
}

// encrypt handles POST /api/v1/files/encrypt requests.
func (handler *Handler) encrypt(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	input, err := decodeFileOp(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	outputPath, err := handler.keyService.EncryptFile(request.Context(), actor, input.AccountID, input.Path)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, fileOpResponse{Path: outputPath})
}

// decrypt handles POST /api/v1/files/decrypt requests.
func (handler *Handler) decrypt(writer http.ResponseWriter, request *http.Request) {
	actor, err := actorFromRequest(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	input, err := decodeFileOp(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	outputPath, err := handler.keyService.DecryptFile(request.Context(), actor, input.AccountID, input.Path)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, fileOpResponse{Path: outputPath})
}
