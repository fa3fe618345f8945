package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/api-sage/payment-gateway/internal/adapter/http/models"
	"github.com/api-sage/payment-gateway/internal/commons"
	"github.com/api-sage/payment-gateway/internal/domain"
)

type AccountService interface {
	CreateAccount(ctx context.Context, req models.CreateAccountRequest) (commons.Response[models.CreateAccountResponse], error)
	GetAccount(ctx context.Context, accountID string) (commons.Response[models.GetAccountResponse], error)
	GetBalance(ctx context.Context, accountID string) (commons.Response[models.GetBalanceResponse], error)
}

type AccountController struct {
	service AccountService
}

func NewAccountController(service AccountService) *AccountController {
	return &AccountController{service: service}
}

func (c *AccountController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /accounts", wrap(http.HandlerFunc(c.createAccount), authMiddleware))
	mux.Handle("GET /accounts/{id}", wrap(http.HandlerFunc(c.getAccount), authMiddleware))
	mux.Handle("GET /accounts/{id}/balance", wrap(http.HandlerFunc(c.getBalance), authMiddleware))
}

func (c *AccountController) createAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, commons.ErrorResponse[models.CreateAccountResponse]("invalid request body", err.Error()))
		return
	}

	logRequest(r, req)

	response, err := c.service.CreateAccount(r.Context(), req)
	if err != nil {
		logError(r, err, nil)
		writeJSON(w, statusForError(err), response)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

func (c *AccountController) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	response, err := c.service.GetAccount(r.Context(), accountID)
	if err != nil {
		logError(r, err, map[string]any{"accountId": accountID})
		writeJSON(w, statusForError(err), response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (c *AccountController) getBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	response, err := c.service.GetBalance(r.Context(), accountID)
	if err != nil {
		logError(r, err, map[string]any{"accountId": accountID})
		writeJSON(w, statusForError(err), response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func wrap(handler http.Handler, authMiddleware func(http.Handler) http.Handler) http.Handler {
	if authMiddleware != nil {
		return authMiddleware(handler)
	}
	return handler
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrAccountExists):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
