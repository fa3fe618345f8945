package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/api-sage/payment-gateway/internal/adapter/http/models"
	"github.com/api-sage/payment-gateway/internal/commons"
)

type TransactionService interface {
	SubmitDeposit(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error)
	SubmitWithdrawal(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error)
	GetTransactionStatus(ctx context.Context, transactionID string) (commons.Response[models.TransactionStatusResponse], error)
}

type PaymentController struct {
	service TransactionService
}

func NewPaymentController(service TransactionService) *PaymentController {
	return &PaymentController{service: service}
}

func (c *PaymentController) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /deposits", wrap(http.HandlerFunc(c.submitDeposit), authMiddleware))
	mux.Handle("POST /withdrawals", wrap(http.HandlerFunc(c.submitWithdrawal), authMiddleware))
	mux.Handle("GET /transactions/{id}", wrap(http.HandlerFunc(c.getTransaction), authMiddleware))
}

func (c *PaymentController) submitDeposit(w http.ResponseWriter, r *http.Request) {
	c.submit(w, r, c.service.SubmitDeposit)
}

func (c *PaymentController) submitWithdrawal(w http.ResponseWriter, r *http.Request) {
	c.submit(w, r, c.service.SubmitWithdrawal)
}

func (c *PaymentController) submit(
	w http.ResponseWriter,
	r *http.Request,
	handler func(context.Context, models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error),
) {
	var req models.SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, commons.ErrorResponse[models.SubmitTransactionResponse]("invalid request body", err.Error()))
		return
	}

	logRequest(r, req)

	response, err := handler(r.Context(), req)
	if err != nil {
		logError(r, err, map[string]any{"accountId": req.AccountID})
		writeJSON(w, statusForError(err), response)
		return
	}

	// Admission is asynchronous: the transaction id is returned before
	// execution, so the submit endpoints answer 202.
	writeJSON(w, http.StatusAccepted, response)
}

func (c *PaymentController) getTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")

	response, err := c.service.GetTransactionStatus(r.Context(), transactionID)
	if err != nil {
		logError(r, err, map[string]any{"transactionId": transactionID})
		writeJSON(w, statusForError(err), response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}
