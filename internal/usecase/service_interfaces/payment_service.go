package service_interfaces

import (
	"context"

	"github.com/api-sage/payment-gateway/internal/adapter/http/models"
	"github.com/api-sage/payment-gateway/internal/commons"
)

type PaymentService interface {
	CreateAccount(ctx context.Context, req models.CreateAccountRequest) (commons.Response[models.CreateAccountResponse], error)
	GetAccount(ctx context.Context, accountID string) (commons.Response[models.GetAccountResponse], error)
	GetBalance(ctx context.Context, accountID string) (commons.Response[models.GetBalanceResponse], error)
	SubmitDeposit(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error)
	SubmitWithdrawal(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error)
	GetTransactionStatus(ctx context.Context, transactionID string) (commons.Response[models.TransactionStatusResponse], error)
	Health(ctx context.Context) (commons.Response[models.HealthResponse], error)
}
