package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/adapter/http/models"
	"github.com/api-sage/payment-gateway/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/payment-gateway/internal/commons"
	"github.com/api-sage/payment-gateway/internal/domain"
	"github.com/api-sage/payment-gateway/internal/engine"
	"github.com/api-sage/payment-gateway/internal/logger"
)

// TransactionEngine is the slice of the processing engine the service needs.
type TransactionEngine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (engine.SubmitResult, error)
	Status(ctx context.Context, transactionID string) (domain.TransactionRecord, error)
	Depth() int
	Running() bool
}

type PaymentService struct {
	accountRepo repo_interfaces.AccountRepository
	engine      TransactionEngine
}

func NewPaymentService(
	accountRepo repo_interfaces.AccountRepository,
	txEngine TransactionEngine,
) *PaymentService {
	return &PaymentService{
		accountRepo: accountRepo,
		engine:      txEngine,
	}
}

func (s *PaymentService) CreateAccount(ctx context.Context, req models.CreateAccountRequest) (commons.Response[models.CreateAccountResponse], error) {
	logger.Info("payment service create account request", logger.Fields{
		"payload": logger.SanitizePayload(req),
	})

	if err := req.Validate(); err != nil {
		logger.Error("payment service create account validation failed", err, nil)
		return commons.ErrorResponse[models.CreateAccountResponse]("validation failed", err.Error()), fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		return commons.ErrorResponse[models.CreateAccountResponse]("validation failed", err.Error()), fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	balance := decimal.Zero
	if strings.TrimSpace(req.InitialBalance) != "" {
		balance, err = decimal.NewFromString(strings.TrimSpace(req.InitialBalance))
		if err != nil {
			return commons.ErrorResponse[models.CreateAccountResponse]("validation failed", "initialBalance must be numeric"), fmt.Errorf("%w: initialBalance must be numeric", domain.ErrValidation)
		}
	}

	account := domain.Account{
		ID:          strings.TrimSpace(req.AccountID),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Balance:     balance,
		Currency:    currency,
	}

	if _, err := s.accountRepo.GetByDisplayName(ctx, account.DisplayName); err == nil {
		return commons.ErrorResponse[models.CreateAccountResponse]("validation failed", "displayName already in use"), fmt.Errorf("%w: displayName already in use", domain.ErrValidation)
	} else if !errors.Is(err, domain.ErrRecordNotFound) {
		logger.Error("payment service display name lookup failed", err, logger.Fields{
			"displayName": account.DisplayName,
		})
		return commons.ErrorResponse[models.CreateAccountResponse]("failed to create account", "Unable to create account right now"), err
	}

	created, err := s.accountRepo.Create(ctx, account)
	if err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			return commons.ErrorResponse[models.CreateAccountResponse]("validation failed", "accountId already exists"), err
		}
		logger.Error("payment service create account repository failed", err, logger.Fields{
			"accountId": account.ID,
		})
		return commons.ErrorResponse[models.CreateAccountResponse]("failed to create account", "Unable to create account right now"), err
	}

	response := models.CreateAccountResponse{
		AccountID:   created.ID,
		DisplayName: created.DisplayName,
		Balance:     created.Balance.StringFixed(2),
		Currency:    string(created.Currency),
		CreatedAt:   created.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   created.UpdatedAt.Format(time.RFC3339),
	}

	logger.Info("payment service create account success", logger.Fields{
		"accountId": response.AccountID,
	})

	return commons.SuccessResponse("account created successfully", response), nil
}

func (s *PaymentService) GetAccount(ctx context.Context, accountID string) (commons.Response[models.GetAccountResponse], error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return commons.ErrorResponse[models.GetAccountResponse]("validation failed", "accountId is required"), fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return commons.ErrorResponse[models.GetAccountResponse]("Account not found"), domain.ErrAccountNotFound
		}
		logger.Error("payment service get account failed", err, logger.Fields{
			"accountId": accountID,
		})
		return commons.ErrorResponse[models.GetAccountResponse]("failed to fetch account", "Unable to fetch account right now"), err
	}

	response := models.GetAccountResponse{
		AccountID:   account.ID,
		DisplayName: account.DisplayName,
		Balance:     account.Balance.StringFixed(2),
		Currency:    string(account.Currency),
		CreatedAt:   account.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   account.UpdatedAt.Format(time.RFC3339),
	}

	return commons.SuccessResponse("account fetched successfully", response), nil
}

func (s *PaymentService) GetBalance(ctx context.Context, accountID string) (commons.Response[models.GetBalanceResponse], error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return commons.ErrorResponse[models.GetBalanceResponse]("validation failed", "accountId is required"), fmt.Errorf("%w: accountId is required", domain.ErrValidation)
	}

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return commons.ErrorResponse[models.GetBalanceResponse]("Account not found"), domain.ErrAccountNotFound
		}
		logger.Error("payment service get balance failed", err, logger.Fields{
			"accountId": accountID,
		})
		return commons.ErrorResponse[models.GetBalanceResponse]("failed to fetch balance", "Unable to fetch balance right now"), err
	}

	response := models.GetBalanceResponse{
		AccountID: account.ID,
		Balance:   account.Balance.StringFixed(2),
		Currency:  string(account.Currency),
	}

	return commons.SuccessResponse("balance fetched successfully", response), nil
}

func (s *PaymentService) SubmitDeposit(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error) {
	return s.submit(ctx, req, domain.TransactionKindDeposit)
}

func (s *PaymentService) SubmitWithdrawal(ctx context.Context, req models.SubmitTransactionRequest) (commons.Response[models.SubmitTransactionResponse], error) {
	return s.submit(ctx, req, domain.TransactionKindWithdraw)
}

func (s *PaymentService) submit(ctx context.Context, req models.SubmitTransactionRequest, kind domain.TransactionKind) (commons.Response[models.SubmitTransactionResponse], error) {
	logger.Info("payment service submit request", logger.Fields{
		"kind":    string(kind),
		"payload": logger.SanitizePayload(req),
	})

	if err := req.Validate(); err != nil {
		logger.Error("payment service submit validation failed", err, nil)
		return commons.ErrorResponse[models.SubmitTransactionResponse]("validation failed", err.Error()), fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return commons.ErrorResponse[models.SubmitTransactionResponse]("validation failed", "amount must be numeric"), fmt.Errorf("%w: amount must be numeric", domain.ErrValidation)
	}

	result, err := s.engine.Submit(ctx, engine.SubmitRequest{
		AccountID:      strings.TrimSpace(req.AccountID),
		Kind:           kind,
		Amount:         amount,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			return commons.ErrorResponse[models.SubmitTransactionResponse]("validation failed", err.Error()), err
		case errors.Is(err, domain.ErrAccountNotFound):
			return commons.ErrorResponse[models.SubmitTransactionResponse]("Account not found"), err
		case errors.Is(err, domain.ErrOverloaded):
			return commons.ErrorResponse[models.SubmitTransactionResponse]("engine overloaded", "Too many pending transactions, retry later"), err
		case errors.Is(err, domain.ErrEngineStopped):
			return commons.ErrorResponse[models.SubmitTransactionResponse]("engine unavailable", "Transaction processing is not running"), err
		default:
			logger.Error("payment service submit failed", err, logger.Fields{
				"accountId": req.AccountID,
				"kind":      string(kind),
			})
			return commons.ErrorResponse[models.SubmitTransactionResponse]("failed to submit transaction", "Unable to submit transaction right now"), err
		}
	}

	message := "transaction accepted"
	if result.Duplicate {
		message = "duplicate request, returning existing transaction"
	}

	response := models.SubmitTransactionResponse{
		TransactionID: result.TransactionID,
		Duplicate:     result.Duplicate,
	}

	return commons.SuccessResponse(message, response), nil
}

func (s *PaymentService) GetTransactionStatus(ctx context.Context, transactionID string) (commons.Response[models.TransactionStatusResponse], error) {
	record, err := s.engine.Status(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return commons.ErrorResponse[models.TransactionStatusResponse]("validation failed", err.Error()), err
		}
		if errors.Is(err, domain.ErrRecordNotFound) {
			return commons.ErrorResponse[models.TransactionStatusResponse]("Transaction not found"), err
		}
		logger.Error("payment service get transaction status failed", err, logger.Fields{
			"transactionId": transactionID,
		})
		return commons.ErrorResponse[models.TransactionStatusResponse]("failed to fetch transaction", "Unable to fetch transaction right now"), err
	}

	response := models.TransactionStatusResponse{
		TransactionID: record.ID,
		AccountID:     record.AccountID,
		Amount:        record.Amount.StringFixed(2),
		Kind:          string(record.Kind),
		Status:        string(record.Status),
		CreatedAt:     record.CreatedAt.Format(time.RFC3339),
	}
	if record.BalanceBefore != nil {
		response.BalanceBefore = record.BalanceBefore.StringFixed(2)
	}
	if record.BalanceAfter != nil {
		response.BalanceAfter = record.BalanceAfter.StringFixed(2)
	}
	if record.FailureReason != nil {
		response.FailureReason = string(*record.FailureReason)
	}
	if record.ProcessedAt != nil {
		response.ProcessedAt = record.ProcessedAt.Format(time.RFC3339)
	}

	return commons.SuccessResponse("transaction fetched successfully", response), nil
}

func (s *PaymentService) Health(_ context.Context) (commons.Response[models.HealthResponse], error) {
	status := "healthy"
	if !s.engine.Running() {
		status = "degraded"
	}

	response := models.HealthResponse{
		Status:     status,
		EngineUp:   s.engine.Running(),
		QueueDepth: s.engine.Depth(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	return commons.SuccessResponse("health checked", response), nil
}
