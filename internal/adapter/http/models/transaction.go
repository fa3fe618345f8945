package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type SubmitTransactionRequest struct {
	AccountID      string `json:"accountId"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (r SubmitTransactionRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.AccountID) == "" {
		errs = append(errs, "accountId is required")
	}

	amount := strings.TrimSpace(r.Amount)
	if amount == "" {
		errs = append(errs, "amount is required")
	} else {
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			errs = append(errs, "amount must be numeric")
		} else if parsed.LessThanOrEqual(decimal.Zero) {
			errs = append(errs, "amount must be greater than zero")
		}
	}

	if strings.TrimSpace(r.IdempotencyKey) == "" {
		errs = append(errs, "idempotencyKey is required")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

type SubmitTransactionResponse struct {
	TransactionID string `json:"transactionId"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

type TransactionStatusResponse struct {
	TransactionID string `json:"transactionId"`
	AccountID     string `json:"accountId"`
	Amount        string `json:"amount"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	BalanceBefore string `json:"balanceBefore,omitempty"`
	BalanceAfter  string `json:"balanceAfter,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	CreatedAt     string `json:"createdAt"`
	ProcessedAt   string `json:"processedAt,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	EngineUp   bool   `json:"engineUp"`
	QueueDepth int    `json:"queueDepth"`
	Timestamp  string `json:"timestamp"`
}
