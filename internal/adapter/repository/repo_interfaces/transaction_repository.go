package repo_interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/domain"
)

// TransactionRepository is the durable ledger behind the processing engine.
//
// Append fails with domain.ErrDuplicateIdempotencyKey when a record with the
// same idempotency key already exists. MarkProcessing, Complete and MarkFailed
// fail with domain.ErrInvalidTransition when the stored status does not permit
// the transition, so a record can never be applied twice.
//
// Complete writes the new account balance and the COMPLETED status in a single
// atomic unit: either both are durable or neither is.
type TransactionRepository interface {
	Append(ctx context.Context, record domain.TransactionRecord) (domain.TransactionRecord, error)
	GetByID(ctx context.Context, id string) (domain.TransactionRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionRecord, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, accountID string, balanceBefore, balanceAfter decimal.Decimal) error
	MarkFailed(ctx context.Context, id string, reason domain.FailureReason, balanceBefore *decimal.Decimal) error
	ListUnfinished(ctx context.Context) ([]domain.TransactionRecord, error)
}
