package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionKindDeposit  TransactionKind = "DEPOSIT"
	TransactionKindWithdraw TransactionKind = "WITHDRAW"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// Terminal reports whether no further status transitions may occur.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// CanTransitionTo enforces the monotonic lifecycle
// PENDING -> PROCESSING -> (COMPLETED | FAILED). The PROCESSING self-edge
// is permitted so that records interrupted mid-flight can be re-marked
// when they are re-enqueued after an unclean shutdown.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusProcessing
	case TransactionStatusProcessing:
		return next == TransactionStatusProcessing ||
			next == TransactionStatusCompleted ||
			next == TransactionStatusFailed
	case TransactionStatusCompleted, TransactionStatusFailed:
		return false
	default:
		return false
	}
}

type FailureReason string

const (
	FailureInsufficientFunds FailureReason = "INSUFFICIENT_FUNDS"
	FailureStoreUnavailable  FailureReason = "STORE_UNAVAILABLE"
)

type TransactionRecord struct {
	ID             string
	AccountID      string
	Amount         decimal.Decimal
	Kind           TransactionKind
	Status         TransactionStatus
	IdempotencyKey string
	BalanceBefore  *decimal.Decimal
	BalanceAfter   *decimal.Decimal
	FailureReason  *FailureReason
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}
