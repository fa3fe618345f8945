package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/payment-gateway/internal/backoff"
	"github.com/api-sage/payment-gateway/internal/domain"
	"github.com/api-sage/payment-gateway/internal/logger"
)

// worker is the single consumer of one lane. Because the router confines
// each account to one lane, the read-compute-write sequence below needs no
// locking against other workers: no other goroutine ever mutates the same
// account's balance.
type worker struct {
	index        int
	lane         *lane
	accounts     repo_interfaces.AccountRepository
	transactions repo_interfaces.TransactionRepository
	maxAttempts  int
	retryDelay   backoff.Strategy
	stopCh       chan struct{}
}

func (w *worker) run(ctx context.Context) {
	for {
		record, ok := w.lane.Pop(w.stopCh)
		if !ok {
			return
		}
		w.process(ctx, record)
	}
}

func (w *worker) process(ctx context.Context, record domain.TransactionRecord) {
	logger.Info("lane worker processing transaction", logger.Fields{
		"lane":          w.index,
		"transactionId": record.ID,
		"accountId":     record.AccountID,
		"kind":          string(record.Kind),
	})

	err := w.withRetry(ctx, func(ctx context.Context) error {
		return w.transactions.MarkProcessing(ctx, record.ID)
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already terminal: the balance was applied before an unclean
		// shutdown and the record was re-enqueued by recovery.
		logger.Info("lane worker skipping terminal transaction", logger.Fields{
			"lane":          w.index,
			"transactionId": record.ID,
		})
		return
	}
	if err != nil {
		if w.interrupted(ctx, record) {
			return
		}
		w.fail(ctx, record, domain.FailureStoreUnavailable, nil)
		return
	}

	var account domain.Account
	err = w.withRetry(ctx, func(ctx context.Context) error {
		var readErr error
		account, readErr = w.accounts.GetByID(ctx, record.AccountID)
		return readErr
	})
	if err != nil {
		if w.interrupted(ctx, record) {
			return
		}
		w.fail(ctx, record, domain.FailureStoreUnavailable, nil)
		return
	}

	balanceBefore := account.Balance

	var balanceAfter decimal.Decimal
	switch record.Kind {
	case domain.TransactionKindDeposit:
		balanceAfter = balanceBefore.Add(record.Amount)
	case domain.TransactionKindWithdraw:
		if balanceBefore.LessThan(record.Amount) {
			logger.Error("lane worker rejecting withdrawal", domain.ErrInsufficientFunds, logger.Fields{
				"lane":          w.index,
				"transactionId": record.ID,
				"accountId":     record.AccountID,
			})
			w.fail(ctx, record, domain.FailureInsufficientFunds, &balanceBefore)
			return
		}
		balanceAfter = balanceBefore.Sub(record.Amount)
	default:
		logger.Error("lane worker unknown transaction kind", nil, logger.Fields{
			"lane":          w.index,
			"transactionId": record.ID,
			"kind":          string(record.Kind),
		})
		w.fail(ctx, record, domain.FailureStoreUnavailable, nil)
		return
	}

	err = w.withRetry(ctx, func(ctx context.Context) error {
		return w.transactions.Complete(ctx, record.ID, record.AccountID, balanceBefore, balanceAfter)
	})
	if err != nil {
		if w.interrupted(ctx, record) {
			return
		}
		w.fail(ctx, record, domain.FailureStoreUnavailable, &balanceBefore)
		return
	}

	logger.Info("lane worker completed transaction", logger.Fields{
		"lane":          w.index,
		"transactionId": record.ID,
		"accountId":     record.AccountID,
		"balanceAfter":  balanceAfter.StringFixed(2),
	})
}

// interrupted reports whether the failure came from forced shutdown
// cancellation rather than a store fault. Interrupted records keep their
// durable status and are reconciled by recovery on the next startup.
func (w *worker) interrupted(ctx context.Context, record domain.TransactionRecord) bool {
	if ctx.Err() == nil {
		return false
	}

	logger.Info("lane worker interrupted, leaving record for recovery", logger.Fields{
		"lane":          w.index,
		"transactionId": record.ID,
	})
	return true
}

func (w *worker) fail(ctx context.Context, record domain.TransactionRecord, reason domain.FailureReason, balanceBefore *decimal.Decimal) {
	err := w.withRetry(ctx, func(ctx context.Context) error {
		return w.transactions.MarkFailed(ctx, record.ID, reason, balanceBefore)
	})
	if err != nil {
		// The record stays PROCESSING and is reconciled on the next
		// startup. Never dropped silently.
		logger.Error("lane worker could not mark transaction failed", err, logger.Fields{
			"lane":          w.index,
			"transactionId": record.ID,
			"reason":        string(reason),
		})
		return
	}

	logger.Info("lane worker failed transaction", logger.Fields{
		"lane":          w.index,
		"transactionId": record.ID,
		"reason":        string(reason),
	})
}

// withRetry runs op up to maxAttempts times, sleeping per the configured
// strategy between attempts. Invalid transitions are not retried: they mean
// another actor already moved the record.
func (w *worker) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		if attempt == w.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelay.Delay(attempt)):
		}
	}

	return err
}
