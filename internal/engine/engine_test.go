package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/api-sage/payment-gateway/internal/backoff"
	"github.com/api-sage/payment-gateway/internal/domain"
	"github.com/api-sage/payment-gateway/internal/engine"
)

func newTestEngine(t *testing.T, store *memStore, opts ...engine.Option) *engine.Engine {
	t.Helper()

	base := []engine.Option{
		engine.WithMaxAttempts(2),
		engine.WithRetryDelay(backoff.NewConstant(time.Millisecond)),
	}
	e := engine.New(store.accountView(), store.ledgerView(), append(base, opts...)...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})

	return e
}

func submit(t *testing.T, e *engine.Engine, accountID string, kind domain.TransactionKind, amount, key string) engine.SubmitResult {
	t.Helper()

	result, err := e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      accountID,
		Kind:           kind,
		Amount:         decimal.RequireFromString(amount),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return result
}

func waitTerminal(t *testing.T, e *engine.Engine, transactionID string) domain.TransactionRecord {
	t.Helper()

	var record domain.TransactionRecord
	require.Eventually(t, func() bool {
		r, err := e.Status(context.Background(), transactionID)
		if err != nil {
			return false
		}
		record = r
		return record.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond, "transaction %s never reached a terminal status", transactionID)

	return record
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store)

	_, err := e.Submit(context.Background(), engine.SubmitRequest{})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      "A1",
		Kind:           domain.TransactionKindDeposit,
		Amount:         decimal.RequireFromString("-5"),
		IdempotencyKey: "k",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitUnknownAccount(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store)

	_, err := e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      "missing",
		Kind:           domain.TransactionKindDeposit,
		Amount:         decimal.RequireFromString("10"),
		IdempotencyKey: "k1",
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	require.Equal(t, 0, store.recordCount())
}

func TestDepositsAndWithdrawalsSettleBalance(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "100")
	e := newTestEngine(t, store)

	d1 := submit(t, e, "A1", domain.TransactionKindDeposit, "10.00", "d1")
	d2 := submit(t, e, "A1", domain.TransactionKindDeposit, "20.00", "d2")
	w1 := submit(t, e, "A1", domain.TransactionKindWithdraw, "50.00", "w1")

	for _, id := range []string{d1.TransactionID, d2.TransactionID, w1.TransactionID} {
		record := waitTerminal(t, e, id)
		require.Equal(t, domain.TransactionStatusCompleted, record.Status)
		require.NotNil(t, record.BalanceBefore)
		require.NotNil(t, record.BalanceAfter)
		require.NotNil(t, record.ProcessedAt)
	}

	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("80")),
		"expected balance 80, got %s", store.balance("A1"))
}

func TestWithdrawalInsufficientFunds(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "10")
	e := newTestEngine(t, store)

	result := submit(t, e, "A1", domain.TransactionKindWithdraw, "100.00", "w1")
	record := waitTerminal(t, e, result.TransactionID)

	require.Equal(t, domain.TransactionStatusFailed, record.Status)
	require.NotNil(t, record.FailureReason)
	require.Equal(t, domain.FailureInsufficientFunds, *record.FailureReason)
	require.Nil(t, record.BalanceAfter)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("10")))
}

func TestConcurrentDuplicateKeyYieldsOneRecord(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "0")
	e := newTestEngine(t, store)

	const callers = 20
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.Submit(context.Background(), engine.SubmitRequest{
				AccountID:      "A1",
				Kind:           domain.TransactionKindDeposit,
				Amount:         decimal.RequireFromString("50.00"),
				IdempotencyKey: "dup",
			})
			ids[i], errs[i] = result.TransactionID, err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, store.recordCount())

	record := waitTerminal(t, e, ids[0])
	require.Equal(t, domain.TransactionStatusCompleted, record.Status)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("50")))
}

func TestDuplicateDepositAppliedOnce(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "0")
	e := newTestEngine(t, store)

	first := submit(t, e, "A1", domain.TransactionKindDeposit, "50.00", "dup")
	waitTerminal(t, e, first.TransactionID)

	second := submit(t, e, "A1", domain.TransactionKindDeposit, "50.00", "dup")
	require.Equal(t, first.TransactionID, second.TransactionID)
	require.True(t, second.Duplicate)
	require.Equal(t, 1, store.recordCount())
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("50")))
}

func TestConcurrentOverdraftOnlyPrefixSucceeds(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "100")
	e := newTestEngine(t, store)

	const withdrawals = 10
	ids := make([]string, withdrawals)
	errs := make([]error, withdrawals)

	var wg sync.WaitGroup
	for i := range withdrawals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.Submit(context.Background(), engine.SubmitRequest{
				AccountID:      "A1",
				Kind:           domain.TransactionKindWithdraw,
				Amount:         decimal.RequireFromString("30.00"),
				IdempotencyKey: "w" + string(rune('a'+i)),
			})
			ids[i], errs[i] = result.TransactionID, err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	completed := 0
	failed := 0
	for _, id := range ids {
		record := waitTerminal(t, e, id)
		switch record.Status {
		case domain.TransactionStatusCompleted:
			completed++
			require.False(t, record.BalanceAfter.IsNegative(),
				"completed withdrawal left a negative balance")
		case domain.TransactionStatusFailed:
			failed++
			require.Equal(t, domain.FailureInsufficientFunds, *record.FailureReason)
		}
	}

	// 3 x 30 fits into 100; the 4th would overdraft.
	require.Equal(t, 3, completed)
	require.Equal(t, 7, failed)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("10")))
}

func TestConcurrentWithdrawalsNeverOverdraft(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "100")
	e := newTestEngine(t, store)

	r1 := submit(t, e, "A1", domain.TransactionKindWithdraw, "60.00", "k1")
	r2 := submit(t, e, "A1", domain.TransactionKindWithdraw, "70.00", "k2")

	first := waitTerminal(t, e, r1.TransactionID)
	second := waitTerminal(t, e, r2.TransactionID)

	statuses := []domain.TransactionStatus{first.Status, second.Status}
	require.Contains(t, statuses, domain.TransactionStatusCompleted)
	require.Contains(t, statuses, domain.TransactionStatusFailed)

	balance := store.balance("A1")
	require.True(t,
		balance.Equal(decimal.RequireFromString("40")) || balance.Equal(decimal.RequireFromString("30")),
		"expected balance 40 or 30, got %s", balance)
}

func TestOverloadedRejectionReleasesKey(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "0")
	gate := store.gateProcessing()
	e := newTestEngine(t, store, engine.WithLanes(1), engine.WithLaneCapacity(1))

	// First record is dequeued and parks on the gate inside the worker.
	first := submit(t, e, "A1", domain.TransactionKindDeposit, "1.00", "k1")
	require.Eventually(t, func() bool { return e.Depth() == 0 }, time.Second, time.Millisecond)

	// Second fills the lane.
	second := submit(t, e, "A1", domain.TransactionKindDeposit, "1.00", "k2")

	_, err := e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      "A1",
		Kind:           domain.TransactionKindDeposit,
		Amount:         decimal.RequireFromString("1.00"),
		IdempotencyKey: "k3",
	})
	require.ErrorIs(t, err, domain.ErrOverloaded)
	require.Equal(t, 2, store.recordCount())

	close(gate)
	waitTerminal(t, e, first.TransactionID)
	waitTerminal(t, e, second.TransactionID)

	// The rejected key was released and can be resubmitted.
	third := submit(t, e, "A1", domain.TransactionKindDeposit, "1.00", "k3")
	require.False(t, third.Duplicate)
	record := waitTerminal(t, e, third.TransactionID)
	require.Equal(t, domain.TransactionStatusCompleted, record.Status)
}

func TestStoreFaultMarksFailedAfterBoundedRetries(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "100")
	e := newTestEngine(t, store)

	store.failNextCompletes(2) // matches WithMaxAttempts(2)
	result := submit(t, e, "A1", domain.TransactionKindWithdraw, "40.00", "w1")
	record := waitTerminal(t, e, result.TransactionID)

	require.Equal(t, domain.TransactionStatusFailed, record.Status)
	require.Equal(t, domain.FailureStoreUnavailable, *record.FailureReason)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("100")))

	// The store recovered; fresh submissions complete.
	next := submit(t, e, "A1", domain.TransactionKindWithdraw, "40.00", "w2")
	record = waitTerminal(t, e, next.TransactionID)
	require.Equal(t, domain.TransactionStatusCompleted, record.Status)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("60")))
}

func TestRecoveryReenqueuesUnfinishedRecords(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "100")
	store.addRecord(domain.TransactionRecord{
		ID:             "tx-pending",
		AccountID:      "A1",
		Amount:         decimal.RequireFromString("50.00"),
		Kind:           domain.TransactionKindDeposit,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: "k1",
	})
	store.addRecord(domain.TransactionRecord{
		ID:             "tx-processing",
		AccountID:      "A1",
		Amount:         decimal.RequireFromString("30.00"),
		Kind:           domain.TransactionKindWithdraw,
		Status:         domain.TransactionStatusProcessing,
		IdempotencyKey: "k2",
	})

	e := newTestEngine(t, store)

	require.Equal(t, domain.TransactionStatusCompleted, waitTerminal(t, e, "tx-pending").Status)
	require.Equal(t, domain.TransactionStatusCompleted, waitTerminal(t, e, "tx-processing").Status)
	require.True(t, store.balance("A1").Equal(decimal.RequireFromString("120")))

	// Recovery seeded the registry: the old keys still collapse.
	result := submit(t, e, "A1", domain.TransactionKindDeposit, "50.00", "k1")
	require.True(t, result.Duplicate)
	require.Equal(t, "tx-pending", result.TransactionID)
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "0")
	e := engine.New(store.accountView(), store.ledgerView())
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	_, err := e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      "A1",
		Kind:           domain.TransactionKindDeposit,
		Amount:         decimal.RequireFromString("1.00"),
		IdempotencyKey: "k1",
	})
	require.ErrorIs(t, err, domain.ErrEngineStopped)
	require.False(t, e.Running())
}

func TestAdmissionRateLimiterRejectsBurst(t *testing.T) {
	store := newMemStore()
	store.addAccount("A1", "0")
	e := newTestEngine(t, store, engine.WithAdmissionRate(0.001, 1))

	first := submit(t, e, "A1", domain.TransactionKindDeposit, "1.00", "k1")
	waitTerminal(t, e, first.TransactionID)

	_, err := e.Submit(context.Background(), engine.SubmitRequest{
		AccountID:      "A1",
		Kind:           domain.TransactionKindDeposit,
		Amount:         decimal.RequireFromString("1.00"),
		IdempotencyKey: "k2",
	})
	require.ErrorIs(t, err, domain.ErrOverloaded)
}
