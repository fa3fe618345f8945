package engine_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/domain"
)

// memStore is an in-memory Account Store and Transaction Ledger used by the
// engine tests. Its two views (memAccounts, memLedger) share one lock and
// enforce the same transition guards as the postgres implementation. It
// supports fault injection for the store-retry paths.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	records  map[string]domain.TransactionRecord
	byKey    map[string]string
	order    []string

	// completeFailures makes the next n Complete calls fail.
	completeFailures int
	// processingGate, when set, blocks MarkProcessing until closed.
	processingGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]domain.Account),
		records:  make(map[string]domain.TransactionRecord),
		byKey:    make(map[string]string),
	}
}

func (m *memStore) accountView() *memAccounts { return &memAccounts{s: m} }
func (m *memStore) ledgerView() *memLedger    { return &memLedger{s: m} }

func (m *memStore) addAccount(id, balance string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.accounts[id] = domain.Account{
		ID:          id,
		DisplayName: id,
		Balance:     decimal.RequireFromString(balance),
		Currency:    domain.CurrencyUSD,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *memStore) addRecord(record domain.TransactionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.records[record.ID] = record
	m.byKey[record.IdempotencyKey] = record.ID
	m.order = append(m.order, record.ID)
}

func (m *memStore) balance(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.accounts[id].Balance
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}

func (m *memStore) failNextCompletes(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completeFailures = n
}

func (m *memStore) gateProcessing() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processingGate = make(chan struct{})
	return m.processingGate
}

// memAccounts implements repo_interfaces.AccountRepository.
type memAccounts struct {
	s *memStore
}

func (a *memAccounts) Create(_ context.Context, account domain.Account) (domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, ok := a.s.accounts[account.ID]; ok {
		return domain.Account{}, domain.ErrAccountExists
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	a.s.accounts[account.ID] = account
	return account, nil
}

func (a *memAccounts) GetByID(_ context.Context, id string) (domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	account, ok := a.s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrRecordNotFound
	}
	return account, nil
}

func (a *memAccounts) GetByDisplayName(_ context.Context, displayName string) (domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for _, account := range a.s.accounts {
		if account.DisplayName == displayName {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrRecordNotFound
}

func (a *memAccounts) UpdateBalance(_ context.Context, id string, newBalance decimal.Decimal) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	account, ok := a.s.accounts[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	account.Balance = newBalance
	account.UpdatedAt = time.Now().UTC()
	a.s.accounts[id] = account
	return nil
}

// memLedger implements repo_interfaces.TransactionRepository.
type memLedger struct {
	s *memStore
}

func (l *memLedger) Append(_ context.Context, record domain.TransactionRecord) (domain.TransactionRecord, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if _, ok := l.s.byKey[record.IdempotencyKey]; ok {
		return domain.TransactionRecord{}, domain.ErrDuplicateIdempotencyKey
	}

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	l.s.records[record.ID] = record
	l.s.byKey[record.IdempotencyKey] = record.ID
	l.s.order = append(l.s.order, record.ID)
	return record, nil
}

func (l *memLedger) GetByID(_ context.Context, id string) (domain.TransactionRecord, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	record, ok := l.s.records[id]
	if !ok {
		return domain.TransactionRecord{}, domain.ErrRecordNotFound
	}
	return record, nil
}

func (l *memLedger) GetByIdempotencyKey(_ context.Context, key string) (domain.TransactionRecord, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	id, ok := l.s.byKey[key]
	if !ok {
		return domain.TransactionRecord{}, domain.ErrRecordNotFound
	}
	return l.s.records[id], nil
}

func (l *memLedger) MarkProcessing(ctx context.Context, id string) error {
	l.s.mu.Lock()
	gate := l.s.processingGate
	l.s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	record, ok := l.s.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if !record.Status.CanTransitionTo(domain.TransactionStatusProcessing) {
		return domain.ErrInvalidTransition
	}
	record.Status = domain.TransactionStatusProcessing
	record.UpdatedAt = time.Now().UTC()
	l.s.records[id] = record
	return nil
}

func (l *memLedger) Complete(_ context.Context, id string, accountID string, balanceBefore, balanceAfter decimal.Decimal) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if l.s.completeFailures > 0 {
		l.s.completeFailures--
		return fmt.Errorf("injected store fault")
	}

	record, ok := l.s.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if record.Status != domain.TransactionStatusProcessing {
		return domain.ErrInvalidTransition
	}

	account, ok := l.s.accounts[accountID]
	if !ok {
		return domain.ErrRecordNotFound
	}

	now := time.Now().UTC()
	record.Status = domain.TransactionStatusCompleted
	record.BalanceBefore = &balanceBefore
	record.BalanceAfter = &balanceAfter
	record.ProcessedAt = &now
	record.UpdatedAt = now
	l.s.records[id] = record

	account.Balance = balanceAfter
	account.UpdatedAt = now
	l.s.accounts[accountID] = account
	return nil
}

func (l *memLedger) MarkFailed(_ context.Context, id string, reason domain.FailureReason, balanceBefore *decimal.Decimal) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	record, ok := l.s.records[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if record.Status != domain.TransactionStatusProcessing {
		return domain.ErrInvalidTransition
	}

	now := time.Now().UTC()
	record.Status = domain.TransactionStatusFailed
	record.FailureReason = &reason
	record.BalanceBefore = balanceBefore
	record.ProcessedAt = &now
	record.UpdatedAt = now
	l.s.records[id] = record
	return nil
}

func (l *memLedger) ListUnfinished(_ context.Context) ([]domain.TransactionRecord, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var records []domain.TransactionRecord
	for _, id := range l.s.order {
		record := l.s.records[id]
		if !record.Status.Terminal() {
			records = append(records, record)
		}
	}
	return records, nil
}
