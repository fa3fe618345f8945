// Package engine implements the asynchronous transaction processing core:
// idempotent admission, per-account ordered lanes, a fixed pool of lane
// workers mutating balances, and the PENDING -> PROCESSING -> terminal
// record lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/api-sage/payment-gateway/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/payment-gateway/internal/backoff"
	"github.com/api-sage/payment-gateway/internal/domain"
	"github.com/api-sage/payment-gateway/internal/logger"
)

const defaultLanes = 5
const defaultLaneCapacity = 1024
const defaultMaxAttempts = 3

type SubmitRequest struct {
	AccountID      string
	Kind           domain.TransactionKind
	Amount         decimal.Decimal
	IdempotencyKey string
}

func (r SubmitRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.AccountID) == "" {
		errs = append(errs, "accountId is required")
	}
	if r.Kind != domain.TransactionKindDeposit && r.Kind != domain.TransactionKindWithdraw {
		errs = append(errs, "kind must be DEPOSIT or WITHDRAW")
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "amount must be greater than zero")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		errs = append(errs, "idempotencyKey is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

type SubmitResult struct {
	TransactionID string
	Duplicate     bool
}

// Engine owns the coordination state of one processing authority: the
// idempotency registry, the dispatch router and the lanes. Durable state
// lives behind the injected repositories.
type Engine struct {
	accounts     repo_interfaces.AccountRepository
	transactions repo_interfaces.TransactionRepository

	registry *Registry
	router   Router
	lanes    []*lane

	laneCapacity int
	maxAttempts  int
	retryDelay   backoff.Strategy
	limiter      *rate.Limiter

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	hardCancel context.CancelFunc
	wg         sync.WaitGroup
}

type Option func(*Engine)

// WithLanes sets the number of per-account ordered lanes.
func WithLanes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.router = NewRouter(n)
		}
	}
}

// WithLaneCapacity bounds each lane's queue. A full lane rejects
// submissions with domain.ErrOverloaded.
func WithLaneCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.laneCapacity = n
		}
	}
}

// WithMaxAttempts bounds retries of durable-store operations per step.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay strategy between store retries.
func WithRetryDelay(strategy backoff.Strategy) Option {
	return func(e *Engine) {
		if strategy != nil {
			e.retryDelay = strategy
		}
	}
}

// WithAdmissionRate caps accepted submissions per second with a token
// bucket. An empty bucket rejects with domain.ErrOverloaded. Zero disables
// the limiter.
func WithAdmissionRate(perSecond float64, burst int) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func New(
	accounts repo_interfaces.AccountRepository,
	transactions repo_interfaces.TransactionRepository,
	opts ...Option,
) *Engine {
	e := &Engine{
		accounts:     accounts,
		transactions: transactions,
		registry:     NewRegistry(),
		router:       NewRouter(defaultLanes),
		laneCapacity: defaultLaneCapacity,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   backoff.NewExponential(50*time.Millisecond, time.Second),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.lanes = make([]*lane, e.router.Lanes())
	for i := range e.lanes {
		e.lanes[i] = newLane(e.laneCapacity)
	}

	return e
}

// Start reconciles records left over from an unclean shutdown and launches
// one worker goroutine per lane.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	if err := e.recover(ctx); err != nil {
		return fmt.Errorf("recover unfinished transactions: %w", err)
	}

	e.stopCh = make(chan struct{})
	hardCtx, cancel := context.WithCancel(context.Background())
	e.hardCancel = cancel
	e.running = true

	logger.Info("transaction engine starting", logger.Fields{
		"lanes":        e.router.Lanes(),
		"laneCapacity": e.laneCapacity,
	})

	for i, l := range e.lanes {
		w := &worker{
			index:        i,
			lane:         l,
			accounts:     e.accounts,
			transactions: e.transactions,
			maxAttempts:  e.maxAttempts,
			retryDelay:   e.retryDelay,
			stopCh:       e.stopCh,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run(hardCtx)
		}()
	}

	return nil
}

// Stop signals all lane workers to finish their current record and exit.
// If the context expires before they drain, in-flight store operations are
// cancelled and remaining records are left for recovery on the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	hardCancel := e.hardCancel
	e.mu.Unlock()

	logger.Info("transaction engine stopping", logger.Fields{
		"queued": e.Depth(),
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("transaction engine stopped", nil)
	case <-ctx.Done():
		logger.Error("transaction engine shutdown timed out, cancelling workers", ctx.Err(), nil)
		hardCancel()
		<-done
	}

	hardCancel()
	return nil
}

// Submit performs the synchronous admission phase: validation, account
// existence, idempotent registration, lane reservation and the durable
// PENDING append. It returns as soon as the record is enqueued; execution
// outcomes are visible through Status.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitResult{}, err
	}

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return SubmitResult{}, domain.ErrEngineStopped
	}

	accountID := strings.TrimSpace(req.AccountID)
	key := strings.TrimSpace(req.IdempotencyKey)

	if _, err := e.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return SubmitResult{}, domain.ErrAccountNotFound
		}
		return SubmitResult{}, fmt.Errorf("check account: %w", err)
	}

	txID, duplicate, err := e.registry.Admit(key, func() (string, error) {
		return e.admit(ctx, accountID, key, req)
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if duplicate {
		logger.Info("engine duplicate submission collapsed", logger.Fields{
			"transactionId": txID,
			"accountId":     accountID,
		})
	}

	return SubmitResult{TransactionID: txID, Duplicate: duplicate}, nil
}

// admit runs exactly once per accepted idempotency key: it reserves lane
// capacity, durably appends the PENDING record and enqueues it.
func (e *Engine) admit(ctx context.Context, accountID, key string, req SubmitRequest) (string, error) {
	if e.limiter != nil && !e.limiter.Allow() {
		return "", domain.ErrOverloaded
	}

	l := e.lanes[e.router.Route(accountID)]
	if !l.Reserve() {
		return "", domain.ErrOverloaded
	}

	record := domain.TransactionRecord{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Amount:         req.Amount,
		Kind:           req.Kind,
		Status:         domain.TransactionStatusPending,
		IdempotencyKey: key,
	}

	created, err := e.transactions.Append(ctx, record)
	if err != nil {
		l.Cancel()
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// Key was used before this process started; the in-memory
			// registry had no entry but the ledger does.
			existing, lookupErr := e.transactions.GetByIdempotencyKey(ctx, key)
			if lookupErr != nil {
				return "", fmt.Errorf("resolve duplicate idempotency key: %w", lookupErr)
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("%w: append transaction: %v", domain.ErrStoreUnavailable, err)
	}

	l.Push(created)

	logger.Info("engine admitted transaction", logger.Fields{
		"transactionId": created.ID,
		"accountId":     accountID,
		"kind":          string(created.Kind),
		"amount":        created.Amount.StringFixed(2),
	})

	return created.ID, nil
}

// Status returns the durable record for a transaction id.
func (e *Engine) Status(ctx context.Context, transactionID string) (domain.TransactionRecord, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.TransactionRecord{}, fmt.Errorf("%w: transactionId is required", domain.ErrValidation)
	}

	return e.transactions.GetByID(ctx, strings.TrimSpace(transactionID))
}

// Depth returns the total number of queued records across all lanes.
func (e *Engine) Depth() int {
	total := 0
	for _, l := range e.lanes {
		total += l.Len()
	}
	return total
}

// Running reports whether the lane workers are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// recover re-enqueues records that were PENDING or PROCESSING when the
// previous process exited. Complete applies the balance and the terminal
// status in one durable transaction, so a record still PROCESSING here
// provably never touched its account balance and is safe to re-run.
func (e *Engine) recover(ctx context.Context) error {
	records, err := e.transactions.ListUnfinished(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		e.registry.Publish(record.IdempotencyKey, record.ID)
		e.lanes[e.router.Route(record.AccountID)].Restore(record)
	}

	if len(records) > 0 {
		logger.Info("engine recovered unfinished transactions", logger.Fields{
			"count": len(records),
		})
	}

	return nil
}
