package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/domain"
	"github.com/api-sage/payment-gateway/internal/logger"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Append(ctx context.Context, record domain.TransactionRecord) (domain.TransactionRecord, error) {
	const query = `
INSERT INTO transactions (
	id,
	account_id,
	amount,
	kind,
	status,
	idempotency_key
) VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at`

	var createdAt time.Time
	var updatedAt time.Time

	if err := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.AccountID,
		record.Amount.String(),
		record.Kind,
		record.Status,
		record.IdempotencyKey,
	).Scan(&createdAt, &updatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.TransactionRecord{}, domain.ErrDuplicateIdempotencyKey
		}
		return domain.TransactionRecord{}, fmt.Errorf("append transaction: %w", err)
	}

	record.CreatedAt = createdAt
	record.UpdatedAt = updatedAt

	return record, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (domain.TransactionRecord, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.TransactionRecord, error) {
	return r.getBy(ctx, `WHERE idempotency_key = $1`, key)
}

func (r *TransactionRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `
UPDATE transactions
SET status = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ($3, $2)`

	result, err := r.db.ExecContext(ctx, query, id,
		domain.TransactionStatusProcessing, domain.TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("mark transaction processing: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark transaction processing rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrInvalidTransition
	}

	return nil
}

// Complete writes the account's new balance and the terminal COMPLETED state
// of the record inside one transaction. A record whose status is still
// PROCESSING after a crash therefore never had its balance applied.
func (r *TransactionRepository) Complete(ctx context.Context, id string, accountID string, balanceBefore, balanceAfter decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete transaction: %w", err)
	}

	const updateRecord = `
UPDATE transactions
SET status = $2,
    balance_before = $3,
    balance_after = $4,
    processed_at = NOW(),
    updated_at = NOW()
WHERE id = $1
  AND status = $5`

	result, err := tx.ExecContext(ctx, updateRecord, id,
		domain.TransactionStatusCompleted,
		balanceBefore.String(),
		balanceAfter.String(),
		domain.TransactionStatusProcessing,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete transaction record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete transaction rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return domain.ErrInvalidTransition
	}

	const updateAccount = `
UPDATE accounts
SET balance = $2,
    updated_at = NOW()
WHERE id = $1`

	if _, err := tx.ExecContext(ctx, updateAccount, accountID, balanceAfter.String()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete transaction apply balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete transaction: %w", err)
	}

	logger.Info("transaction repository completed record", logger.Fields{
		"transactionId": id,
		"accountId":     accountID,
	})

	return nil
}

func (r *TransactionRepository) MarkFailed(ctx context.Context, id string, reason domain.FailureReason, balanceBefore *decimal.Decimal) error {
	const query = `
UPDATE transactions
SET status = $2,
    failure_reason = $3,
    balance_before = $4,
    processed_at = NOW(),
    updated_at = NOW()
WHERE id = $1
  AND status = $5`

	var before sql.NullString
	if balanceBefore != nil {
		before = sql.NullString{String: balanceBefore.String(), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, id,
		domain.TransactionStatusFailed, string(reason), before,
		domain.TransactionStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark transaction failed rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrInvalidTransition
	}

	logger.Info("transaction repository failed record", logger.Fields{
		"transactionId": id,
		"reason":        string(reason),
	})

	return nil
}

func (r *TransactionRepository) ListUnfinished(ctx context.Context) ([]domain.TransactionRecord, error) {
	const query = `
SELECT id, account_id, amount, kind, status, idempotency_key,
       balance_before, balance_after, failure_reason,
       created_at, updated_at, processed_at
FROM transactions
WHERE status IN ($1, $2)
ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query,
		domain.TransactionStatusPending, domain.TransactionStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list unfinished transactions: %w", err)
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished transactions: %w", err)
	}

	return records, nil
}

func (r *TransactionRepository) getBy(ctx context.Context, where string, arg any) (domain.TransactionRecord, error) {
	query := `
SELECT id, account_id, amount, kind, status, idempotency_key,
       balance_before, balance_after, failure_reason,
       created_at, updated_at, processed_at
FROM transactions
` + where

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TransactionRecord{}, domain.ErrRecordNotFound
		}
		return domain.TransactionRecord{}, err
	}

	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.TransactionRecord, error) {
	var (
		record        domain.TransactionRecord
		amount        string
		kind          string
		status        string
		balanceBefore sql.NullString
		balanceAfter  sql.NullString
		failureReason sql.NullString
		processedAt   sql.NullTime
	)

	if err := row.Scan(
		&record.ID,
		&record.AccountID,
		&amount,
		&kind,
		&status,
		&record.IdempotencyKey,
		&balanceBefore,
		&balanceAfter,
		&failureReason,
		&record.CreatedAt,
		&record.UpdatedAt,
		&processedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TransactionRecord{}, err
		}
		return domain.TransactionRecord{}, fmt.Errorf("scan transaction: %w", err)
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("parse stored amount: %w", err)
	}
	record.Amount = parsedAmount
	record.Kind = domain.TransactionKind(kind)
	record.Status = domain.TransactionStatus(status)

	if record.BalanceBefore, err = parseNullDecimal(balanceBefore); err != nil {
		return domain.TransactionRecord{}, err
	}
	if record.BalanceAfter, err = parseNullDecimal(balanceAfter); err != nil {
		return domain.TransactionRecord{}, err
	}
	if failureReason.Valid {
		reason := domain.FailureReason(failureReason.String)
		record.FailureReason = &reason
	}
	if processedAt.Valid {
		value := processedAt.Time
		record.ProcessedAt = &value
	}

	return record, nil
}

func parseNullDecimal(value sql.NullString) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}

	parsed, err := decimal.NewFromString(value.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored balance: %w", err)
	}
	return &parsed, nil
}
