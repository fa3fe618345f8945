package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/domain"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	const query = `
INSERT INTO accounts (
	id,
	display_name,
	balance,
	currency
) VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at`

	var createdAt time.Time
	var updatedAt time.Time

	if err := r.db.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.DisplayName,
		account.Balance.String(),
		account.Currency,
	).Scan(&createdAt, &updatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, domain.ErrAccountExists
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt

	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (domain.Account, error) {
	const query = `
SELECT id, display_name, balance, currency, created_at, updated_at
FROM accounts
WHERE id = $1`

	return r.scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByDisplayName(ctx context.Context, displayName string) (domain.Account, error) {
	const query = `
SELECT id, display_name, balance, currency, created_at, updated_at
FROM accounts
WHERE display_name = $1`

	return r.scanAccount(r.db.QueryRowContext(ctx, query, displayName))
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	const query = `
UPDATE accounts
SET balance = $2,
    updated_at = NOW()
WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, newBalance.String())
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update balance rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRecordNotFound
	}

	return nil
}

func (r *AccountRepository) scanAccount(row *sql.Row) (domain.Account, error) {
	var account domain.Account
	var balance string
	var currency string

	if err := row.Scan(
		&account.ID,
		&account.DisplayName,
		&balance,
		&currency,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrRecordNotFound
		}
		return domain.Account{}, fmt.Errorf("scan account: %w", err)
	}

	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse stored balance: %w", err)
	}
	account.Balance = parsed
	account.Currency = domain.Currency(currency)

	return account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}
