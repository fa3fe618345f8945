package repo_interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/api-sage/payment-gateway/internal/domain"
)

type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByDisplayName(ctx context.Context, displayName string) (domain.Account, error)
	UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error
}
