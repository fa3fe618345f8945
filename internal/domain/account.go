package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
)

func ParseCurrency(raw string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(raw))); c {
	case CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyJPY:
		return c, nil
	default:
		return "", fmt.Errorf("currency must be one of INR, USD, EUR, GBP, JPY")
	}
}

type Account struct {
	ID          string
	DisplayName string
	Balance     decimal.Decimal
	Currency    Currency
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
