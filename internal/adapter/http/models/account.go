package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type CreateAccountRequest struct {
	AccountID      string `json:"accountId"`
	DisplayName    string `json:"displayName"`
	InitialBalance string `json:"initialBalance,omitempty"`
	Currency       string `json:"currency"`
}

func (r CreateAccountRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.AccountID) == "" {
		errs = append(errs, "accountId is required")
	}

	if strings.TrimSpace(r.DisplayName) == "" {
		errs = append(errs, "displayName is required")
	}

	if strings.TrimSpace(r.Currency) == "" {
		errs = append(errs, "currency is required")
	}

	if strings.TrimSpace(r.InitialBalance) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(r.InitialBalance))
		if err != nil {
			errs = append(errs, "initialBalance must be numeric")
		} else if parsed.IsNegative() {
			errs = append(errs, "initialBalance cannot be negative")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

type CreateAccountResponse struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Balance     string `json:"balance"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type GetAccountResponse struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Balance     string `json:"balance"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type GetBalanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
}
