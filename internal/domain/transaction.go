package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Transaction is a single deposit or withdrawal against a user's wallet.
// It is created pending and transitions exactly once to completed or failed.
type Transaction struct {
	ID        string
	UserID    string
	Kind      TransactionKind
	Amount    decimal.Decimal
	Provider  string
	Phone     string
	Status    TransactionStatus
	Reference string
	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}
