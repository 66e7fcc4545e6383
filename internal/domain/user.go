package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a wallet account holder. Balance is only ever mutated by
// transaction settlement and must stay non-negative.
type User struct {
	ID           string
	Email        string
	FullName     string
	Phone        string
	PasswordHash string
	Balance      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
